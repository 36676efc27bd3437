package hardware

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurallap/companion/pkg/core"
)

func TestMapper_Haptic(t *testing.T) {
	m := NewMapper(DefaultConfig())

	ev := m.Map(&core.TelemetryFrame{Brake: 0.9, Speed: 30})
	require.NotNil(t, ev.Haptic)
	assert.Equal(t, 1.0, ev.Haptic.Intensity)
	assert.Equal(t, "brake", ev.Haptic.Motor)

	ev = m.Map(&core.TelemetryFrame{Brake: 0.9, Speed: 10})
	require.NotNil(t, ev.Haptic, "release emits a stop")
	assert.Equal(t, 0.0, ev.Haptic.Intensity)

	ev = m.Map(&core.TelemetryFrame{Brake: 0.9, Speed: 10})
	assert.Nil(t, ev.Haptic)
}

func TestMapper_ShiftLights(t *testing.T) {
	m := NewMapper(DefaultConfig())

	assert.Nil(t, m.Map(&core.TelemetryFrame{RPM: 5000}).Light, "already off")

	ev := m.Map(&core.TelemetryFrame{RPM: 11000})
	require.NotNil(t, ev.Light)
	assert.Equal(t, ColorBlue, ev.Light.Color)
	assert.Equal(t, "rpm", ev.Light.Source)

	assert.Nil(t, m.Map(&core.TelemetryFrame{RPM: 11100}).Light, "unchanged")

	ev = m.Map(&core.TelemetryFrame{RPM: 11500})
	require.NotNil(t, ev.Light)
	assert.Equal(t, ColorRed, ev.Light.Color)

	ev = m.Map(&core.TelemetryFrame{RPM: 3000})
	require.NotNil(t, ev.Light)
	assert.Equal(t, ColorOff, ev.Light.Color)
	assert.Equal(t, "flag", ev.Light.Source)
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestSerialSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewSerialSink(nopCloser{&buf})

	err := s.Send(context.Background(), core.HardwareEvents{
		Light:  &core.LightEvent{Color: ColorRed, Source: "rpm"},
		Haptic: &core.HapticEvent{Motor: "brake", Intensity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "L #FF0000\nH brake 1.00\n", buf.String())
	assert.NoError(t, s.Close())
}

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakePublisher struct {
	topics   []string
	payloads []string
	err      error
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, string(payload.([]byte)))
	return &fakeToken{err: p.err}
}

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	s := newMQTTSink(pub, "neurallap/rig", time.Second)

	err := s.Send(context.Background(), core.HardwareEvents{
		Light:  &core.LightEvent{Color: ColorBlue, Source: "rpm"},
		Haptic: &core.HapticEvent{Type: "pedal_vibration", Motor: "brake", Intensity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"neurallap/rig/light", "neurallap/rig/haptic"}, pub.topics)
	assert.JSONEq(t, `{"color":"#0000FF","source":"rpm"}`, pub.payloads[0])

	pub.err = errors.New("broker gone")
	err = s.Send(context.Background(), core.HardwareEvents{Light: &core.LightEvent{Color: ColorOff}})
	assert.ErrorContains(t, err, "broker gone")
	assert.NoError(t, s.Close())
}
