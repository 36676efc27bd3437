package bio

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurallap/companion/internal/timeutil"
)

func TestStressLevel(t *testing.T) {
	assert.Equal(t, StressLow, StressLevel(70))
	assert.Equal(t, StressOptimal, StressLevel(100))
	assert.Equal(t, StressHigh, StressLevel(159))
	assert.Equal(t, StressCritical, StressLevel(160))
}

func TestSimulated_RisesUnderLoadAndRecovers(t *testing.T) {
	s := NewSimulated(8000)
	assert.Equal(t, 70, s.Reading().HeartRate)

	for i := 0; i < 200; i++ {
		s.Observe(300, 1, 8000)
	}
	r := s.Reading()
	assert.Equal(t, 150, r.HeartRate)
	assert.Equal(t, StressHigh, r.StressLevel)
	assert.False(t, r.Connected)

	for i := 0; i < 100; i++ {
		s.Observe(0, 0, 0)
	}
	assert.InDelta(t, 130, s.Reading().HeartRate, 1)
}

func TestDecodeMeasurement(t *testing.T) {
	hr, err := DecodeMeasurement([]byte{0x00, 72})
	require.NoError(t, err)
	assert.Equal(t, 72, hr)

	hr, err = DecodeMeasurement([]byte{0x01, 0x2c, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 300, hr)

	_, err = DecodeMeasurement([]byte{0x01, 0x2c})
	assert.Error(t, err)
	_, err = DecodeMeasurement(nil)
	assert.Error(t, err)
}

func TestMQTTSource_FreshnessFallback(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s := NewMQTTSource(clock, NewSimulated(8000), slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := s.Reading()
	assert.False(t, r.Connected)
	assert.Equal(t, 70, r.HeartRate)

	s.Ingest([]byte{0x00, 142})
	r = s.Reading()
	assert.True(t, r.Connected)
	assert.Equal(t, 142, r.HeartRate)
	assert.Equal(t, StressHigh, r.StressLevel)

	s.Ingest([]byte{0x01})
	assert.Equal(t, 142, s.Reading().HeartRate, "bad packet keeps last value")

	clock.Advance(6 * time.Second)
	assert.False(t, s.Reading().Connected)
}
