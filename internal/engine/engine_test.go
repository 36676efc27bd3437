package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurallap/companion/internal/bio"
	"github.com/neurallap/companion/internal/normalize"
	"github.com/neurallap/companion/internal/override"
	"github.com/neurallap/companion/internal/source"
	"github.com/neurallap/companion/internal/source/lmu"
	"github.com/neurallap/companion/internal/source/shm"
	"github.com/neurallap/companion/internal/timeutil"
	"github.com/neurallap/companion/pkg/core"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	mu      sync.Mutex
	kind    source.Kind
	up      bool
	readErr error
	reading source.Reading
	probes  int
	reads   int
	closes  int
}

func (a *fakeAdapter) Kind() source.Kind { return a.kind }

func (a *fakeAdapter) Probe() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probes++
	return a.up
}

func (a *fakeAdapter) ReadFrame() (source.Reading, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads++
	if a.readErr != nil {
		return source.Reading{}, a.readErr
	}
	r := a.reading
	r.Kind = a.kind
	return r, nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes++
	return nil
}

func (a *fakeAdapter) set(fn func(a *fakeAdapter)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

func (a *fakeAdapter) counts() (probes, reads, closes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.probes, a.reads, a.closes
}

type recorder struct {
	mu      sync.Mutex
	frames  []core.TelemetryFrame
	reports []core.LapReport
}

func (r *recorder) PublishFrame(f core.TelemetryFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) PublishReport(rep core.LapReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *recorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) last() core.TelemetryFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

type fixture struct {
	clock     *timeutil.MockClock
	overrides *override.Store
	pub       *recorder
	engine    *Engine
}

func newFixture(t *testing.T, cfg Config, adapters []source.Adapter, opts ...Option) *fixture {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	store := override.New(clock)
	pub := &recorder{}
	e, err := New(cfg, clock, adapters, normalize.New(normalize.DefaultConfig(), nil), store, pub, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return &fixture{clock: clock, overrides: store, pub: pub, engine: e}
}

// step advances one tick and runs it.
func (fx *fixture) step() {
	fx.clock.Advance(fx.engine.Period())
	fx.engine.Step(fx.clock.Now())
}

func TestEngine_SyntheticFallbackWhenNoSource(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)

	fx.step()

	require.Equal(t, 1, fx.pub.frameCount())
	f := fx.pub.last()
	assert.Equal(t, "synthetic", f.Source)
	assert.True(t, f.MockMode)
	assert.False(t, f.Connected)
	assert.Equal(t, Disconnected, fx.engine.State().Phase)
}

func TestEngine_NoFrameWithoutFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyntheticFallback = false
	fx := newFixture(t, cfg, []source.Adapter{&fakeAdapter{kind: source.KindIRacing}})

	for i := 0; i < 10; i++ {
		fx.step()
	}
	assert.Zero(t, fx.pub.frameCount())
}

func TestEngine_ConnectsInPriorityOrder(t *testing.T) {
	a := &fakeAdapter{kind: source.KindIRacing}
	b := &fakeAdapter{kind: source.KindLMU, up: true, reading: source.Reading{Speed: 30}}
	fx := newFixture(t, DefaultConfig(), []source.Adapter{a, b})

	fx.step()

	assert.Equal(t, State{Phase: Connected, Source: source.KindLMU}, fx.engine.State())
	f := fx.pub.last()
	assert.Equal(t, "lmu", f.Source)
	assert.True(t, f.Connected)
	assert.False(t, f.MockMode)
	assert.Equal(t, 30.0, f.Speed)

	probes, _, _ := a.counts()
	assert.Equal(t, 1, probes)
}

func TestEngine_FailoverToNextSource(t *testing.T) {
	a := &fakeAdapter{kind: source.KindIRacing, up: true}
	b := &fakeAdapter{kind: source.KindLMU, up: true}
	cfg := DefaultConfig()
	cfg.SyntheticFallback = false
	fx := newFixture(t, cfg, []source.Adapter{a, b})

	fx.step()
	require.Equal(t, source.KindIRacing, fx.engine.State().Source)
	require.Equal(t, 1, fx.pub.frameCount())

	a.set(func(a *fakeAdapter) {
		a.up = false
		a.readErr = fmt.Errorf("read Speed: %w", source.ErrSourceUnavailable)
	})
	fx.step()

	assert.Equal(t, State{Phase: Disconnected}, fx.engine.State())
	assert.Equal(t, 1, fx.pub.frameCount(), "no frame on the failing tick")
	_, _, closes := a.counts()
	assert.Equal(t, 1, closes)

	// the next tick probes immediately, without waiting the probe interval
	fx.step()
	assert.Equal(t, State{Phase: Connected, Source: source.KindLMU}, fx.engine.State())
	assert.Equal(t, 2, fx.pub.frameCount())
	assert.Equal(t, "lmu", fx.pub.last().Source)

	st := fx.engine.Status()
	assert.Equal(t, uint64(1), st.ReadFailures)
	assert.Contains(t, st.LastError, "source unavailable")
}

func TestEngine_ProbeIsRateLimited(t *testing.T) {
	a := &fakeAdapter{kind: source.KindIRacing}
	fx := newFixture(t, DefaultConfig(), []source.Adapter{a})

	fx.step()
	probes, _, _ := a.counts()
	require.Equal(t, 1, probes)

	// the simulator starts between probes
	a.set(func(a *fakeAdapter) { a.up = true })

	// 60 more ticks land just short of one second after the first probe
	for i := 0; i < 60; i++ {
		fx.step()
	}
	probes, _, _ = a.counts()
	assert.Equal(t, 1, probes, "no probe inside the interval")
	assert.True(t, fx.pub.last().MockMode)

	fx.step()
	probes, _, _ = a.counts()
	assert.Equal(t, 2, probes)
	assert.Equal(t, Connected, fx.engine.State().Phase)
	assert.False(t, fx.pub.last().MockMode)
}

func TestEngine_ProbeIntervalIsClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbeInterval = 10 * time.Second
	fx := newFixture(t, cfg, nil)
	assert.Equal(t, MaxProbeInterval, fx.engine.cfg.ProbeInterval)
}

func lmuSegment(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, lmu.GenericHeader{Version: 3, UpdateBegin: 9, UpdateEnd: 9}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, lmu.TelemetryHeader{PlayerHasVehicle: 1, ActiveVehicles: 1}))
	var vehicles [lmu.MaxVehicles]lmu.VehicleRecord
	vehicles[0] = lmu.VehicleRecord{
		ID:          1,
		Gear:        3,
		OriRight:    [3]float64{1, 0, 0},
		OriUp:       [3]float64{0, 1, 0},
		OriForward:  [3]float64{0, 0, 1},
		LocalVel:    [3]float64{0, 0, 40},
		RPM:         7000,
		LapDist:     250,
		TrackLength: 1000,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, vehicles))
	return buf.Bytes()
}

func TestEngine_LMUVersionZeroDisconnects(t *testing.T) {
	mem := lmuSegment(t)
	adapter := lmu.New(shm.StaticMapper(map[string][]byte{lmu.SegmentName: mem}))
	cfg := DefaultConfig()
	cfg.SyntheticFallback = false
	fx := newFixture(t, cfg, []source.Adapter{adapter})

	fx.step()
	require.Equal(t, State{Phase: Connected, Source: source.KindLMU}, fx.engine.State())
	require.Equal(t, 1, fx.pub.frameCount())
	assert.InDelta(t, 0.25, fx.pub.last().LapDistPct, 1e-9)

	// the game starts tearing down
	binary.LittleEndian.PutUint32(mem, 0)
	fx.step()

	assert.Equal(t, Disconnected, fx.engine.State().Phase)
	assert.Equal(t, 1, fx.pub.frameCount())
	assert.Contains(t, fx.engine.Status().LastError, "malformed reading")

	// still down on the immediate re-probe
	fx.step()
	assert.Equal(t, Disconnected, fx.engine.State().Phase)
	assert.Equal(t, 1, fx.pub.frameCount())
}

func TestEngine_LMUReconnectsAfterStaleSegment(t *testing.T) {
	stale := lmuSegment(t)
	binary.LittleEndian.PutUint32(stale, 0)
	segments := [][]byte{stale, lmuSegment(t)}

	var regions []*shm.Buffer
	adapter := lmu.New(func(name string) (shm.Region, error) {
		b := shm.NewBuffer(segments[min(len(regions), len(segments)-1)])
		regions = append(regions, b)
		return b, nil
	})
	cfg := DefaultConfig()
	cfg.SyntheticFallback = false
	cfg.ProbeInterval = time.Millisecond
	fx := newFixture(t, cfg, []source.Adapter{adapter})

	fx.step()
	require.Equal(t, Disconnected, fx.engine.State().Phase)

	fx.step()
	assert.Equal(t, State{Phase: Connected, Source: source.KindLMU}, fx.engine.State())
	assert.Equal(t, 1, fx.pub.frameCount())
	require.Len(t, regions, 2)
	assert.True(t, regions[0].Closed())

	fx.engine.Stop()
	assert.True(t, regions[1].Closed())
}

func TestEngine_StopClosesEveryAdapter(t *testing.T) {
	a := &fakeAdapter{kind: source.KindIRacing}
	b := &fakeAdapter{kind: source.KindLMU, up: true}
	c := &fakeAdapter{kind: source.KindSynthetic}
	fx := newFixture(t, DefaultConfig(), []source.Adapter{a, b, c})

	fx.step()
	require.Equal(t, source.KindLMU, fx.engine.State().Source)

	fx.engine.Stop()
	fx.engine.Stop()
	for _, ad := range []*fakeAdapter{a, b, c} {
		_, _, closes := ad.counts()
		assert.Equal(t, 1, closes, ad.kind)
	}
}

func TestEngine_FallbackAdapter(t *testing.T) {
	fallback := &fakeAdapter{kind: source.KindSynthetic, reading: source.Reading{Speed: 12}}
	fx := newFixture(t, DefaultConfig(), nil, WithFallback(fallback))

	fx.step()
	require.Equal(t, 1, fx.pub.frameCount())
	assert.True(t, fx.pub.last().MockMode)
	assert.Equal(t, 12.0, fx.pub.last().Speed)

	fallback.set(func(a *fakeAdapter) { a.readErr = assert.AnError })
	fx.step()
	assert.Equal(t, 1, fx.pub.frameCount(), "no frame when the fallback fails")

	fx.engine.Stop()
	_, reads, closes := fallback.counts()
	assert.Equal(t, 2, reads)
	assert.Equal(t, 1, closes)
}

func TestEngine_OverridesReachFrames(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)

	fx.overrides.Set(override.SpotterPayload{})
	fx.step()
	assert.True(t, fx.pub.last().SpotterLeft)

	fx.clock.Advance(3 * time.Second)
	fx.step()
	// the synthetic cue cycle may raise the left spotter on its own, so
	// only check the override is gone
	_, ok := fx.overrides.Get(override.SpotterLeft)
	assert.False(t, ok)
}

func TestEngine_BioMerged(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil, WithBio(bio.NewSimulated(12000)))

	fx.step()
	f := fx.pub.last()
	require.NotNil(t, f.Bio)
	assert.NotEmpty(t, f.Bio.StressLevel)
}

func TestEngine_PublishesLapReport(t *testing.T) {
	a := &fakeAdapter{kind: source.KindLMU, up: true}
	cfg := DefaultConfig()
	cfg.SyntheticFallback = false
	fx := newFixture(t, cfg, []source.Adapter{a})

	for i := 0; i <= 200; i++ {
		a.set(func(a *fakeAdapter) {
			a.reading = source.Reading{
				Speed:      50,
				Lap:        i/100 + 1,
				LapDistPct: float64(i%100) / 100,
			}
		})
		fx.step()
	}

	fx.pub.mu.Lock()
	defer fx.pub.mu.Unlock()
	require.Len(t, fx.pub.reports, 2)
	assert.Equal(t, 1, fx.pub.reports[0].Lap)
	assert.Equal(t, "lmu", fx.pub.reports[0].Source)
	assert.Equal(t, uint64(2), fx.engine.Status().Reports)
}

func TestEngine_TimestampsAreMonotonic(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	for i := 0; i < 5; i++ {
		fx.step()
	}

	fx.pub.mu.Lock()
	defer fx.pub.mu.Unlock()
	for i := 1; i < len(fx.pub.frames); i++ {
		assert.Greater(t, fx.pub.frames[i].Timestamp, fx.pub.frames[i-1].Timestamp)
	}
}

func TestEngine_RunLoopAndStop(t *testing.T) {
	a := &fakeAdapter{kind: source.KindIRacing, up: true}
	fx := newFixture(t, DefaultConfig(), []source.Adapter{a})

	fx.engine.Start()
	fx.engine.Start()
	assert.True(t, fx.engine.Running())

	require.Eventually(t, func() bool {
		fx.clock.Advance(fx.engine.Period())
		return fx.pub.frameCount() >= 3
	}, time.Second, time.Millisecond)

	fx.engine.Stop()
	fx.engine.Stop()
	assert.False(t, fx.engine.Running())

	_, _, closes := a.counts()
	assert.Equal(t, 1, closes, "adapter closed exactly once")
}

func TestEngine_LogAttrs(t *testing.T) {
	a := &fakeAdapter{kind: source.KindIRacing, up: true}
	fx := newFixture(t, DefaultConfig(), []source.Adapter{a})
	fx.step()

	attrs := fx.engine.LogAttrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, "connected(iracing)", attrs[0].Value.String())
	assert.Equal(t, "iracing", attrs[1].Value.String())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "unavailable", classify(fmt.Errorf("x: %w", source.ErrSourceUnavailable)))
	assert.Equal(t, "malformed", classify(source.ErrMalformedReading))
	assert.Equal(t, "configuration", classify(source.ErrConfiguration))
	assert.Equal(t, "unknown", classify(assert.AnError))
}
