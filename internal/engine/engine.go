// Package engine runs the fixed-rate acquisition loop: it probes telemetry
// sources in priority order, reads and normalizes frames, and hands them to
// the publisher without ever blocking on network I/O.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/neurallap/companion/internal/bio"
	"github.com/neurallap/companion/internal/normalize"
	"github.com/neurallap/companion/internal/override"
	"github.com/neurallap/companion/internal/report"
	"github.com/neurallap/companion/internal/source"
	"github.com/neurallap/companion/internal/source/synthetic"
	"github.com/neurallap/companion/internal/timeutil"
	"github.com/neurallap/companion/pkg/core"
)

// Publisher receives the loop's output. Both methods must return without
// waiting on I/O.
type Publisher interface {
	PublishFrame(f core.TelemetryFrame)
	PublishReport(r core.LapReport)
}

// Config controls loop timing.
type Config struct {
	TickRate          int           // Hz
	ProbeInterval     time.Duration // clamped to at most MaxProbeInterval
	SyntheticFallback bool
}

// MaxProbeInterval bounds how long a newly started simulator waits to be
// picked up.
const MaxProbeInterval = time.Second

// DefaultConfig returns a 60 Hz loop probing once a second with synthetic
// fallback enabled.
func DefaultConfig() Config {
	return Config{
		TickRate:          60,
		ProbeInterval:     time.Second,
		SyntheticFallback: true,
	}
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBio merges biometric readings into every frame.
func WithBio(b bio.Source) Option {
	return func(e *Engine) { e.bio = b }
}

// WithFallback replaces the synthetic generator used while no source is
// connected.
func WithFallback(a source.Adapter) Option {
	return func(e *Engine) { e.fallback = a }
}

// Engine is the acquisition loop. Connection state is owned by the loop
// goroutine; other goroutines only see Status snapshots.
type Engine struct {
	cfg        Config
	clock      timeutil.Clock
	logger     *slog.Logger
	adapters   []source.Adapter
	fallback   source.Adapter
	normalizer *normalize.Normalizer
	overrides  *override.Store
	pub        Publisher
	bio        bio.Source
	tracker    *report.Tracker

	state     State
	active    source.Adapter
	closeOnce *sync.Once
	lastProbe time.Time
	probeNow  bool
	start     time.Time

	mu     sync.RWMutex
	status Status

	running  atomic.Bool
	released atomic.Bool
	stop     chan struct{}
	done    chan struct{}

	ticks         metric.Int64Counter
	readFailures  metric.Int64Counter
	probeAttempts metric.Int64Counter
	overruns      metric.Int64Counter
}

// New creates an engine over adapters, given in priority order.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(cfg Config, clock timeutil.Clock, adapters []source.Adapter, n *normalize.Normalizer, o *override.Store, pub Publisher, opts ...Option) (*Engine, error) {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultConfig().TickRate
	}
	if cfg.ProbeInterval <= 0 || cfg.ProbeInterval > MaxProbeInterval {
		cfg.ProbeInterval = MaxProbeInterval
	}

	e := &Engine{
		cfg:        cfg,
		clock:      clock,
		logger:     slog.Default(),
		adapters:   adapters,
		fallback:   synthetic.New(clock),
		normalizer: n,
		overrides:  o,
		pub:        pub,
		tracker:    report.NewTracker(),
		probeNow:   true,
		start:      clock.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.status = Status{State: e.state.String(), Since: e.start}

	m := meter()
	var err error

	e.ticks, err = m.Int64Counter("engine.ticks",
		metric.WithDescription("Total acquisition ticks"))
	if err != nil {
		return nil, fmt.Errorf("creating ticks counter: %w", err)
	}

	e.readFailures, err = m.Int64Counter("engine.read_failures",
		metric.WithDescription("Adapter reads that failed, by error kind"))
	if err != nil {
		return nil, fmt.Errorf("creating read failures counter: %w", err)
	}

	e.probeAttempts, err = m.Int64Counter("engine.probe_attempts",
		metric.WithDescription("Adapter probes, by source"))
	if err != nil {
		return nil, fmt.Errorf("creating probe counter: %w", err)
	}

	e.overruns, err = m.Int64Counter("engine.tick_overruns",
		metric.WithDescription("Ticks that took longer than the tick period"))
	if err != nil {
		return nil, fmt.Errorf("creating overrun counter: %w", err)
	}

	return e, nil
}

// Period is the tick period derived from the configured rate.
func (e *Engine) Period() time.Duration {
	return time.Second / time.Duration(e.cfg.TickRate)
}

// Start launches the loop goroutine. It is a no-op if already running.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.released.Store(false)
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.run()
}

// Stop halts the loop, waits for it to exit and closes every adapter. The
// active adapter is closed exactly once. Stopping an engine that was never
// started only releases the adapters.
func (e *Engine) Stop() {
	if e.running.CompareAndSwap(true, false) {
		close(e.stop)
		<-e.done
		e.logger.Info("Engine stopped")
	}

	active := e.active
	e.disconnect()
	if !e.released.CompareAndSwap(false, true) {
		return
	}
	for _, a := range e.adapters {
		if a != active {
			e.release(a)
		}
	}
	e.release(e.fallback)
}

func (e *Engine) release(a source.Adapter) {
	if err := a.Close(); err != nil {
		e.logger.Warn("Closing source failed", "source", a.Kind(), "error", err)
	}
}

// Running reports whether the loop goroutine is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

func (e *Engine) run() {
	defer close(e.done)

	ticker := e.clock.NewTicker(e.Period())
	defer ticker.Stop()

	e.logger.Info("Engine started", "tick_rate", e.cfg.TickRate, "sources", len(e.adapters))
	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C():
			if !e.running.Load() {
				return
			}
			started := e.clock.Now()
			e.Step(now)
			if e.clock.Since(started) > e.Period() {
				e.overruns.Add(context.Background(), 1)
			}
		}
	}
}

// Step runs a single tick at now. It is called by the loop goroutine and
// directly by tests; it must not be called concurrently with a running loop.
func (e *Engine) Step(now time.Time) {
	ctx := context.Background()
	e.ticks.Add(ctx, 1)
	e.updateStatus(func(s *Status) { s.Ticks++ })

	if e.state.Phase != Connected {
		e.probe(ctx, now)
	}

	if e.state.Phase == Connected {
		r, err := e.active.ReadFrame()
		if err != nil {
			e.fail(ctx, err)
			return
		}
		e.emit(now, r, true, false)
		return
	}

	if !e.cfg.SyntheticFallback {
		return
	}
	r, err := e.fallback.ReadFrame()
	if err != nil {
		e.logger.Warn("Fallback read failed", "source", e.fallback.Kind(), "error", err)
		return
	}
	e.emit(now, r, false, true)
}

// probe tries each adapter in priority order, at most once per probe
// interval unless the previous tick failed a read.
func (e *Engine) probe(ctx context.Context, now time.Time) {
	if !e.probeNow && now.Sub(e.lastProbe) < e.cfg.ProbeInterval {
		return
	}
	e.lastProbe = now
	e.probeNow = false

	for _, a := range e.adapters {
		e.setState(State{Phase: Probing, Source: a.Kind()})
		e.probeAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(a.Kind()))))
		if a.Probe() {
			e.active = a
			e.closeOnce = &sync.Once{}
			e.setState(State{Phase: Connected, Source: a.Kind()})
			e.logger.Info("Source connected", "source", a.Kind())
			return
		}
	}
	e.setState(State{Phase: Disconnected})
}

func (e *Engine) fail(ctx context.Context, err error) {
	kind := classify(err)
	src := e.state.Source

	e.readFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", string(src)),
		attribute.String("kind", kind),
	))
	e.logger.Warn("Source read failed", "source", src, "kind", kind, "error", err)

	e.disconnect()
	e.probeNow = true
	e.setState(State{Phase: Disconnected})
	e.updateStatus(func(s *Status) {
		s.ReadFailures++
		s.LastError = err.Error()
	})
}

// disconnect closes the active adapter exactly once for this activation.
func (e *Engine) disconnect() {
	a, once := e.active, e.closeOnce
	e.active = nil
	if a == nil || once == nil {
		return
	}
	once.Do(func() { e.release(a) })
}

func (e *Engine) emit(now time.Time, r source.Reading, connected, mock bool) {
	in := normalize.Input{
		Reading:   r,
		Overrides: e.overrides.Snapshot(now),
		Connected: connected,
		MockMode:  mock,
		Elapsed:   now.Sub(e.start),
		Wall:      now,
	}
	if e.bio != nil {
		e.bio.Observe(r.Speed*3.6, r.Brake, r.RPM)
		b := e.bio.Reading()
		in.Bio = &b
	}

	f := e.normalizer.Normalize(in)
	e.pub.PublishFrame(f)

	rep, done := e.tracker.Observe(&f)
	if done {
		e.pub.PublishReport(rep)
		e.logger.Info("Lap completed", "lap", rep.Lap, "time", rep.LapTime, "score", rep.PilotScore)
	}

	e.updateStatus(func(s *Status) {
		s.Frames++
		s.MockMode = mock
		if done {
			s.Reports++
		}
	})
}

func (e *Engine) setState(s State) {
	if s == e.state {
		return
	}
	e.state = s
	e.updateStatus(func(st *Status) {
		st.State = s.String()
		st.Source = string(s.Source)
		st.Since = e.clock.Now()
	})
}

func (e *Engine) updateStatus(fn func(*Status)) {
	e.mu.Lock()
	fn(&e.status)
	e.mu.Unlock()
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// State returns the current connection state. Only meaningful from the loop
// goroutine or after Stop.
func (e *Engine) State() State {
	return e.state
}

// LogAttrs returns the current state as log attributes, for use with
// logging.NewContextHandler.
func (e *Engine) LogAttrs() []slog.Attr {
	s := e.Status()
	return []slog.Attr{
		slog.String("engine_state", s.State),
		slog.String("engine_source", s.Source),
	}
}
