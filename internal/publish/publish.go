// Package publish hands frames and lap reports from the acquisition loop to
// every outward consumer without ever blocking the loop.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/neurallap/companion/internal/channel"
	"github.com/neurallap/companion/internal/hardware"
	"github.com/neurallap/companion/internal/report"
	"github.com/neurallap/companion/internal/session"
	"github.com/neurallap/companion/internal/storage"
	"github.com/neurallap/companion/pkg/core"
	"github.com/neurallap/companion/pkg/streaming"
)

// DefaultBuffer is the hand-off capacity, a little over 4 s at 60 Hz.
const DefaultBuffer = 256

// Broadcaster delivers an envelope to every subscriber.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// Recorder keeps frames and reports for later analysis.
type Recorder interface {
	RecordFrame(f core.TelemetryFrame) (bool, error)
	RecordReport(r core.LapReport) error
}

// lapRecorder is implemented by storage backends that keep full reports.
type lapRecorder interface {
	RecordLap(ctx context.Context, r core.LapReport, s core.Session) error
}

// Dependencies are the publisher's consumers. Every field but Hub is
// optional.
type Dependencies struct {
	Hub      Broadcaster
	Mapper   *hardware.Mapper
	Hardware []hardware.Sink
	Recorder Recorder
	Store    storage.LapStore
	Session  *session.Context
	ChartDir string
	Logger   *slog.Logger

	Buffer        int
	DeviceTimeout time.Duration
	StoreTimeout  time.Duration
}

// Stats are the publisher's running totals.
type Stats struct {
	Frames  uint64 `json:"frames"`
	Dropped uint64 `json:"dropped"`
	Reports uint64 `json:"reports"`
}

type message struct {
	frame  *core.TelemetryFrame
	report *core.LapReport
}

// Publisher fans frames and reports out from a single network goroutine,
// in the order they were published.
type Publisher struct {
	deps Dependencies
	log  *slog.Logger
	ch   channel.Channel[message]
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	frames  atomic.Uint64
	dropped atomic.Uint64
	reports atomic.Uint64

	publishedCounter metric.Int64Counter
	droppedCounter   metric.Int64Counter
	reportCounter    metric.Int64Counter
}

// New creates a publisher and starts its network goroutine.
func New(deps Dependencies) (*Publisher, error) {
	if deps.Hub == nil {
		return nil, fmt.Errorf("publisher requires a hub")
	}
	if deps.Buffer <= 0 {
		deps.Buffer = DefaultBuffer
	}
	if deps.DeviceTimeout <= 0 {
		deps.DeviceTimeout = 100 * time.Millisecond
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = 5 * time.Second
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Publisher{
		deps: deps,
		log:  log.With("component", "publisher"),
		ch:   channel.New[message](deps.Buffer, channel.DropNewest),
		done: make(chan struct{}),
	}

	m := meter()
	var err error
	if p.publishedCounter, err = m.Int64Counter("publisher.frames.published",
		metric.WithDescription("Frames handed to subscribers")); err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}
	if p.droppedCounter, err = m.Int64Counter("publisher.frames.dropped",
		metric.WithDescription("Frames dropped because the hand-off buffer was full")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if p.reportCounter, err = m.Int64Counter("publisher.reports.published",
		metric.WithDescription("Lap reports handed to subscribers")); err != nil {
		return nil, fmt.Errorf("creating report counter: %w", err)
	}

	go p.run()
	return p, nil
}

// PublishFrame enqueues f. It never blocks; when the buffer is full the
// frame is dropped and counted.
func (p *Publisher) PublishFrame(f core.TelemetryFrame) {
	if !p.enqueue(message{frame: &f}) {
		p.dropped.Add(1)
		p.droppedCounter.Add(context.Background(), 1)
	}
}

// PublishReport enqueues r. It never blocks.
func (p *Publisher) PublishReport(r core.LapReport) {
	if !p.enqueue(message{report: &r}) {
		p.log.Warn("Lap report dropped, publisher buffer full", "lap", r.Lap)
	}
}

func (p *Publisher) enqueue(m message) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	return p.ch.Offer(m)
}

// Stats returns the running totals.
func (p *Publisher) Stats() Stats {
	return Stats{
		Frames:  p.frames.Load(),
		Dropped: p.dropped.Load(),
		Reports: p.reports.Load(),
	}
}

// Close stops accepting messages, delivers what is already queued and
// waits for the network goroutine to exit.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	p.ch.Close()
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for m := range p.ch.Receive() {
		switch {
		case m.frame != nil:
			p.sendFrame(*m.frame)
		case m.report != nil:
			p.sendReport(*m.report)
		}
	}
}

func (p *Publisher) sendFrame(f core.TelemetryFrame) {
	p.deps.Hub.Broadcast(streaming.TypeTelemetryUpdate, f)
	p.frames.Add(1)
	p.publishedCounter.Add(context.Background(), 1)

	if p.deps.Mapper != nil {
		ev := p.deps.Mapper.Map(&f)
		if ev.Light != nil || ev.Haptic != nil {
			p.deps.Hub.Broadcast(streaming.TypeHardwareEvent, ev)
			p.sendHardware(ev)
		}
	}

	if p.deps.Recorder != nil {
		if _, err := p.deps.Recorder.RecordFrame(f); err != nil {
			p.log.Debug("Frame not recorded", "error", err)
		}
	}
}

func (p *Publisher) sendHardware(ev core.HardwareEvents) {
	for _, sink := range p.deps.Hardware {
		ctx, cancel := context.WithTimeout(context.Background(), p.deps.DeviceTimeout)
		err := sink.Send(ctx, ev)
		cancel()
		if err != nil {
			p.log.Debug("Hardware event not delivered", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
}

func (p *Publisher) sendReport(r core.LapReport) {
	p.deps.Hub.Broadcast(streaming.TypeNeuralReport, r)
	p.reports.Add(1)
	p.reportCounter.Add(context.Background(), 1)

	if p.deps.ChartDir != "" {
		path, err := report.WriteChart(p.deps.ChartDir, r)
		if err != nil {
			p.log.Warn("Lap chart not written", "lap", r.Lap, "error", err)
		} else {
			p.log.Info("Lap chart written", "lap", r.Lap, "path", path)
		}
	}

	if p.deps.Recorder != nil {
		if err := p.deps.Recorder.RecordReport(r); err != nil {
			p.log.Debug("Lap report not recorded", "error", err)
		}
	}

	p.persist(r)
}

// persist submits the lap to the store. Failures are logged and dropped.
func (p *Publisher) persist(r core.LapReport) {
	if p.deps.Store == nil || p.deps.Session == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.deps.StoreTimeout)
	defer cancel()

	if err := p.deps.Store.SubmitLap(ctx, p.deps.Session.Submission(r)); err != nil {
		p.log.Warn("Lap submission failed", "lap", r.Lap, "error", err)
	}
	if rec, ok := p.deps.Store.(lapRecorder); ok {
		if err := rec.RecordLap(ctx, r, p.deps.Session.Get()); err != nil {
			p.log.Warn("Lap record failed", "lap", r.Lap, "error", err)
		}
	}
}
