// Package dispatcher routes inbound subscriber messages to the handler
// registered for their envelope type.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/neurallap/companion/internal/channel"
)

var (
	// ErrUnknownCommand is returned for an envelope type nobody handles.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrQueueFull is returned when a buffered handler rejects an event.
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Event is one inbound message from a subscriber. Command is the envelope
// type, Payload the raw envelope payload.
type Event struct {
	Command   string
	Payload   json.RawMessage
	Client    string
	Timestamp time.Time
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*options)

type options struct {
	bufferSize int
	overflow   channel.Policy
	logged     bool
}

// Buffered runs the handler on its own goroutine behind a queue of the
// given size. Dispatch returns "queued" once the event is accepted.
func Buffered(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// Overflow sets what a full Buffered queue does with a new event. The
// default rejects it with ErrQueueFull; channel.DropOldest accepts it and
// discards the oldest queued event instead.
func Overflow(p channel.Policy) Option {
	return func(o *options) {
		o.overflow = p
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(o *options) {
		o.logged = true
	}
}

type worker struct {
	queue channel.Channel[Event]
	done  chan struct{}
}

// Dispatcher routes inbound events to registered handlers. Register all
// handlers before the first Dispatch.
type Dispatcher struct {
	logger Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	unknown   metric.Int64Counter

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	workers  map[string]*worker
	closed   bool
}

// New creates a Dispatcher. Metrics go to the global OTel meter, which is a
// no-op until a provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		workers:  make(map[string]*worker),
		logger:   logger,
	}

	m := meter()
	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Events waiting in a buffered handler queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for cmd, w := range d.workers {
				o.ObserveInt64(d.queueSize, int64(w.queue.Len()),
					metric.WithAttributes(attribute.String("command", cmd)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	if d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Events handled by buffered handlers"),
	); err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Events lost to a full handler queue"),
	); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if d.unknown, err = m.Int64Counter(
		"dispatcher.events.unknown",
		metric.WithDescription("Events whose command has no handler"),
	); err != nil {
		return nil, fmt.Errorf("creating unknown counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given command, replacing any previous one.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	handler := h
	if o.logged {
		handler = d.withLogging(command, handler)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.workers[command]; ok {
		old.queue.Close()
		delete(d.workers, command)
	}
	if o.bufferSize > 0 {
		handler = d.withQueue(command, o.bufferSize, o.overflow, handler)
	}
	d.handlers[command] = handler
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}
	h, ok := d.handlers[e.Command]
	if !ok {
		d.unknown.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", e.Command)))
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}
	return h(e)
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[command]
	return ok
}

// Close stops accepting events and waits for every buffered handler to
// drain its queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	workers := d.workers
	d.workers = make(map[string]*worker)
	d.mu.Unlock()

	for _, w := range workers {
		w.queue.Close()
		<-w.done
	}
}

// withQueue must be called with d.mu held.
func (d *Dispatcher) withQueue(command string, size int, policy channel.Policy, h HandlerFunc) HandlerFunc {
	w := &worker{
		queue: channel.New[Event](size, policy),
		done:  make(chan struct{}),
	}
	d.workers[command] = w

	cmdAttr := metric.WithAttributes(attribute.String("command", command))

	go func() {
		defer close(w.done)
		for e := range w.queue.Receive() {
			if _, err := h(e); err != nil {
				d.logger.Warn("buffered handler failed", "command", command, "client", e.Client, "error", err)
			}
			d.processed.Add(context.Background(), 1, cmdAttr)
		}
	}()

	return func(e Event) (any, error) {
		if w.queue.Offer(e) {
			return "queued", nil
		}
		d.dropped.Add(context.Background(), 1, cmdAttr)
		if policy == channel.DropOldest {
			d.logger.Debug("evicted oldest queued event", "command", command)
			return "queued", nil
		}
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, command)
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "client", e.Client, "bytes", len(e.Payload))

		result, err := h(e)
		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start), "result", result)
		}
		return result, err
	}
}
