// Package override holds short-lived operator-injected overlay state.
//
// Every entry expires through two paths that share one predicate: a deferred
// clear scheduled at Set time, and the elapsed >= ttl check applied by Tick,
// Get and Snapshot. An entry is only cleared by the timer scheduled for that
// exact entry, so replacing an entry never lets an old timer clear the new one.
package override

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/neurallap/companion/internal/timeutil"
	"github.com/neurallap/companion/pkg/core"
)

// Kind is an override slot. At most one entry per kind is active.
type Kind int

const (
	Ghost Kind = iota
	BrakeZone
	ApexZone
	SpotterLeft
	SpotterRight
	CoachMessage
	BrakeInput
)

var kindNames = [...]string{
	Ghost:        "ghost",
	BrakeZone:    "brake_zone",
	ApexZone:     "apex_zone",
	SpotterLeft:  "spotter_left",
	SpotterRight: "spotter_right",
	CoachMessage: "coach_message",
	BrakeInput:   "brake_input",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// DefaultTTL is the lifetime of each kind. Zero means until cleared.
var DefaultTTL = map[Kind]time.Duration{
	Ghost:        5 * time.Second,
	BrakeZone:    4 * time.Second,
	ApexZone:     3 * time.Second,
	SpotterLeft:  3 * time.Second,
	SpotterRight: 3 * time.Second,
	CoachMessage: 10 * time.Second,
	BrakeInput:   2 * time.Second,
}

// Brake zone progression.
const (
	brakeStartDistance = 150.0 // m
	brakeClosingSpeed  = 40.0  // m/s
	brakeUrgencyRamp   = 3.0   // s to full urgency
	ghostClosingSpeed  = 10.0  // m/s
)

// Payload is the value stored for one kind.
type Payload interface {
	Kind() Kind
}

// GhostPayload spawns a ghost car that pulls away at ghostClosingSpeed.
type GhostPayload struct {
	Type       string
	LaneOffset float64
	SpeedDiff  float64
}

// BrakePayload starts an AR brake box counting down from 150 m.
type BrakePayload struct{}

// ApexPayload shows an apex corridor.
type ApexPayload struct {
	Type           string
	CurveDirection string
}

// SpotterPayload raises a spotter flag on one side.
type SpotterPayload struct {
	Right bool
}

// CoachPayload is a one-shot coach message.
type CoachPayload struct {
	Text string
}

// BrakeInputPayload forces the brake pedal value.
type BrakeInputPayload struct {
	Level float64
}

func (GhostPayload) Kind() Kind      { return Ghost }
func (BrakePayload) Kind() Kind      { return BrakeZone }
func (ApexPayload) Kind() Kind       { return ApexZone }
func (CoachPayload) Kind() Kind      { return CoachMessage }
func (BrakeInputPayload) Kind() Kind { return BrakeInput }

func (p SpotterPayload) Kind() Kind {
	if p.Right {
		return SpotterRight
	}
	return SpotterLeft
}

// Snapshot is the resolved override state at one instant.
type Snapshot struct {
	Ghost        *core.GhostEvent
	Brake        *core.BrakeZone
	Apex         *core.ApexZone
	SpotterLeft  bool
	SpotterRight bool
	Coach        *core.CoachMessage
	BrakeInput   *float64
}

type entry struct {
	payload Payload
	start   time.Time
	ttl     time.Duration
	gen     uint64
	timer   timeutil.Timer
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.start) >= e.ttl
}

// Store is safe for concurrent use. Its mutex is the only synchronization
// point between the command handler and the acquisition tick.
type Store struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	ttl     map[Kind]time.Duration
	entries map[Kind]*entry
	gen     uint64
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the lifetime of one kind.
func WithTTL(k Kind, d time.Duration) Option {
	return func(s *Store) {
		s.ttl[k] = d
	}
}

// New creates an empty store that schedules expiry on clock.
func New(clock timeutil.Clock, opts ...Option) *Store {
	s := &Store{
		clock:   clock,
		ttl:     make(map[Kind]time.Duration, len(DefaultTTL)),
		entries: make(map[Kind]*entry),
	}
	for k, d := range DefaultTTL {
		s.ttl[k] = d
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set replaces the entry for the payload's kind.
func (s *Store) Set(p Payload) {
	k := p.Kind()

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[k]; ok && old.timer != nil {
		old.timer.Stop()
	}

	s.gen++
	e := &entry{
		payload: p,
		start:   s.clock.Now(),
		ttl:     s.ttl[k],
		gen:     s.gen,
	}
	if e.ttl > 0 {
		gen := e.gen
		e.timer = s.clock.AfterFunc(e.ttl, func() { s.expire(k, gen) })
	}
	s.entries[k] = e
}

// expire is the deferred clear for generation gen of kind k.
func (s *Store) expire(k Kind, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok && e.gen == gen {
		delete(s.entries, k)
	}
}

// Clear removes the entry for k, if any.
func (s *Store) Clear(k Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(k)
}

func (s *Store) removeLocked(k Kind) {
	e, ok := s.entries[k]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, k)
}

// Get returns the active payload for k.
func (s *Store) Get(k Kind) (Payload, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok || e.expired(now) {
		return nil, false
	}
	return e.payload, true
}

// Tick drops every entry that has expired at now.
func (s *Store) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickLocked(now)
}

func (s *Store) tickLocked(now time.Time) {
	for k, e := range s.entries {
		if e.expired(now) {
			s.removeLocked(k)
		}
	}
}

// Snapshot expires stale entries, resolves progress for the rest at now and
// consumes a pending coach message.
func (s *Store) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickLocked(now)

	var snap Snapshot
	for k, e := range s.entries {
		elapsed := now.Sub(e.start).Seconds()
		switch p := e.payload.(type) {
		case GhostPayload:
			snap.Ghost = &core.GhostEvent{
				Active:           true,
				Type:             p.Type,
				RelativeDistance: elapsed * ghostClosingSpeed,
				LaneOffset:       p.LaneOffset,
				SpeedDiff:        p.SpeedDiff,
			}
		case BrakePayload:
			snap.Brake = &core.BrakeZone{
				Active:   true,
				Distance: math.Max(0, brakeStartDistance-elapsed*brakeClosingSpeed),
				Urgency:  math.Min(1, elapsed/brakeUrgencyRamp),
			}
		case ApexPayload:
			snap.Apex = &core.ApexZone{Active: true, Type: p.Type, CurveDirection: p.CurveDirection}
		case SpotterPayload:
			if p.Right {
				snap.SpotterRight = true
			} else {
				snap.SpotterLeft = true
			}
		case CoachPayload:
			snap.Coach = &core.CoachMessage{Text: p.Text}
			s.removeLocked(k)
		case BrakeInputPayload:
			level := p.Level
			snap.BrakeInput = &level
		}
	}
	return snap
}

// Active returns the kinds with a live entry at now, for status reporting.
func (s *Store) Active(now time.Time) []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kinds []Kind
	for k := Ghost; k <= BrakeInput; k++ {
		if e, ok := s.entries[k]; ok && !e.expired(now) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Close stops every pending deferred clear.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		s.removeLocked(k)
	}
}
