// Package analytics holds the in-process telemetry buffer and the aggregate
// queries the dashboard reads from it.
package analytics

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"zashboard.app/internal/obs"
)

// DefaultCapacity is the number of events retained before FIFO eviction.
const DefaultCapacity = 10000

var (
	// ErrInvalidEvent is returned by AddEvent for payloads that fail validation.
	ErrInvalidEvent = errors.New("analytics: invalid event")
	// ErrInvalidInput is returned for bad query parameters.
	ErrInvalidInput = errors.New("analytics: invalid input")
)

type record struct {
	ev Event
	ts int64
}

// Store is a bounded, FIFO-evicting event buffer. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	buf     []record
	head    int
	count   int
	evicted uint64

	capacity int
	now      func() time.Time
	loc      *time.Location
	policy   VersionPolicy
	hooks    []func(Event)

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the buffer size. Non-positive values keep the default.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock overrides the time source used for windows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the time zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithVersionPolicy sets the release line used to classify versions.
func WithVersionPolicy(p VersionPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithRand sets the source for placeholder figures.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) {
		if r != nil {
			s.rnd = r
		}
	}
}

// WithIngestHook registers fn to run after every accepted event. Hooks run
// outside the store lock and must not block.
func WithIngestHook(fn func(Event)) Option {
	return func(s *Store) {
		if fn != nil {
			s.hooks = append(s.hooks, fn)
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		capacity: DefaultCapacity,
		now:      time.Now,
		loc:      time.Local,
		policy:   DefaultVersionPolicy,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.buf = make([]record, s.capacity)
	return s
}

// AddEvent validates and appends an event, evicting the oldest one when the
// buffer is full. A missing timestamp is stamped with the current time.
func (s *Store) AddEvent(ev Event) error {
	rec, err := s.prepare(ev)
	if err != nil {
		obs.EventsRejected.Inc()
		return err
	}

	s.mu.Lock()
	evicted := s.appendLocked(rec)
	size := s.count
	s.mu.Unlock()

	obs.EventsIngested.Inc()
	obs.BufferSize.Set(float64(size))
	if evicted {
		obs.EventsEvicted.Inc()
	}
	for _, hook := range s.hooks {
		hook(rec.ev.clone())
	}
	return nil
}

func (s *Store) prepare(ev Event) (record, error) {
	if ev.Name == "" {
		return record{}, fmt.Errorf("%w: event is required", ErrInvalidEvent)
	}
	if ev.Properties == nil {
		return record{}, fmt.Errorf("%w: properties is required", ErrInvalidEvent)
	}
	if uid, ok := ev.Properties[PropUserID].(string); !ok || uid == "" {
		return record{}, fmt.Errorf("%w: properties.user_id must be a non-empty string", ErrInvalidEvent)
	}
	ev = ev.clone()
	var ts int64
	if raw, present := ev.Properties[PropTimestamp]; !present || raw == nil {
		ts = s.now().UnixMilli()
	} else {
		var ok bool
		if ts, ok = ev.Timestamp(); !ok {
			return record{}, fmt.Errorf("%w: properties.timestamp must be epoch milliseconds", ErrInvalidEvent)
		}
	}
	ev.Properties[PropTimestamp] = ts
	return record{ev: ev, ts: ts}, nil
}

func (s *Store) appendLocked(rec record) bool {
	if s.count == s.capacity {
		s.buf[s.head] = rec
		s.head = (s.head + 1) % s.capacity
		s.evicted++
		return true
	}
	s.buf[(s.head+s.count)%s.capacity] = rec
	s.count++
	return false
}

// snapshotLocked returns the buffered records oldest first. Callers must hold mu.
func (s *Store) snapshotLocked() []record {
	out := make([]record, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.buf[(s.head+i)%s.capacity]
	}
	return out
}

func (s *Store) records() []record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Events returns a copy of the buffered events in insertion order.
func (s *Store) Events() []Event {
	recs := s.records()
	out := make([]Event, len(recs))
	for i, r := range recs {
		out[i] = r.ev.clone()
	}
	return out
}

// Len returns the number of buffered events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Evicted returns how many events were dropped for capacity since construction.
func (s *Store) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// Capacity returns the configured buffer size.
func (s *Store) Capacity() int { return s.capacity }

// ClearOldEvents keeps only events with timestamp > cutoffMs and returns how
// many were removed.
func (s *Store) ClearOldEvents(cutoffMs int64) int {
	s.mu.Lock()
	kept := make([]record, 0, s.count)
	for _, r := range s.snapshotLocked() {
		if r.ts > cutoffMs {
			kept = append(kept, r)
		}
	}
	removed := s.count - len(kept)
	clear(s.buf)
	copy(s.buf, kept)
	s.head = 0
	s.count = len(kept)
	s.mu.Unlock()

	obs.BufferSize.Set(float64(len(kept)))
	return removed
}

func (s *Store) random(limit float64) float64 {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return s.rnd.Float64() * limit
}
