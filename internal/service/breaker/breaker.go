package breaker

import (
	"sync"
	"time"
)

// State of a venue's breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config holds breaker thresholds shared by all venues.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second}
}

type entry struct {
	mu            sync.Mutex
	state         State
	failures      int
	lastChange    time.Time
	trialInFlight bool

	// rolling success history for reliability scoring
	total     int64
	successes int64
}

// Registry holds one breaker per venue. Entries are independent; a venue's
// transitions never block another venue.
type Registry struct {
	cfg Config
	now func() time.Time

	mu sync.RWMutex
	m  map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a breaker registry.
func New(cfg Config, opts ...Option) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	r := &Registry{cfg: cfg, now: time.Now, m: make(map[string]*entry)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register pre-creates an entry for a known venue. Entries live for the
// process lifetime and are never deleted.
func (r *Registry) Register(venueID string) {
	r.get(venueID)
}

func (r *Registry) get(venueID string) *entry {
	r.mu.RLock()
	e, ok := r.m[venueID]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.m[venueID]; ok {
		return e
	}
	e = &entry{state: Closed, lastChange: r.now()}
	r.m[venueID] = e
	return e
}

// Check reports whether a call to the venue is allowed. The only side effect
// is the automatic Open -> HalfOpen transition once the recovery timeout has
// elapsed; HalfOpen admits exactly one trial call at a time.
func (r *Registry) Check(venueID string) bool {
	e := r.get(venueID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now()
	switch e.state {
	case Closed:
		return true
	case Open:
		if now.Sub(e.lastChange) >= r.cfg.RecoveryTimeout {
			e.state = HalfOpen
			e.lastChange = now
			e.trialInFlight = true
			return true
		}
		return false
	default: // HalfOpen
		if e.trialInFlight {
			return false
		}
		e.trialInFlight = true
		return true
	}
}

// Record reports the terminal outcome of one venue call. Success in Closed
// resets the failure counter; failure increments it and may trip the breaker.
// In HalfOpen a successful trial closes the breaker, a failed one reopens it
// and restarts the recovery timer.
func (r *Registry) Record(venueID string, success bool) {
	e := r.get(venueID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.total++
	if success {
		e.successes++
	}

	now := r.now()
	switch e.state {
	case Closed:
		if success {
			e.failures = 0
			return
		}
		e.failures++
		if e.failures >= r.cfg.FailureThreshold {
			e.state = Open
			e.lastChange = now
		}
	case HalfOpen:
		e.trialInFlight = false
		if success {
			e.state = Closed
			e.failures = 0
			e.lastChange = now
		} else {
			e.state = Open
			e.lastChange = now
		}
	case Open:
		// Late result from a call dispatched before the trip; the trip
		// already accounted for this venue's health.
	}
}

// Release gives back an admitted call slot without recording an outcome.
// A HalfOpen trial that was cancelled before reaching a terminal result
// must release its reservation, otherwise no further trial is ever admitted.
func (r *Registry) Release(venueID string) {
	e := r.get(venueID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == HalfOpen {
		e.trialInFlight = false
	}
}

// StateOf returns the current state without mutating it.
func (r *Registry) StateOf(venueID string) State {
	e := r.get(venueID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot summarises one venue's breaker for health reporting.
type Snapshot struct {
	State       State
	Failures    int
	Total       int64
	Successes   int64
	LastChange  time.Time
	SuccessRate float64
}

// SnapshotOf returns a consistent view of a venue's breaker.
func (r *Registry) SnapshotOf(venueID string) Snapshot {
	e := r.get(venueID)
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		State:      e.state,
		Failures:   e.failures,
		Total:      e.total,
		Successes:  e.successes,
		LastChange: e.lastChange,
	}
	if e.total > 0 {
		s.SuccessRate = float64(e.successes) / float64(e.total)
	}
	return s
}
