// Package breaker implements a per-provider circuit breaker guarding the
// Agent Runner from hammering a provider that is already failing.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow when the breaker is tripped.
var ErrOpen = errors.New("breaker: circuit open")

// Config controls the sliding failure window and cooldown.
type Config struct {
	FailureThreshold int           // failures within Window before tripping
	Window           time.Duration // sliding window for counting failures
	CooldownPeriod   time.Duration // time in Open before probing HalfOpen
}

// DefaultConfig is the shared default for provider breakers.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           2 * time.Minute,
		CooldownPeriod:   60 * time.Second,
	}
}

// Breaker tracks one provider's health. Safe for concurrent use.
type Breaker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	failures     []time.Time
	openedAt     time.Time
	probeInFlight bool
}

// New constructs a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Minute
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = 60 * time.Second
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the current state, advancing Open->HalfOpen if the cooldown
// has elapsed and no probe is already in flight.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeEnterHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeEnterHalfOpenLocked() {
	if b.state == Open && !b.probeInFlight && time.Since(b.openedAt) >= b.cfg.CooldownPeriod {
		b.state = HalfOpen
	}
}

// Allow reports whether a call may proceed. In HalfOpen, only one caller at
// a time is allowed through as the probe; others are rejected until the
// probe resolves via Success or Failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeEnterHalfOpenLocked()

	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
		return nil
	default: // Open
		return ErrOpen
	}
}

// Success records a successful call, closing the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = nil
	b.probeInFlight = false
}

// Failure records a failed call, tripping the breaker if the failure
// threshold within the sliding window is reached, or re-opening
// immediately if the failure occurred during a HalfOpen probe.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.probeInFlight = false
		b.trip()
		return
	}

	now := time.Now()
	b.failures = append(b.failures, now)
	b.failures = pruneOlderThan(b.failures, now.Add(-b.cfg.Window))
	if len(b.failures) >= b.cfg.FailureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.failures = nil
}

func pruneOlderThan(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Registry holds one Breaker per provider name.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry constructs a Registry that lazily creates a Breaker per
// provider with the given shared config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the Breaker for a provider, creating it on first use.
func (r *Registry) For(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[provider]
	if !ok {
		b = New(r.cfg)
		r.breakers[provider] = b
	}
	return b
}
