package reliability

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	// StateClosed is normal operation, calls flow through.
	StateClosed BreakerState = iota

	// StateOpen means the circuit has tripped and calls fail fast.
	StateOpen

	// StateHalfOpen means a limited number of calls are let through to
	// test whether the dependency has recovered.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is returned when a call is rejected without being invoked.
// Callers should back off and retry later, not immediately resubmit.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig controls when a breaker trips and how it recovers.
type BreakerConfig struct {
	// FailureThreshold is the failure count at which the circuit opens.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// call is allowed through in half-open state.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls bounds how many calls may be attempted while
	// half-open; further calls fail fast until the state settles.
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns the defaults used for cloud-API calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Breaker is a circuit breaker guarding one named operation.
//
// The open->half-open transition is evaluated lazily on the next call
// rather than by a background timer. All state mutation happens under the
// breaker's own lock; breakers for different operations never share one.
type Breaker struct {
	name   string
	config BreakerConfig

	mu             sync.Mutex
	state          BreakerState
	failureCount   int
	successCount   int
	halfOpenCalls  int
	lastFailure    time.Time
	stateChangedAt time.Time
}

// NewBreaker creates a closed breaker for the named operation.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}

	return &Breaker{
		name:           name,
		config:         config,
		state:          StateClosed,
		stateChangedAt: time.Now(),
	}
}

// Call invokes op under the breaker. If the circuit is open (and the
// recovery timeout has not elapsed) or the half-open call budget is spent,
// op is not invoked and ErrCircuitOpen is returned immediately.
func (b *Breaker) Call(op func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := op()
	b.record(err)
	return err
}

// acquire evaluates the current state and reserves a call slot.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.stateChangedAt) > b.config.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.halfOpenCalls = 1
			return nil
		}
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)

	case StateHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.halfOpenCalls++
		return nil

	default:
		return fmt.Errorf("%s: breaker in unknown state %d", b.name, b.state)
	}
}

// record applies the success/failure transition rules.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failureCount++
		b.lastFailure = time.Now()

		// A half-open failure does not re-open the circuit by itself,
		// but the incremented failure count re-trips it at threshold.
		if b.failureCount >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}
		return
	}

	b.successCount++
	switch b.state {
	case StateHalfOpen:
		// First success while half-open closes the circuit.
		b.failureCount = 0
		b.transition(StateClosed)
	case StateClosed:
		b.failureCount = 0
	}
}

func (b *Breaker) transition(state BreakerState) {
	if b.state == state {
		return
	}
	b.state = state
	b.stateChangedAt = time.Now()
	if state != StateHalfOpen {
		b.halfOpenCalls = 0
	}
}

// State returns the breaker's current state without advancing it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// BreakerSet is an injected store of named breakers, created lazily with a
// shared default config. Tests construct their own set instead of sharing
// process-wide state.
type BreakerSet struct {
	defaultConfig BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakerSet creates an empty set with the given default config.
func NewBreakerSet(defaultConfig BreakerConfig) *BreakerSet {
	return &BreakerSet{
		defaultConfig: defaultConfig,
		breakers:      make(map[string]*Breaker),
	}
}

// Get returns the breaker for an operation name, creating it if needed.
func (s *BreakerSet) Get(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, s.defaultConfig)
	s.breakers[name] = b
	return b
}

// States returns the current state of every breaker in the set.
func (s *BreakerSet) States() map[string]BreakerState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[string]BreakerState, len(s.breakers))
	for name, b := range s.breakers {
		states[name] = b.State()
	}
	return states
}
