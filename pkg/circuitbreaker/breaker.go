// Package circuitbreaker guards calls to remote services that fail in bursts.
package circuitbreaker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/txerr"
)

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name          string
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	logger        logger.Logger
	mu            sync.Mutex
}

// State is a point-in-time view of a breaker
type State struct {
	Name          string    `json:"name"`
	Enabled       bool      `json:"enabled"`
	Open          bool      `json:"open"`
	FailureCount  int       `json:"failure_count"`
	FailThreshold int       `json:"fail_threshold"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
	TripTime      time.Time `json:"trip_time,omitempty"`
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, enabled bool, threshold int, window, resetTimeout time.Duration, log logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:          name,
		enabled:       enabled,
		failThreshold: threshold,
		failureWindow: window,
		resetTimeout:  resetTimeout,
		logger:        log,
	}
}

// Name returns the name of the breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow returns txerr.ErrCircuitOpen while the breaker is tripped
func (cb *CircuitBreaker) Allow() error {
	if cb.IsOpen() {
		return fmt.Errorf("%s: %w", cb.name, txerr.ErrCircuitOpen)
	}
	return nil
}

// RecordFailure records a failure and trips the circuit if threshold is exceeded
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	// If the circuit is already tripped, check if it's time to try again
	if cb.tripped {
		if now.Sub(cb.tripTime) <= cb.resetTimeout {
			return true
		}
		cb.logger.Info("Circuit breaker %s: attempting to reset after timeout", cb.name)
		cb.tripped = false
		cb.failureCount = 0
	}

	// Reset failure count if outside window
	if now.Sub(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.tripped = true
		cb.tripTime = now
		cb.logger.Error("Circuit breaker %s tripped: %d failures in window", cb.name, cb.failureCount)
		return true
	}

	return false
}

// RecordSuccess clears the failure streak
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// If tripped but reset timeout has passed, try again
	if cb.tripped && time.Since(cb.tripTime) > cb.resetTimeout {
		cb.tripped = false
		cb.failureCount = 0
		return false
	}

	return cb.tripped
}

// Reset manually resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.tripped = false
	cb.failureCount = 0
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	open := cb.IsOpen()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		Name:          cb.name,
		Enabled:       cb.enabled,
		Open:          open,
		FailureCount:  cb.failureCount,
		FailThreshold: cb.failThreshold,
		LastFailure:   cb.lastFailure,
		TripTime:      cb.tripTime,
	}
}

// Set is a named collection of breakers
type Set struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewSet creates a set from breakers
func NewSet(breakers ...*CircuitBreaker) *Set {
	s := &Set{breakers: make(map[string]*CircuitBreaker)}
	for _, b := range breakers {
		s.breakers[b.Name()] = b
	}
	return s
}

// Get returns the breaker registered under name
func (s *Set) Get(name string) (*CircuitBreaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.breakers[name]
	return b, ok
}

// States returns the state of every breaker sorted by name
func (s *Set) States() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]State, 0, len(s.breakers))
	for _, b := range s.breakers {
		states = append(states, b.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// ResetAll resets every breaker
func (s *Set) ResetAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.breakers {
		b.Reset()
	}
}
