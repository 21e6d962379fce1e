// Package circuitbreaker stops the discovery engine from hammering a
// job board that keeps failing. One breaker instance tracks every
// source, keyed by source name.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type sourceState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*sourceState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*sourceState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow reports whether the source may be queried. After the cooldown
// one probe is let through; its outcome decides whether the circuit
// closes again or reopens.
func (cb *CircuitBreaker) Allow(source string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[source]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(source string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[source]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(source string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[source]
	if !ok {
		s = &sourceState{}
		cb.states[source] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.clock()
	}
}
