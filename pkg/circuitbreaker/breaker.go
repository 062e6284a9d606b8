package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	// MaxRequests caps concurrent probes while half-open.
	MaxRequests uint32
	// Interval resets the closed-state failure streak if it elapses
	// without the breaker opening.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold uint32

	Logger *zap.Logger
}

// CircuitBreaker trips after a streak of failures so a struggling
// downstream dependency gets breathing room instead of a retry storm.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    uint32
	successes   uint32
	inflight    uint32
	streakStart time.Time
	openedAt    time.Time
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}

	return &CircuitBreaker{
		name:        name,
		cfg:         cfg,
		state:       StateClosed,
		streakStart: time.Now(),
	}
}

// Execute runs fn if the breaker admits the call, then feeds the outcome
// back into the breaker state. A panic counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := cb.admit(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.record(false)
			panic(r)
		}
	}()

	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	switch cb.refresh(now) {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.inflight >= cb.cfg.MaxRequests {
			return ErrTooManyRequests
		}
	}

	cb.inflight++
	return nil
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.refresh(now)

	if cb.inflight > 0 {
		cb.inflight--
	}

	if success {
		cb.failures = 0
		if state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.transition(StateClosed, now)
			}
		}
		return
	}

	cb.successes = 0
	switch state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		cb.transition(StateOpen, now)
	}
}

// refresh applies time-based transitions and returns the effective state.
// Callers must hold the lock.
func (cb *CircuitBreaker) refresh(now time.Time) State {
	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) >= cb.cfg.Timeout {
			cb.transition(StateHalfOpen, now)
		}
	case StateClosed:
		if cb.cfg.Interval > 0 && now.Sub(cb.streakStart) >= cb.cfg.Interval {
			cb.failures = 0
			cb.streakStart = now
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.streakStart = now
	if to == StateOpen {
		cb.openedAt = now
	}

	if cb.cfg.Logger != nil {
		cb.cfg.Logger.Info("Circuit breaker state changed",
			zap.String("name", cb.name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refresh(time.Now())
}
