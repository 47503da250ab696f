package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a host's breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// BreakerState is one of closed, open, or half-open.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig configures a single host's circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// DefaultBreakerConfig mirrors the fleet's default.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 30 * time.Second}
}

type breaker struct {
	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	cfg             BreakerConfig
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &breaker{cfg: cfg}
}

func (b *breaker) execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastFailureTime) >= b.cfg.Cooldown {
			b.transition(StateHalfOpen)
			return nil
		}
		return fmt.Errorf("%w: retry after %s", ErrCircuitOpen, b.cfg.Cooldown-time.Since(b.lastFailureTime))
	}
	return nil
}

func (b *breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failureCount++
		b.lastFailureTime = time.Now()
		switch b.state {
		case StateClosed:
			if b.failureCount >= b.cfg.FailureThreshold {
				b.transition(StateOpen)
			}
		case StateHalfOpen:
			b.transition(StateOpen)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *breaker) transition(s BreakerState) {
	b.state = s
	b.failureCount = 0
	b.successCount = 0
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerRegistry holds one breaker per upstream host, created lazily.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	cfg      BreakerConfig
}

// NewBreakerRegistry returns a registry that lazily creates a breaker per
// host using cfg.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*breaker), cfg: cfg}
}

func (r *BreakerRegistry) forHost(host string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[host]
	if !ok {
		b = newBreaker(r.cfg)
		r.breakers[host] = b
	}
	return b
}

// Execute runs fn under host's circuit breaker.
func (r *BreakerRegistry) Execute(host string, fn func() error) error {
	return r.forHost(host).execute(fn)
}

// State reports host's current breaker state, for diagnostics/health.
func (r *BreakerRegistry) State(host string) BreakerState {
	return r.forHost(host).State()
}

// DialWithBreaker composes Dial's retry behavior with host's circuit
// breaker: the breaker gates whether an attempt sequence starts at all,
// and retry governs the attempts within it.
func DialWithBreaker(ctx context.Context, r *BreakerRegistry, retryCfg RetryConfig, host string, fn func() error) error {
	return r.Execute(host, func() error {
		return Dial(ctx, retryCfg, fn)
	})
}
