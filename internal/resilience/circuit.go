package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine.
type BreakerState int

const (
	// BreakerClosed is the normal operating state.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen allows a single probe call to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls per-provider circuit breaking.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default: 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before allowing a
	// probe. Default: 30s.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns sensible defaults for enrichment providers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// Breaker is a circuit breaker for a single provider. A rejected call
// surfaces as a transient ProviderError so the job queue's normal backoff
// policy applies.
type Breaker struct {
	cfg     BreakerConfig
	service string

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	nowFunc     func() time.Time
}

// NewBreaker creates a circuit breaker for the named provider.
func NewBreaker(service string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, service: service, state: BreakerClosed, nowFunc: time.Now}
}

// Allow reports whether a call may proceed. When the circuit is open it
// returns a transient ProviderError without touching the provider.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.nowFunc().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
			b.state = BreakerHalfOpen
			return nil
		}
		return NewProviderError(KindServerError, b.service, 0, errCircuitOpen)
	default:
		return nil
	}
}

// Record feeds a call outcome into the breaker. Only transient failures
// count toward opening; permanent errors (bad credentials, not found) say
// nothing about provider health.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsTransient(err) {
		b.failures = 0
		if b.state != BreakerClosed {
			b.state = BreakerClosed
		}
		return
	}

	b.failures++
	b.lastFailure = b.nowFunc()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		// A failed probe reopens the circuit.
		b.state = BreakerOpen
	}
}

// State returns the current state, accounting for reset-timeout expiry.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.nowFunc().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

var errCircuitOpen = &circuitOpenError{}

type circuitOpenError struct{}

func (*circuitOpenError) Error() string { return "circuit breaker is open" }

// BreakerPool lazily creates one Breaker per provider service.
type BreakerPool struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerPool creates an empty pool with shared config.
func NewBreakerPool(cfg BreakerConfig) *BreakerPool {
	return &BreakerPool{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for a service, creating it on first use.
func (p *BreakerPool) For(service string) *Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.breakers[service]
	if !ok {
		b = NewBreaker(service, p.cfg)
		p.breakers[service] = b
	}
	return b
}
