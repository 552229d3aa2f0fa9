package resilience

import (
	"errors"
	"testing"
	"time"
)

func transientErr() error {
	return NewProviderError(KindServerError, "apollo", 500, errors.New("boom"))
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("apollo", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		b.Record(transientErr())
	}
	if b.State() != BreakerClosed {
		t.Fatalf("breaker opened below threshold, state=%s", b.State())
	}

	b.Record(transientErr())
	if b.State() != BreakerOpen {
		t.Fatalf("breaker did not open at threshold, state=%s", b.State())
	}

	err := b.Allow()
	if err == nil {
		t.Fatal("open breaker allowed a call")
	}
	if !IsTransient(err) {
		t.Errorf("open-circuit rejection should be transient, got %v", err)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker("hunter", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	b.Record(transientErr())
	b.Record(transientErr())
	b.Record(nil)
	b.Record(transientErr())
	b.Record(transientErr())

	if b.State() != BreakerClosed {
		t.Errorf("success should reset the failure count, state=%s", b.State())
	}
}

func TestBreakerIgnoresPermanentErrors(t *testing.T) {
	b := NewBreaker("clearbit", BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		b.Record(NewProviderError(KindNotFound, "clearbit", 404, nil))
	}
	if b.State() != BreakerClosed {
		t.Errorf("permanent errors must not open the circuit, state=%s", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker("apollo", BreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	b.nowFunc = func() time.Time { return now }

	b.Record(transientErr())
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Before the reset timeout calls are still rejected.
	if err := b.Allow(); err == nil {
		t.Fatal("open breaker allowed a call before reset timeout")
	}

	now = now.Add(31 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("half-open breaker rejected the probe: %v", err)
	}

	// Failed probe reopens.
	b.Record(transientErr())
	if err := b.Allow(); err == nil {
		t.Fatal("breaker did not reopen after failed probe")
	}

	// Successful probe closes.
	now = now.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	b.Record(nil)
	if b.State() != BreakerClosed {
		t.Errorf("successful probe should close the circuit, state=%s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("closed breaker rejected a call: %v", err)
	}
}

func TestBreakerPoolPerService(t *testing.T) {
	pool := NewBreakerPool(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	pool.For("apollo").Record(transientErr())

	if pool.For("apollo").State() != BreakerOpen {
		t.Error("apollo breaker should be open")
	}
	if pool.For("hunter").State() != BreakerClosed {
		t.Error("hunter breaker should be independent")
	}
	if pool.For("apollo") != pool.For("apollo") {
		t.Error("pool should return the same breaker per service")
	}
}
