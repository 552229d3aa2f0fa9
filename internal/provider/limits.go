package provider

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// defaultRequestsPerMinute is used for services without an explicit limit.
const defaultRequestsPerMinute = 60

// Limiters is a process-wide pool of per-(user, service) rate limiters.
// Limits are configured as requests per minute per service; each user gets
// an independent token bucket for each service.
type Limiters struct {
	mu       sync.Mutex
	limits   map[string]int
	limiters map[limiterKey]*rate.Limiter
}

type limiterKey struct {
	userID  string
	service string
}

// NewLimiters creates a limiter pool from a service -> requests/minute map.
func NewLimiters(perMinute map[string]int) *Limiters {
	limits := make(map[string]int, len(perMinute))
	for service, rpm := range perMinute {
		limits[service] = rpm
	}
	return &Limiters{
		limits:   limits,
		limiters: make(map[limiterKey]*rate.Limiter),
	}
}

func (l *Limiters) limiterFor(userID, service string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := limiterKey{userID: userID, service: service}
	if lim, ok := l.limiters[key]; ok {
		return lim
	}

	rpm := l.limits[service]
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	lim := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), max(rpm/10, 1))
	l.limiters[key] = lim
	return lim
}

// Acquire blocks until the (user, service) bucket allows one request, or
// ctx is cancelled. A caller holds at most one permit at a time; permits
// are not nested across services.
func (l *Limiters) Acquire(ctx context.Context, userID, service string) error {
	if err := l.limiterFor(userID, service).Wait(ctx); err != nil {
		return eris.Wrapf(err, "provider: rate limit wait for %s", service)
	}
	return nil
}

// Allow reports whether a request could proceed immediately without
// consuming a permit beyond this probe.
func (l *Limiters) Allow(userID, service string) bool {
	return l.limiterFor(userID, service).Allow()
}
