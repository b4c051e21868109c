package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the per-host gate cannot grant a slot
// within the configured maximum wait.
var ErrRateLimited = errors.New("rate gate wait exceeded")

// HostGate is a per-host token bucket. One limiter exists per host for the
// life of the process, so many extractions against one host serialize at
// the configured rate while distinct hosts proceed independently.
type HostGate struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   float64
	maxWait  time.Duration
}

// NewHostGate builds a gate granting perSec requests per host per second,
// waiting at most maxWait for a slot.
func NewHostGate(perSec float64, maxWait time.Duration) *HostGate {
	if perSec <= 0 {
		perSec = 1
	}
	return &HostGate{
		limiters: make(map[string]*rate.Limiter),
		perSec:   perSec,
		maxWait:  maxWait,
	}
}

// Acquire blocks until the host has a request slot. It fails with
// ErrRateLimited when the wait would exceed the gate's maximum, and with
// the caller's context error when the caller is cancelled first.
func (g *HostGate) Acquire(ctx context.Context, host string) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()
	if err := g.limiterFor(host).Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("host %s: %w", host, ErrRateLimited)
	}
	return nil
}

func (g *HostGate) limiterFor(host string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(g.perSec), 1)
		g.limiters[host] = lim
	}
	return lim
}
