package connectors

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer serializes send timing for one connector instance, enforcing a
// minimum interval between consecutive sends. It guards timing only, not
// correctness; each connector owns its own pacer, there is no shared clock.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer builds a pacer for the given minimum inter-send interval.
// A non-positive interval yields a pass-through pacer.
func NewPacer(minInterval time.Duration) *Pacer {
	if minInterval <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Wait blocks until the next send slot or until ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
