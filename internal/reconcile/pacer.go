package reconcile

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces download attempts by at least the configured interval. A zero interval
// never waits.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer(every time.Duration) *pacer {
	limit := rate.Inf
	if every > 0 {
		limit = rate.Every(every)
	}
	l := rate.NewLimiter(limit, 1)
	// Start empty so the first attempt is followed by a full interval.
	l.Allow()
	return &pacer{limiter: l}
}

func (p *pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
