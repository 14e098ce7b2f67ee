package crawl

import (
	"context"
	"time"

	"github.com/JakeFAU/feed-archiver/internal/metrics"
)

// Pauser waits between requests to stay under the feed's rate limits.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// TimerPauser sleeps for the delay or until ctx ends.
type TimerPauser struct{}

// Pause implements Pauser.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (e *Engine) pause(ctx context.Context, kind string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	start := time.Now()
	e.deps.Pauser.Pause(ctx, delay)
	metrics.ObservePacingDelay(kind, time.Since(start))
}
