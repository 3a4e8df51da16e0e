package acquire

import (
	"context"
	"time"
)

// Clock is the loop's time base. The embedded original busy-waits these
// delays; on a hosted runtime they become timer sleeps that also honor
// context cancellation, and tests substitute a fake to run instantly.
type Clock interface {
	// NowMillis returns monotonic milliseconds since boot.
	NowMillis() uint64
	// Sleep pauses for d or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration)
}

type wallClock struct {
	start time.Time
}

// NewClock returns a Clock anchored at the moment of the call.
func NewClock() Clock {
	return &wallClock{start: time.Now()}
}

func (c *wallClock) NowMillis() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

func (c *wallClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
