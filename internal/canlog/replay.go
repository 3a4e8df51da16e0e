package canlog

import (
	"context"
	"log"
	"time"

	"canb0t/internal/acquire"
	"canb0t/internal/canbus"
)

// Sender is the transmit half of a controller.
type Sender interface {
	Send(id uint32, data []byte) error
}

// Replay re-transmits a captured session onto the bus, preserving the
// recorded inter-frame spacing. rate scales playback speed (2.0 plays
// twice as fast); loop restarts from the first frame until ctx is
// cancelled. Send failures are reported and skipped — a replay is bus
// stimulation, not a durability contract. Returns the number of frames
// put on the bus.
func Replay(ctx context.Context, frames []canbus.Frame, bus Sender, clock acquire.Clock, rate float64, loop bool) int {
	if rate <= 0 {
		rate = 1
	}
	sent := 0
	for {
		var prev uint64
		for i, f := range frames {
			if ctx.Err() != nil {
				return sent
			}
			// Timestamps are monotonic within one session; a backwards
			// step (log stitched from two sessions) gets no delay.
			if i > 0 && f.Timestamp > prev {
				d := time.Duration(float64(f.Timestamp-prev) / rate * float64(time.Millisecond))
				clock.Sleep(ctx, d)
			}
			prev = f.Timestamp
			if err := bus.Send(f.ID, f.Payload()); err != nil {
				log.Printf("[canlog] replay send 0x%X: %v", f.ID, err)
				continue
			}
			sent++
		}
		if !loop || ctx.Err() != nil {
			return sent
		}
	}
}
