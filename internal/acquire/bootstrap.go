package acquire

import (
	"context"
	"fmt"
	"io"
	"log"

	"canb0t/internal/controller"
	"canb0t/internal/logger"
)

// Bootstrap performs the ordered bring-up: the mirror channel is already
// open (the caller owns it — there is nowhere to report a mirror failure
// but the process log), then the durable log stream, then the controller.
//
// A failure at either stage reports once on the mirror and enters the
// halted fault state: deliberately inert rather than retrying, since these
// conditions need physical intervention. The hosted analog of a power
// cycle is process restart, so halt blocks until ctx is cancelled.
func Bootstrap(ctx context.Context, mirror io.Writer, logPath string, rotateMB int, ctrl controller.Controller) (*logger.DualSink, error) {
	sink, err := logger.Open(mirror, logPath, rotateMB)
	if err != nil {
		halt(ctx, mirror, fmt.Sprintf("log open failed: %v", err))
		return nil, err
	}
	if err := ctrl.Init(); err != nil {
		sink.Close()
		halt(ctx, mirror, fmt.Sprintf("controller init failed: %v", err))
		return nil, err
	}
	return sink, nil
}

// halt reports the fault once on the mirror and then performs no further
// work. Fail-stop, not fail-open: logging without a trustworthy stream is
// worse than silence.
func halt(ctx context.Context, mirror io.Writer, msg string) {
	fmt.Fprintln(mirror, msg)
	log.Printf("[acquire] HALT: %s", msg)
	<-ctx.Done()
}
