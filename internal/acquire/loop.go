package acquire

import (
	"context"
	"log"
	"time"

	"canb0t/internal/canbus"
	"canb0t/internal/config"
	"canb0t/internal/controller"
	"canb0t/internal/logger"
	"canb0t/internal/obd"
)

// Pacing for poll mode. The bus and the responding ECU need settle time,
// and flooding requests would starve other traffic. These are properties of
// the protocol rhythm, not configuration.
const (
	settleDelay   = 10 * time.Millisecond   // after a request, before checking for the response
	interPIDDelay = 100 * time.Millisecond  // between PIDs in one sweep
	cycleDelay    = 1000 * time.Millisecond // after a full sweep
	idleDelay     = time.Millisecond        // sniff backoff on an empty poll
)

// Loop is the acquisition state machine. The mode is fixed at construction;
// there are no runtime transitions.
type Loop struct {
	mode   config.Mode
	strict bool
	ctrl   controller.Controller
	sink   *logger.DualSink
	clock  Clock
}

func NewLoop(cfg *config.Config, ctrl controller.Controller, sink *logger.DualSink, clock Clock) *Loop {
	return &Loop{
		mode:   cfg.Mode,
		strict: cfg.Acquisition.StrictMatch,
		ctrl:   ctrl,
		sink:   sink,
		clock:  clock,
	}
}

// Run executes the loop until ctx is cancelled. Controller errors degrade
// to a skipped iteration or a mirror diagnostic; nothing here is fatal.
func (l *Loop) Run(ctx context.Context) {
	log.Printf("[acquire] running in %s mode (%s)", l.mode, l.ctrl.Name())
	switch l.mode {
	case config.ModePoll:
		for ctx.Err() == nil {
			l.pollSweep(ctx)
			l.clock.Sleep(ctx, cycleDelay)
		}
	default:
		for ctx.Err() == nil {
			l.sniffTick(ctx)
		}
	}
	log.Printf("[acquire] stopped")
}

// sniffTick logs one pending frame, or backs off briefly when the bus is
// quiet so the hosted loop does not spin a core.
func (l *Loop) sniffTick(ctx context.Context) {
	f, ok := l.ctrl.TryReceive()
	if !ok {
		l.clock.Sleep(ctx, idleDelay)
		return
	}
	l.record(f)
}

// pollSweep issues the fixed PID sequence with inter-request pacing.
func (l *Loop) pollSweep(ctx context.Context) {
	for i, pid := range obd.PollSequence {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			l.clock.Sleep(ctx, interPIDDelay)
		}
		l.pollPID(ctx, pid)
	}
}

// pollPID transmits one request and checks once, after the settle delay,
// for its response. There is no retry and no longer deadline: a response
// arriving later is missed and surfaces as "No response".
func (l *Loop) pollPID(ctx context.Context, pid obd.PID) {
	req := pid.Request()
	if err := l.ctrl.Send(obd.RequestID, req[:]); err != nil {
		l.sink.Diag("PID send failed")
		log.Printf("[acquire] %s request: %v", pid.Name(), err)
		return
	}
	l.record(canbus.Frame{
		Timestamp: l.clock.NowMillis(),
		ID:        obd.RequestID,
		DLC:       uint8(len(req)),
		Data:      req,
	})

	l.clock.Sleep(ctx, settleDelay)

	f, ok := l.ctrl.TryReceive()
	if !ok {
		l.sink.Diag("No response")
		return
	}
	// Whatever arrived is real bus traffic and belongs in the capture.
	l.record(f)
	if l.strict && !obd.Matches(f, pid) {
		l.sink.Diag("No response")
	}
}

func (l *Loop) record(f canbus.Frame) {
	if err := l.sink.Record(f); err != nil {
		log.Printf("[acquire] record failed: %v", err)
	}
}
