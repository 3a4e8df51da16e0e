package acquire

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"canb0t/internal/canbus"
	"canb0t/internal/config"
	"canb0t/internal/logger"
	"canb0t/internal/obd"
)

// fakeClock advances one millisecond per NowMillis call and returns from
// Sleep immediately, recording what was requested.
type fakeClock struct {
	now    uint64
	sleeps []time.Duration
}

func (c *fakeClock) NowMillis() uint64 {
	c.now++
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	c.sleeps = append(c.sleeps, d)
}

// fakeController plays back a scripted inbound queue.
type fakeController struct {
	rx       []canbus.Frame
	sendErr  error
	sent     []canbus.Frame
	initErr  error
	received int
}

func (f *fakeController) Name() string { return "fake" }
func (f *fakeController) Init() error  { return f.initErr }
func (f *fakeController) Close() error { return nil }

func (f *fakeController) TryReceive() (canbus.Frame, bool) {
	if f.received >= len(f.rx) {
		return canbus.Frame{}, false
	}
	fr := f.rx[f.received]
	f.received++
	return fr, true
}

func (f *fakeController) Send(id uint32, data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	fr := canbus.Frame{ID: id, DLC: uint8(len(data))}
	copy(fr.Data[:], data)
	f.sent = append(f.sent, fr)
	return nil
}

func newTestLoop(t *testing.T, mode config.Mode, ctrl *fakeController) (*Loop, *bytes.Buffer, string, *fakeClock) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "CANLOG.CSV")
	mirror := &bytes.Buffer{}
	sink, err := logger.Open(mirror, path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	cfg := config.Default()
	cfg.Mode = mode
	clock := &fakeClock{}
	return NewLoop(cfg, ctrl, sink, clock), mirror, path, clock
}

func durableLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if lines[0] != canbus.LogHeader {
		t.Fatalf("missing header, got %q", lines[0])
	}
	return lines[1:]
}

func rpmResponse() canbus.Frame {
	return canbus.Frame{ID: 0x7E8, DLC: 8, Data: [8]byte{0x04, 0x41, 0x0C, 0x1A, 0xF8}}
}

func TestPollSuccessLogsRequestThenResponse(t *testing.T) {
	ctrl := &fakeController{rx: []canbus.Frame{rpmResponse()}}
	loop, mirror, path, clock := newTestLoop(t, config.ModePoll, ctrl)

	loop.pollPID(context.Background(), obd.PIDEngineRPM)

	lines := durableLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d durable lines, want 2 (request then response):\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if !strings.HasSuffix(lines[0], ",7DF,8,02 01 0C 00 00 00 00 00") {
		t.Errorf("first durable line is not the request: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",7E8,8,04 41 0C 1A F8 00 00 00") {
		t.Errorf("second durable line is not the response: %q", lines[1])
	}

	m := mirror.String()
	reqIdx := strings.Index(m, "ID: 0x7DF DLC:8 Data: 02 01 0C 00 00 00 00 00")
	respIdx := strings.Index(m, "ID: 0x7E8")
	if reqIdx < 0 || respIdx < 0 || reqIdx > respIdx {
		t.Errorf("mirror does not show request then response:\n%s", m)
	}
	if strings.Contains(m, "No response") {
		t.Errorf("unexpected No response diagnostic:\n%s", m)
	}

	if len(clock.sleeps) != 1 || clock.sleeps[0] != settleDelay {
		t.Errorf("expected exactly one settle sleep, got %v", clock.sleeps)
	}
}

func TestPollNoResponse(t *testing.T) {
	ctrl := &fakeController{} // nothing inbound
	loop, mirror, path, _ := newTestLoop(t, config.ModePoll, ctrl)

	loop.pollPID(context.Background(), obd.PIDVehicleSpeed)

	lines := durableLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("got %d durable lines, want 1 (request only):\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if !strings.Contains(mirror.String(), "No response\n") {
		t.Errorf("mirror missing No response:\n%s", mirror.String())
	}
}

func TestPollSendFailure(t *testing.T) {
	ctrl := &fakeController{sendErr: os.ErrClosed}
	loop, mirror, path, clock := newTestLoop(t, config.ModePoll, ctrl)

	loop.pollPID(context.Background(), obd.PIDCoolantTemp)

	if lines := durableLines(t, path); len(lines) != 0 {
		t.Errorf("failed transmissions must not reach the durable log:\n%s", strings.Join(lines, "\n"))
	}
	if !strings.Contains(mirror.String(), "PID send failed\n") {
		t.Errorf("mirror missing PID send failed:\n%s", mirror.String())
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("no settle wait expected after a failed send, got %v", clock.sleeps)
	}
}

func TestPollStrictMismatchStillLogsFrame(t *testing.T) {
	stray := canbus.Frame{ID: 0x1AB, DLC: 2, Data: [8]byte{0xDE, 0xAD}}
	ctrl := &fakeController{rx: []canbus.Frame{stray}}
	loop, mirror, path, _ := newTestLoop(t, config.ModePoll, ctrl)

	loop.pollPID(context.Background(), obd.PIDEngineRPM)

	lines := durableLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d durable lines, want request + stray frame", len(lines))
	}
	if !strings.HasSuffix(lines[1], ",1AB,2,DE AD") {
		t.Errorf("stray frame missing from capture: %q", lines[1])
	}
	if !strings.Contains(mirror.String(), "No response\n") {
		t.Errorf("strict matching should report No response for a stray frame:\n%s", mirror.String())
	}
}

func TestPollLegacyMatchAcceptsAnyFrame(t *testing.T) {
	stray := canbus.Frame{ID: 0x1AB, DLC: 2, Data: [8]byte{0xDE, 0xAD}}
	ctrl := &fakeController{rx: []canbus.Frame{stray}}
	loop, mirror, _, _ := newTestLoop(t, config.ModePoll, ctrl)
	loop.strict = false

	loop.pollPID(context.Background(), obd.PIDEngineRPM)

	if strings.Contains(mirror.String(), "No response") {
		t.Errorf("legacy matching must accept any next frame:\n%s", mirror.String())
	}
}

func TestPollSweepPacing(t *testing.T) {
	ctrl := &fakeController{}
	loop, _, _, clock := newTestLoop(t, config.ModePoll, ctrl)

	loop.pollSweep(context.Background())

	if len(ctrl.sent) != len(obd.PollSequence) {
		t.Fatalf("sent %d requests, want %d", len(ctrl.sent), len(obd.PollSequence))
	}
	var inter, settle int
	for _, d := range clock.sleeps {
		switch d {
		case interPIDDelay:
			inter++
		case settleDelay:
			settle++
		}
	}
	if settle != len(obd.PollSequence) {
		t.Errorf("settle sleeps = %d, want %d", settle, len(obd.PollSequence))
	}
	if inter != len(obd.PollSequence)-1 {
		t.Errorf("inter-PID sleeps = %d, want %d", inter, len(obd.PollSequence)-1)
	}
}

func TestSniffPreservesObservationOrder(t *testing.T) {
	f1 := canbus.Frame{Timestamp: 1, ID: 0x1AB, DLC: 1, Data: [8]byte{0xAA}}
	f2 := canbus.Frame{Timestamp: 2, ID: 0x2CD, DLC: 1, Data: [8]byte{0xBB}}
	ctrl := &fakeController{rx: []canbus.Frame{f1, f2}}
	loop, _, path, clock := newTestLoop(t, config.ModeSniff, ctrl)

	ctx := context.Background()
	loop.sniffTick(ctx)
	loop.sniffTick(ctx)
	loop.sniffTick(ctx) // empty tick

	lines := durableLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d durable lines, want 2", len(lines))
	}
	if lines[0] != f1.LogLine() || lines[1] != f2.LogLine() {
		t.Errorf("records out of order:\n%s", strings.Join(lines, "\n"))
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != idleDelay {
		t.Errorf("empty tick should back off once, got %v", clock.sleeps)
	}
}

func TestBootstrapHaltOnStorageFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory is not openable as the log stream.
	mirror := &bytes.Buffer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // halt returns immediately once reached

	ctrl := &fakeController{}
	sink, err := Bootstrap(ctx, mirror, dir, 0, ctrl)
	if err == nil {
		t.Fatal("Bootstrap succeeded with an unopenable log path")
	}
	if sink != nil {
		t.Error("Bootstrap returned a sink after failure")
	}
	lines := strings.Split(strings.TrimRight(mirror.String(), "\n"), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "log open failed") {
		t.Errorf("mirror should carry exactly one failure diagnostic, got:\n%s", mirror.String())
	}
}

func TestBootstrapHaltOnControllerFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CANLOG.CSV")
	mirror := &bytes.Buffer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := &fakeController{initErr: os.ErrPermission}
	if _, err := Bootstrap(ctx, mirror, path, 0, ctrl); err == nil {
		t.Fatal("Bootstrap succeeded despite controller init failure")
	}
	if !strings.Contains(mirror.String(), "controller init failed") {
		t.Errorf("mirror missing controller diagnostic:\n%s", mirror.String())
	}
}
