package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.bug.st/serial"

	"canb0t/internal/acquire"
	"canb0t/internal/canlog"
	"canb0t/internal/config"
	"canb0t/internal/controller"
	"canb0t/internal/dbc"
	"canb0t/internal/logger"
	"canb0t/internal/monitor"
	"canb0t/internal/mqtt"
	"canb0t/internal/telemetry"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cmd := "capture"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "capture":
		runCapture(args)
	case "parse":
		runParse(args)
	case "builddbc":
		runBuildDBC(args)
	case "send":
		runSend(args)
	case "replay":
		runReplay(args)
	case "compare":
		runCompare(args)
	default:
		fmt.Fprintf(os.Stderr, "usage: canb0t [capture|parse|builddbc|send|replay|compare] ...\n")
		os.Exit(2)
	}
}

func runCapture(args []string) {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	configPath := fs.String("config", "/etc/canb0t/config.yaml", "Path to config file")
	mode := fs.String("mode", "", "Override acquisition mode (sniff or poll)")
	demo := fs.Bool("demo", false, "Run against a simulated bus")
	fs.Parse(args)

	log.Println("[main] canb0t starting")

	cfg := config.Load(*configPath)
	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
	}
	if *demo {
		cfg.Controller.Driver = "sim"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	clock := acquire.NewClock()

	mirror, closeMirror, err := openMirror(cfg)
	if err != nil {
		log.Fatalf("[main] mirror: %v", err)
	}
	defer closeMirror()

	ctrl := newController(cfg, clock)
	log.Printf("[main] mode=%s controller=%s log=%s", cfg.Mode, ctrl.Name(), cfg.Logging.Path)

	sink, err := acquire.Bootstrap(ctx, mirror, cfg.Logging.Path, cfg.Logging.RotateMB, ctrl)
	if err != nil {
		// Bootstrap already held the process in its halt state; by the time
		// it returns the shutdown signal has fired.
		os.Exit(1)
	}
	defer sink.Close()
	defer ctrl.Close()

	attachObservers(ctx, cfg, sink)

	loop := acquire.NewLoop(cfg, ctrl, sink, clock)
	loop.Run(ctx)
	log.Println("[main] acquisition stopped")
}

// newController builds the configured backend; callers own Init and Close.
func newController(cfg *config.Config, clock acquire.Clock) controller.Controller {
	switch cfg.Controller.Driver {
	case "serial":
		return controller.NewSerialAdapter(cfg.Controller.PortPath, cfg.Controller.BaudRate, cfg.Controller.RxBuffer, clock.NowMillis)
	case "sim":
		return controller.NewSim(clock.NowMillis)
	default:
		return controller.NewSocketCAN(cfg.Controller.Interface, cfg.Controller.RxBuffer, clock.NowMillis)
	}
}

// openMirror returns the writer for the human-readable mirror channel:
// a serial port when one is configured, stdout otherwise.
func openMirror(cfg *config.Config) (io.Writer, func(), error) {
	if cfg.Mirror.PortPath == "" {
		return os.Stdout, func() {}, nil
	}
	port, err := serial.Open(cfg.Mirror.PortPath, &serial.Mode{BaudRate: cfg.Mirror.BaudRate})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.Mirror.PortPath, err)
	}
	log.Printf("[main] mirroring to %s @ %d baud", cfg.Mirror.PortPath, cfg.Mirror.BaudRate)
	return port, func() { port.Close() }, nil
}

func attachObservers(ctx context.Context, cfg *config.Config, sink *logger.DualSink) {
	if cfg.Monitor.Enabled {
		srv := monitor.New(cfg.Monitor.ListenAddr)
		sink.Attach(srv)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Printf("[main] monitor exited: %v", err)
			}
		}()
	}
	if cfg.MQTT.Enabled {
		pub := mqtt.NewPublisher(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID, cfg.MQTT.Topic)
		sink.Attach(pub)
		go func() {
			<-ctx.Done()
			pub.Close()
		}()
	}
	if cfg.Telemetry.Enabled {
		flux := telemetry.NewInflux(cfg.Telemetry.URL, cfg.Telemetry.Token,
			cfg.Telemetry.Org, cfg.Telemetry.Bucket, cfg.Telemetry.Measurement)
		sink.Attach(flux)
		go func() {
			<-ctx.Done()
			flux.Close()
		}()
	}
}

func runParse(args []string) {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	in := fs.String("in", "CANLOG.CSV", "Capture log to summarize")
	snapshot := fs.String("snapshot", "", "Also write a binary snapshot for later comparison")
	fs.Parse(args)

	frames, err := canlog.Read(*in)
	if err != nil {
		log.Fatalf("[parse] %v", err)
	}
	canlog.Summarize(os.Stdout, frames)

	if *snapshot != "" {
		if err := canlog.WriteSnapshot(*snapshot, canlog.Snap(frames)); err != nil {
			log.Fatalf("[parse] %v", err)
		}
		log.Printf("[parse] snapshot written to %s", *snapshot)
	}
}

func runBuildDBC(args []string) {
	fs := flag.NewFlagSet("builddbc", flag.ExitOnError)
	in := fs.String("in", "CANLOG.CSV", "Capture log to derive messages from")
	out := fs.String("out", "canb0t.dbc", "DBC file to create or append to")
	fs.Parse(args)

	frames, err := canlog.Read(*in)
	if err != nil {
		log.Fatalf("[builddbc] %v", err)
	}
	if err := dbc.Build(frames, *out); err != nil {
		log.Fatalf("[builddbc] %v", err)
	}
	log.Printf("[builddbc] wrote %s from %d frames", *out, len(frames))
}

// runSend encodes one message from a DBC and puts it on the bus, e.g.
//
//	canb0t send -dbc canb0t.dbc -msg DOOR_UNLOCK_CMD BYTE0=1
func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", "/etc/canb0t/config.yaml", "Path to config file")
	dbcPath := fs.String("dbc", "canb0t.dbc", "DBC file with message definitions")
	msgName := fs.String("msg", "", "Message name to send")
	fs.Parse(args)

	if *msgName == "" {
		log.Fatal("[send] -msg is required")
	}

	values := make(map[string]float64)
	for _, arg := range fs.Args() {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			log.Fatalf("[send] expected name=value, got %q", arg)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			log.Fatalf("[send] value for %s: %v", name, err)
		}
		values[name] = v
	}

	db, err := dbc.Load(*dbcPath)
	if err != nil {
		log.Fatalf("[send] %v", err)
	}
	msg, ok := db.Messages[*msgName]
	if !ok {
		log.Fatalf("[send] message %q not in %s", *msgName, *dbcPath)
	}
	data, err := dbc.Encode(msg, values)
	if err != nil {
		log.Fatalf("[send] %v", err)
	}

	cfg := config.Load(*configPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[send] %v", err)
	}

	ctrl := newController(cfg, acquire.NewClock())
	if err := ctrl.Init(); err != nil {
		log.Fatalf("[send] controller init: %v", err)
	}
	defer ctrl.Close()

	if err := ctrl.Send(msg.ID, data); err != nil {
		log.Fatalf("[send] %v", err)
	}
	log.Printf("[send] 0x%03X % X", msg.ID, data)
}

// runReplay plays a captured session back onto the bus at the recorded
// inter-frame timing, e.g.
//
//	canb0t replay -in CANLOG.CSV -rate 2 -loop
func runReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "/etc/canb0t/config.yaml", "Path to config file")
	in := fs.String("in", "CANLOG.CSV", "Capture log to replay")
	rate := fs.Float64("rate", 1.0, "Playback speed multiplier")
	loop := fs.Bool("loop", false, "Restart from the first frame until interrupted")
	fs.Parse(args)

	frames, err := canlog.Read(*in)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}
	if len(frames) == 0 {
		log.Fatalf("[replay] %s holds no frames", *in)
	}

	cfg := config.Load(*configPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[replay] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	clock := acquire.NewClock()
	ctrl := newController(cfg, clock)
	if err := ctrl.Init(); err != nil {
		log.Fatalf("[replay] controller init: %v", err)
	}
	defer ctrl.Close()

	log.Printf("[replay] %d frames from %s at %gx", len(frames), *in, *rate)
	sent := canlog.Replay(ctx, frames, ctrl, clock, *rate, *loop)
	log.Printf("[replay] done, %d frames sent", sent)
}

func runCompare(args []string) {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		log.Fatal("[compare] usage: canb0t compare <base.snap> <other.snap>")
	}

	base, err := canlog.ReadSnapshot(fs.Arg(0))
	if err != nil {
		log.Fatalf("[compare] %v", err)
	}
	other, err := canlog.ReadSnapshot(fs.Arg(1))
	if err != nil {
		log.Fatalf("[compare] %v", err)
	}
	for _, line := range canlog.Compare(base, other) {
		fmt.Println(line)
	}
}
