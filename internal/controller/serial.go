package controller

import (
	"bufio"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"canb0t/internal/canbus"
)

// SerialAdapter attaches to an MCP2515 breakout board over its UART. The
// board firmware initializes the chip at the fixed bus bit rate, streams
// received frames as mirror-format lines
//
//	ID: 0x1AB DLC:8 Data: 00 FF AA BB CC DD EE FF
//
// and accepts outbound frames as "snd <id-hex> <HH> ..." command lines.
type SerialAdapter struct {
	portPath string
	baudRate int
	now      func() uint64

	port serial.Port
	rx   chan canbus.Frame

	wmu sync.Mutex // serializes Send writes against each other
}

// NewSerialAdapter creates a serial-attached MCP2515 backend.
func NewSerialAdapter(portPath string, baudRate, rxBuffer int, now func() uint64) *SerialAdapter {
	if baudRate == 0 {
		baudRate = 115200
	}
	if rxBuffer <= 0 {
		rxBuffer = 256
	}
	return &SerialAdapter{
		portPath: portPath,
		baudRate: baudRate,
		now:      now,
		rx:       make(chan canbus.Frame, rxBuffer),
	}
}

func (a *SerialAdapter) Name() string { return "serial-mcp2515" }

func (a *SerialAdapter) Init() error {
	mode := &serial.Mode{
		BaudRate: a.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(a.portPath, mode)
	if err != nil {
		return fmt.Errorf("controller: open %s: %w", a.portPath, err)
	}
	a.port = port

	// The board resets when the port opens; give it a moment and discard
	// any boot banner before treating the stream as frame lines.
	time.Sleep(500 * time.Millisecond)
	port.ResetInputBuffer()

	go a.readLoop()
	log.Printf("[serial] opened %s at %d baud (bus at %d bit/s)", a.portPath, a.baudRate, BitRate)
	return nil
}

func (a *SerialAdapter) readLoop() {
	scanner := bufio.NewScanner(a.port)
	for scanner.Scan() {
		f, err := canbus.ParseMirrorLine(scanner.Text())
		if err != nil {
			// Boot chatter and status lines are expected; skip quietly.
			continue
		}
		select {
		case a.rx <- f:
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[serial] read loop on %s ended: %v", a.portPath, err)
	}
}

func (a *SerialAdapter) TryReceive() (canbus.Frame, bool) {
	select {
	case f := <-a.rx:
		f.Timestamp = a.now()
		return f, true
	default:
		return canbus.Frame{}, false
	}
}

func (a *SerialAdapter) Send(id uint32, data []byte) error {
	if a.port == nil {
		return fmt.Errorf("%w: port not open", ErrSendFailed)
	}
	if len(data) > canbus.MaxDataLen {
		return fmt.Errorf("%w: payload %d bytes exceeds %d", ErrSendFailed, len(data), canbus.MaxDataLen)
	}
	cmd := fmt.Sprintf("snd %X", id)
	for _, b := range data {
		cmd += fmt.Sprintf(" %02X", b)
	}
	cmd += "\r\n"

	a.wmu.Lock()
	defer a.wmu.Unlock()
	if _, err := a.port.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (a *SerialAdapter) Close() error {
	if a.port == nil {
		return nil
	}
	return a.port.Close()
}
