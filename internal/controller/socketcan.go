package controller

import (
	"fmt"
	"log"

	"github.com/brutella/can"

	"canb0t/internal/canbus"
)

// SocketCAN drives a Linux socketcan interface. The bus library delivers
// frames on its own goroutine; they are buffered in rx and surfaced to the
// single acquisition thread via TryReceive.
type SocketCAN struct {
	iface string
	now   func() uint64
	bus   *can.Bus
	rx    chan canbus.Frame
}

// NewSocketCAN creates a socketcan backend for the named interface. now
// supplies monotonic milliseconds for frame timestamps.
func NewSocketCAN(iface string, rxBuffer int, now func() uint64) *SocketCAN {
	if rxBuffer <= 0 {
		rxBuffer = 256
	}
	return &SocketCAN{
		iface: iface,
		now:   now,
		rx:    make(chan canbus.Frame, rxBuffer),
	}
}

func (c *SocketCAN) Name() string { return "socketcan" }

func (c *SocketCAN) Init() error {
	bus, err := can.NewBusForInterfaceWithName(c.iface)
	if err != nil {
		return fmt.Errorf("controller: open %s: %w", c.iface, err)
	}
	c.bus = bus
	bus.SubscribeFunc(c.handleFrame)
	go func() {
		// Blocks for the lifetime of the connection.
		if err := bus.ConnectAndPublish(); err != nil {
			log.Printf("[socketcan] bus loop on %s ended: %v", c.iface, err)
		}
	}()
	log.Printf("[socketcan] %s up at %d bit/s", c.iface, BitRate)
	return nil
}

func (c *SocketCAN) handleFrame(frame can.Frame) {
	f := canbus.Frame{
		ID:  frame.ID & 0x1FFFFFFF, // strip EFF/RTR/ERR flag bits
		DLC: frame.Length,
	}
	if f.DLC > canbus.MaxDataLen {
		f.DLC = canbus.MaxDataLen
	}
	copy(f.Data[:], frame.Data[:])
	select {
	case c.rx <- f:
	default:
		// Buffer full: the bus is outrunning the logger. Drop.
	}
}

func (c *SocketCAN) TryReceive() (canbus.Frame, bool) {
	select {
	case f := <-c.rx:
		f.Timestamp = c.now()
		return f, true
	default:
		return canbus.Frame{}, false
	}
}

func (c *SocketCAN) Send(id uint32, data []byte) error {
	if c.bus == nil {
		return fmt.Errorf("%w: bus not initialized", ErrSendFailed)
	}
	if len(data) > canbus.MaxDataLen {
		return fmt.Errorf("%w: payload %d bytes exceeds %d", ErrSendFailed, len(data), canbus.MaxDataLen)
	}
	frame := can.Frame{ID: id, Length: uint8(len(data))}
	copy(frame.Data[:], data)
	if err := c.bus.Publish(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (c *SocketCAN) Close() error {
	if c.bus == nil {
		return nil
	}
	return c.bus.Disconnect()
}
