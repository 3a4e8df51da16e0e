package controller

import (
	"errors"

	"canb0t/internal/canbus"
)

// BitRate is the CAN bus bit rate all hardware backends run at. It is a
// property of the vehicle bus, not a tunable.
const BitRate = 500_000

// ErrSendFailed wraps controller-reported transmit failures. A failed send
// is never fatal: the caller reports it on the mirror and moves on.
var ErrSendFailed = errors.New("controller: send failed")

// Controller is the thin contract over the CAN transceiver. All backends
// must keep TryReceive non-blocking — that is what lets the single
// acquisition thread interleave sniffing and polling at low latency.
type Controller interface {
	// Name returns the human-readable backend name.
	Name() string
	// Init brings the controller up in normal (active) operating mode.
	// An Init failure is fatal to the bootstrap sequence.
	Init() error
	// TryReceive reports a pending inbound frame, if any. It never blocks.
	// The frame's timestamp is stamped at the moment it is surfaced here.
	TryReceive() (canbus.Frame, bool)
	// Send attempts one transmission of exactly len(data) bytes.
	Send(id uint32, data []byte) error
	// Close releases the underlying transport.
	Close() error
}
