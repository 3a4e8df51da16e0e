package obd

import (
	"fmt"

	"canb0t/internal/canbus"
)

// Service-01 ("show current data") request/response framing constants.
const (
	// RequestID is the broadcast functional-request identifier.
	RequestID uint32 = 0x7DF
	// ResponseIDMin..ResponseIDMax is the ECU physical-response range.
	ResponseIDMin uint32 = 0x7E8
	ResponseIDMax uint32 = 0x7EF

	serviceCurrentData = 0x01
	serviceResponse    = 0x41 // serviceCurrentData | 0x40
)

// PID is an OBD-II service-01 parameter identifier.
type PID uint8

const (
	PIDCoolantTemp  PID = 0x05
	PIDEngineRPM    PID = 0x0C
	PIDVehicleSpeed PID = 0x0D
	PIDThrottlePos  PID = 0x11
)

// PollSequence is the fixed PID order the poll loop cycles through.
var PollSequence = []PID{PIDEngineRPM, PIDVehicleSpeed, PIDThrottlePos, PIDCoolantTemp}

func (p PID) Name() string {
	switch p {
	case PIDCoolantTemp:
		return "COOLANT"
	case PIDEngineRPM:
		return "RPM"
	case PIDVehicleSpeed:
		return "SPEED"
	case PIDThrottlePos:
		return "THROTTLE"
	default:
		return fmt.Sprintf("PID_%02X", uint8(p))
	}
}

// Request builds the 8-byte zero-padded service-01 query for this PID.
func (p PID) Request() [8]byte {
	return [8]byte{0x02, serviceCurrentData, byte(p)}
}

// Matches reports whether f is a plausible response to a request for p: the
// identifier must fall in the ECU response range and the payload must echo
// service 0x41 plus the PID. Payload byte 0 is the ISO-TP length prefix.
func Matches(f canbus.Frame, p PID) bool {
	if f.ID < ResponseIDMin || f.ID > ResponseIDMax {
		return false
	}
	data := f.Payload()
	return len(data) >= 3 && data[1] == serviceResponse && data[2] == byte(p)
}

// Value is one decoded service-01 reading.
type Value struct {
	PID   PID
	Name  string
	Value float64
	Unit  string
}

// Decode extracts a known PID reading from a response payload. It accepts
// both raw frames (ISO-TP length prefix, "04 41 0C A B") and adapter logs
// with the prefix already stripped ("41 0C A B").
func Decode(data []byte) (Value, bool) {
	if len(data) >= 2 && data[0] != serviceResponse && data[1] == serviceResponse {
		data = data[1:] // skip ISO-TP length byte
	}
	if len(data) < 3 || data[0] != serviceResponse {
		return Value{}, false
	}
	pid := PID(data[1])
	a := float64(data[2])
	switch pid {
	case PIDEngineRPM:
		if len(data) < 4 {
			return Value{}, false
		}
		return Value{pid, "rpm", (a*256 + float64(data[3])) / 4, "rpm"}, true
	case PIDVehicleSpeed:
		return Value{pid, "speed", a, "km/h"}, true
	case PIDThrottlePos:
		return Value{pid, "throttle", a * 100 / 255, "%"}, true
	case PIDCoolantTemp:
		return Value{pid, "coolant", a - 40, "degC"}, true
	default:
		return Value{}, false
	}
}

// DecodeFrame is Decode applied to a frame's valid payload.
func DecodeFrame(f canbus.Frame) (Value, bool) {
	return Decode(f.Payload())
}
