package controller

import (
	"math"
	"math/rand"
	"sync"

	"canb0t/internal/canbus"
	"canb0t/internal/obd"
)

// Sim generates simulated bus traffic for development and testing. In sniff
// mode it emits a rolling mix of chassis frames; service-01 requests sent to
// the broadcast identifier are answered with plausible engine data.
type Sim struct {
	now func() uint64

	mu      sync.Mutex
	pending []canbus.Frame // queued inbound frames (responses first)
	t       float64        // virtual time accumulator
}

func NewSim(now func() uint64) *Sim {
	return &Sim{now: now}
}

func (s *Sim) Name() string { return "sim" }
func (s *Sim) Init() error  { return nil }
func (s *Sim) Close() error { return nil }

func (s *Sim) TryReceive() (canbus.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		f := s.pending[0]
		s.pending = s.pending[1:]
		f.Timestamp = s.now()
		return f, true
	}

	// Background chassis traffic, roughly one frame per three polls.
	if rand.Float64() > 0.35 {
		return canbus.Frame{}, false
	}
	s.t += 0.05
	rpm, speed, _, _ := s.engineState()

	var f canbus.Frame
	switch rand.Intn(3) {
	case 0: // powertrain status
		f = canbus.Frame{ID: 0x2C4, DLC: 8}
		raw := uint16(rpm * 4)
		f.Data[0] = byte(raw >> 8)
		f.Data[1] = byte(raw)
	case 1: // wheel speed
		f = canbus.Frame{ID: 0x1A0, DLC: 4}
		f.Data[0] = byte(speed)
		f.Data[1] = byte(speed)
	default: // body control heartbeat
		f = canbus.Frame{ID: 0x5F1, DLC: 2}
		f.Data[0] = byte(rand.Intn(4))
		f.Data[1] = 0x01
	}
	f.Timestamp = s.now()
	return f, true
}

func (s *Sim) Send(id uint32, data []byte) error {
	if len(data) > canbus.MaxDataLen {
		return ErrSendFailed
	}
	if id != obd.RequestID || len(data) < 3 || data[1] != 0x01 {
		return nil // accepted, nobody answers
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.t += 0.05
	rpm, speed, throttle, coolant := s.engineState()

	resp := canbus.Frame{ID: 0x7E8, DLC: 8}
	switch obd.PID(data[2]) {
	case obd.PIDEngineRPM:
		raw := uint16(rpm * 4)
		resp.Data = [8]byte{0x04, 0x41, data[2], byte(raw >> 8), byte(raw)}
	case obd.PIDVehicleSpeed:
		resp.Data = [8]byte{0x03, 0x41, data[2], byte(speed)}
	case obd.PIDThrottlePos:
		resp.Data = [8]byte{0x03, 0x41, data[2], byte(throttle * 255 / 100)}
	case obd.PIDCoolantTemp:
		resp.Data = [8]byte{0x03, 0x41, data[2], byte(coolant + 40)}
	default:
		// Unsupported PID: 7F negative response.
		resp.Data = [8]byte{0x03, 0x7F, 0x01, 0x12}
	}
	s.pending = append(s.pending, resp)
	return nil
}

// engineState models RPM cycling between idle and revving with the other
// channels derived from it.
func (s *Sim) engineState() (rpm, speed, throttle, coolant float64) {
	rpm = 850 + 4000*math.Sin(s.t*0.3)*math.Sin(s.t*0.3) + rand.Float64()*50
	throttle = (rpm - 850) / (8000 - 850) * 100
	if throttle < 0 {
		throttle = 0
	}
	if throttle > 100 {
		throttle = 100
	}
	speed = throttle / 100 * 220
	coolant = 85 + rand.Float64()*5
	return
}
