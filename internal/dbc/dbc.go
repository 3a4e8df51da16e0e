// Package dbc generates and consumes a practical subset of the Vector DBC
// format: enough to document captured bus traffic and to encode frames for
// replay. Signals are assumed byte-aligned, little-endian and unsigned,
// which covers everything the builder emits.
package dbc

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

type Signal struct {
	Name   string
	Start  uint8
	Size   uint8
	Factor float64
	Offset float64
	Unit   string
}

type Message struct {
	ID      uint32
	Name    string
	DLC     uint8
	Signals []Signal
}

type Database struct {
	Messages map[string]*Message
}

// Load parses the message and signal definitions out of a DBC file.
// Multiplexor markers (M, mNN) are tolerated and discarded; lines that
// are not BO_ or SG_ definitions are skipped.
func Load(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dbc: open %s: %w", path, err)
	}
	defer f.Close()

	db := &Database{Messages: make(map[string]*Message)}
	var cur *Message

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "BO_ "):
			msg, err := parseMessage(line)
			if err != nil {
				return nil, err
			}
			db.Messages[msg.Name] = msg
			cur = msg
		case strings.HasPrefix(line, "SG_ "):
			if cur == nil {
				continue
			}
			sig, err := parseSignal(line)
			if err != nil {
				return nil, err
			}
			cur.Signals = append(cur.Signals, sig)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dbc: scan %s: %w", path, err)
	}
	return db, nil
}

// parseMessage handles "BO_ 1521 DOOR_UNLOCK_CMD: 8 Vector__XXX".
func parseMessage(line string) (*Message, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return nil, fmt.Errorf("dbc: malformed message line %q", line)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("dbc: message id in %q: %w", line, err)
	}
	dlc, err := strconv.ParseUint(fields[3], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("dbc: message dlc in %q: %w", line, err)
	}
	return &Message{
		ID:   uint32(id),
		Name: strings.TrimSuffix(fields[2], ":"),
		DLC:  uint8(dlc),
	}, nil
}

// parseSignal handles "SG_ EngineRPM m12 : 16|16@1+ (0.25,0) [0|16383.75] "rpm" Vector__XXX".
func parseSignal(line string) (Signal, error) {
	name, rest, ok := strings.Cut(strings.TrimPrefix(line, "SG_ "), " ")
	if !ok {
		return Signal{}, fmt.Errorf("dbc: malformed signal line %q", line)
	}
	rest = strings.TrimSpace(rest)
	if mux, after, found := strings.Cut(rest, " "); found && (mux == "M" || strings.HasPrefix(mux, "m")) {
		rest = strings.TrimSpace(after)
	}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))

	var start, size uint8
	var order byte
	var sign byte
	var factor, offset, min, max float64
	layout, rest, _ := strings.Cut(rest, " ")
	if _, err := fmt.Sscanf(layout, "%d|%d@%c%c", &start, &size, &order, &sign); err != nil {
		return Signal{}, fmt.Errorf("dbc: signal layout in %q: %w", line, err)
	}
	scale, rest, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if _, err := fmt.Sscanf(scale, "(%g,%g)", &factor, &offset); err != nil {
		return Signal{}, fmt.Errorf("dbc: signal scale in %q: %w", line, err)
	}
	bounds, rest, _ := strings.Cut(strings.TrimSpace(rest), " ")
	fmt.Sscanf(bounds, "[%g|%g]", &min, &max)

	unit := ""
	if i := strings.Index(rest, `"`); i >= 0 {
		if j := strings.Index(rest[i+1:], `"`); j >= 0 {
			unit = rest[i+1 : i+1+j]
		}
	}
	return Signal{
		Name:   name,
		Start:  start,
		Size:   size,
		Factor: factor,
		Offset: offset,
		Unit:   unit,
	}, nil
}

// Encode packs named signal values into a payload for the message.
// Signals must be byte-aligned; unknown names are an error so typos in a
// replay command fail loudly instead of sending a half-built frame.
func Encode(msg *Message, values map[string]float64) ([]byte, error) {
	data := make([]byte, msg.DLC)
	byName := make(map[string]Signal, len(msg.Signals))
	for _, s := range msg.Signals {
		byName[s.Name] = s
	}
	for name, val := range values {
		sig, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("dbc: message %s has no signal %q", msg.Name, name)
		}
		if sig.Start%8 != 0 || sig.Size%8 != 0 {
			return nil, fmt.Errorf("dbc: signal %s is not byte-aligned", name)
		}
		// Range-check before converting: a negative or oversized float to
		// uint64 is implementation-defined and must not reach the cast.
		scaled := math.Round((val - sig.Offset) / sig.Factor)
		if scaled < 0 || (sig.Size < 64 && scaled >= float64(uint64(1)<<sig.Size)) {
			return nil, fmt.Errorf("dbc: value %g out of range for signal %s", val, name)
		}
		raw := uint64(scaled)
		first := sig.Start / 8
		n := sig.Size / 8
		if int(first)+int(n) > len(data) {
			return nil, fmt.Errorf("dbc: signal %s exceeds message %s length", name, msg.Name)
		}
		for i := uint8(0); i < n; i++ {
			data[first+i] = byte(raw >> (8 * i))
		}
	}
	return data, nil
}
