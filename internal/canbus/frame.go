package canbus

import (
	"fmt"
	"strconv"
	"strings"
)

// LogHeader is the first line of every newly created capture file.
// Downstream tooling (log parser, DBC builder, transmit tool) treats the
// line layout below as its sole contract with the capture side.
const LogHeader = "timestamp_ms,id,dlc,data"

// MaxDataLen is the payload capacity of a classic CAN frame.
const MaxDataLen = 8

// Frame is a single CAN message plus the moment it was observed.
//
// Timestamp is monotonic milliseconds since process start, stamped when the
// frame surfaces from the controller (not at bus-level reception — a known
// source of jitter).
type Frame struct {
	Timestamp uint64
	ID        uint32 // 11- or 29-bit arbitration ID
	DLC       uint8  // data length code, 0-8
	Data      [MaxDataLen]byte
}

// Payload returns the valid data bytes. Bytes beyond DLC are undefined and
// never emitted.
func (f Frame) Payload() []byte {
	n := f.DLC
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// MirrorLine renders the frame for live human observation:
//
//	ID: 0x1AB DLC:8 Data: 00 FF AA BB CC DD EE FF
//
// The DLC field is the emitted byte count, so a corrupt DLC from a
// misbehaving adapter is clamped rather than producing a line the parsers
// reject.
func (f Frame) MirrorLine() string {
	data := f.Payload()
	var b strings.Builder
	fmt.Fprintf(&b, "ID: 0x%X DLC:%d Data:", f.ID, len(data))
	for _, v := range data {
		fmt.Fprintf(&b, " %02X", v)
	}
	return b.String()
}

// LogLine renders the frame as one durable CSV record:
//
//	1234,1AB,8,00 FF AA BB CC DD EE FF
//
// The data field uses space-separated uppercase hex bytes, so the line
// contains embedded spaces but no extra commas. A DLC of 0 yields an empty
// data field with no stray space.
func (f Frame) LogLine() string {
	data := f.Payload()
	return fmt.Sprintf("%d,%X,%d,%s", f.Timestamp, f.ID, len(data), hexBytes(data))
}

func hexBytes(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

// ParseLogLine is the exact inverse of LogLine: reformatting the parsed
// frame reproduces the input byte for byte.
func ParseLogLine(line string) (Frame, error) {
	fields := strings.SplitN(line, ",", 4)
	if len(fields) != 4 {
		return Frame{}, fmt.Errorf("canbus: malformed log line %q", line)
	}
	ts, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("canbus: bad timestamp in %q: %w", line, err)
	}
	id, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("canbus: bad id in %q: %w", line, err)
	}
	dlc, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil || dlc > MaxDataLen {
		return Frame{}, fmt.Errorf("canbus: bad dlc in %q", line)
	}
	f := Frame{Timestamp: ts, ID: uint32(id), DLC: uint8(dlc)}
	if err := parseHexBytes(fields[3], f.Data[:], int(dlc)); err != nil {
		return Frame{}, fmt.Errorf("canbus: bad data in %q: %w", line, err)
	}
	return f, nil
}

// ParseMirrorLine parses the serial-mirror encoding, as emitted both by this
// process and by MCP2515 adapter boards streaming over their UART.
func ParseMirrorLine(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	rest, ok := strings.CutPrefix(line, "ID: 0x")
	if !ok {
		return Frame{}, fmt.Errorf("canbus: not a frame line %q", line)
	}
	idStr, rest, ok := strings.Cut(rest, " DLC:")
	if !ok {
		return Frame{}, fmt.Errorf("canbus: missing DLC in %q", line)
	}
	dlcStr, dataStr, ok := strings.Cut(rest, " Data:")
	if !ok {
		return Frame{}, fmt.Errorf("canbus: missing data in %q", line)
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("canbus: bad id in %q: %w", line, err)
	}
	dlc, err := strconv.ParseUint(dlcStr, 10, 8)
	if err != nil || dlc > MaxDataLen {
		return Frame{}, fmt.Errorf("canbus: bad dlc in %q", line)
	}
	f := Frame{ID: uint32(id), DLC: uint8(dlc)}
	if err := parseHexBytes(strings.TrimSpace(dataStr), f.Data[:], int(dlc)); err != nil {
		return Frame{}, fmt.Errorf("canbus: bad data in %q: %w", line, err)
	}
	return f, nil
}

func parseHexBytes(s string, dst []byte, want int) error {
	parts := strings.Fields(s)
	if len(parts) != want {
		return fmt.Errorf("expected %d bytes, got %d", want, len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return err
		}
		dst[i] = byte(v)
	}
	return nil
}
