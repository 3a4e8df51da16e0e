package canbus

import (
	"strings"
	"testing"
)

func TestLogLineSniffExample(t *testing.T) {
	f := Frame{
		Timestamp: 1234,
		ID:        0x1AB,
		DLC:       8,
		Data:      [8]byte{0x00, 0xFF, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
	}
	want := "1234,1AB,8,00 FF AA BB CC DD EE FF"
	if got := f.LogLine(); got != want {
		t.Errorf("LogLine() = %q, want %q", got, want)
	}
}

func TestMirrorLine(t *testing.T) {
	f := Frame{ID: 0x7DF, DLC: 8, Data: [8]byte{0x02, 0x01, 0x0C}}
	want := "ID: 0x7DF DLC:8 Data: 02 01 0C 00 00 00 00 00"
	if got := f.MirrorLine(); got != want {
		t.Errorf("MirrorLine() = %q, want %q", got, want)
	}
}

func TestZeroLengthFrame(t *testing.T) {
	f := Frame{Timestamp: 10, ID: 0x5F1, DLC: 0}
	if got, want := f.LogLine(), "10,5F1,0,"; got != want {
		t.Errorf("LogLine() = %q, want %q", got, want)
	}
	if got, want := f.MirrorLine(), "ID: 0x5F1 DLC:0 Data:"; got != want {
		t.Errorf("MirrorLine() = %q, want %q", got, want)
	}
}

func TestPayloadGroupCount(t *testing.T) {
	for dlc := 0; dlc <= 8; dlc++ {
		f := Frame{ID: 0x123, DLC: uint8(dlc)}
		for i := range f.Data {
			f.Data[i] = byte(0xA0 + i)
		}
		_, _, dataField := splitLogLine(t, f.LogLine())
		groups := strings.Fields(dataField)
		if len(groups) != dlc {
			t.Errorf("dlc=%d: log line has %d byte groups", dlc, len(groups))
		}
		for _, g := range groups {
			if len(g) != 2 || g != strings.ToUpper(g) {
				t.Errorf("dlc=%d: byte group %q not two uppercase hex digits", dlc, g)
			}
		}
		mirrorGroups := strings.Fields(strings.SplitN(f.MirrorLine(), "Data:", 2)[1])
		if len(mirrorGroups) != dlc {
			t.Errorf("dlc=%d: mirror line has %d byte groups", dlc, len(mirrorGroups))
		}
	}
}

func splitLogLine(t *testing.T, line string) (ts, id, data string) {
	t.Helper()
	parts := strings.SplitN(line, ",", 4)
	if len(parts) != 4 {
		t.Fatalf("log line %q does not have 4 fields", line)
	}
	return parts[0], parts[1], parts[3]
}

func TestLogLineRoundTrip(t *testing.T) {
	lines := []string{
		"1234,1AB,8,00 FF AA BB CC DD EE FF",
		"0,7DF,8,02 01 0C 00 00 00 00 00",
		"987654321,1FFFFFFF,3,DE AD 01",
		"42,5F1,0,",
	}
	for _, line := range lines {
		f, err := ParseLogLine(line)
		if err != nil {
			t.Fatalf("ParseLogLine(%q): %v", line, err)
		}
		if got := f.LogLine(); got != line {
			t.Errorf("round trip of %q produced %q", line, got)
		}
	}
}

func TestParseLogLineRejectsGarbage(t *testing.T) {
	bad := []string{
		"",
		LogHeader,
		"12,1AB,8",    // missing data field
		"12,1AB,9,00", // dlc out of range
		"12,ZZ,1,00",  // bad id
		"12,1AB,2,00", // byte count != dlc
		"12,1AB,1,GG", // bad hex byte
		"x,1AB,1,00",  // bad timestamp
		"12,1AB,0,00", // payload on zero-length frame
	}
	for _, line := range bad {
		if _, err := ParseLogLine(line); err == nil {
			t.Errorf("ParseLogLine(%q) accepted malformed input", line)
		}
	}
}

func TestParseMirrorLine(t *testing.T) {
	f := Frame{ID: 0x1AB, DLC: 4, Data: [8]byte{0x11, 0x22, 0x33, 0x44}}
	got, err := ParseMirrorLine(f.MirrorLine())
	if err != nil {
		t.Fatalf("ParseMirrorLine: %v", err)
	}
	if got.ID != f.ID || got.DLC != f.DLC || got.Data != f.Data {
		t.Errorf("ParseMirrorLine = %+v, want %+v", got, f)
	}

	if _, err := ParseMirrorLine("OK"); err == nil {
		t.Error("ParseMirrorLine accepted a non-frame line")
	}
	if _, err := ParseMirrorLine("ID: 0x1AB DLC:2 Data: 11"); err == nil {
		t.Error("ParseMirrorLine accepted short payload")
	}
}

func TestPayloadNeverExceedsDLC(t *testing.T) {
	f := Frame{ID: 0x1AB, DLC: 12} // corrupt DLC from a misbehaving adapter
	if n := len(f.Payload()); n != MaxDataLen {
		t.Errorf("Payload() length = %d, want clamp to %d", n, MaxDataLen)
	}

	// Both encodings must emit the clamped count and stay parseable.
	if !strings.HasPrefix(f.MirrorLine(), "ID: 0x1AB DLC:8 Data:") {
		t.Errorf("MirrorLine() = %q, want clamped DLC:8", f.MirrorLine())
	}
	if _, err := ParseMirrorLine(f.MirrorLine()); err != nil {
		t.Errorf("MirrorLine output rejected by its own parser: %v", err)
	}
	got, err := ParseLogLine(f.LogLine())
	if err != nil {
		t.Fatalf("LogLine output rejected by its own parser: %v", err)
	}
	if got.DLC != MaxDataLen {
		t.Errorf("parsed DLC = %d, want %d", got.DLC, MaxDataLen)
	}
}
