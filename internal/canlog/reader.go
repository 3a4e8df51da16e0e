package canlog

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"canb0t/internal/canbus"
	"canb0t/internal/obd"
)

// Read loads a durable capture file. Malformed lines are skipped, the way
// every downstream consumer of this format has always behaved — a capture
// truncated by power loss must still parse.
func Read(path string) ([]canbus.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("canlog: open %s: %w", path, err)
	}
	defer f.Close()
	return readFrom(f)
}

func readFrom(r io.Reader) ([]canbus.Frame, error) {
	var frames []canbus.Frame
	skipped := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == canbus.LogHeader {
			continue
		}
		frame, err := canbus.ParseLogLine(line)
		if err != nil {
			skipped++
			continue
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("canlog: read: %w", err)
	}
	if skipped > 0 {
		log.Printf("[canlog] skipped %d malformed lines", skipped)
	}
	return frames, nil
}

// Summarize prints totals, the busiest identifiers with sample payloads,
// and any OBD-II decodes found in the capture.
func Summarize(w io.Writer, frames []canbus.Frame) {
	fmt.Fprintf(w, "Total frames: %d\n", len(frames))
	if len(frames) == 0 {
		return
	}

	snap := Snap(frames)
	ids := make([]uint32, 0, len(snap.IDs))
	for id := range snap.IDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := snap.IDs[ids[i]], snap.IDs[ids[j]]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return ids[i] < ids[j]
	})

	fmt.Fprintln(w, "Top CAN IDs:")
	top := ids
	if len(top) > 10 {
		top = top[:10]
	}
	for _, id := range top {
		st := snap.IDs[id]
		fmt.Fprintf(w, "  0x%03X: %d frames, %d distinct payloads\n", id, st.Count, st.Distinct)
	}

	fmt.Fprintln(w, "Sample payloads:")
	for _, id := range top {
		samples := make([]string, 0, len(snap.IDs[id].Samples))
		for _, p := range snap.IDs[id].Samples {
			samples = append(samples, fmt.Sprintf("% X", p))
		}
		fmt.Fprintf(w, "  0x%03X: %s\n", id, strings.Join(samples, ", "))
	}

	decoded := 0
	for _, f := range frames {
		v, ok := obd.DecodeFrame(f)
		if !ok {
			continue
		}
		if decoded == 0 {
			fmt.Fprintln(w, "OBD-II decodes:")
		}
		decoded++
		fmt.Fprintf(w, "  ts %d id 0x%03X: %s = %.1f %s\n", f.Timestamp, f.ID, v.Name, v.Value, v.Unit)
	}
}
