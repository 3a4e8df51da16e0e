package canlog

import (
	"fmt"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"canb0t/internal/canbus"
)

const maxSamples = 3

// Snapshot is a compact per-identifier digest of one capture session,
// serialized as CBOR so two sessions can be diffed without re-reading the
// full logs.
type Snapshot struct {
	Total int                 `cbor:"total"`
	IDs   map[uint32]*IDStats `cbor:"ids"`
}

type IDStats struct {
	Count    int      `cbor:"count"`
	Distinct int      `cbor:"distinct"` // distinct payloads observed
	FirstTS  uint64   `cbor:"first_ts"`
	LastTS   uint64   `cbor:"last_ts"`
	Samples  [][]byte `cbor:"samples"` // up to maxSamples example payloads
}

// Snap digests a frame list.
func Snap(frames []canbus.Frame) *Snapshot {
	snap := &Snapshot{Total: len(frames), IDs: make(map[uint32]*IDStats)}
	seen := make(map[uint32]map[string]struct{})
	for _, f := range frames {
		st, ok := snap.IDs[f.ID]
		if !ok {
			st = &IDStats{FirstTS: f.Timestamp}
			snap.IDs[f.ID] = st
			seen[f.ID] = make(map[string]struct{})
		}
		st.Count++
		st.LastTS = f.Timestamp

		key := string(f.Payload())
		if _, dup := seen[f.ID][key]; !dup {
			seen[f.ID][key] = struct{}{}
			st.Distinct++
			if len(st.Samples) < maxSamples {
				st.Samples = append(st.Samples, append([]byte(nil), f.Payload()...))
			}
		}
	}
	return snap
}

// WriteSnapshot persists a snapshot as CBOR.
func WriteSnapshot(path string, snap *Snapshot) error {
	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("canlog: encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("canlog: write snapshot %s: %w", path, err)
	}
	return nil
}

// ReadSnapshot loads a CBOR snapshot.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("canlog: read snapshot %s: %w", path, err)
	}
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("canlog: decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// Compare reports the differences between a baseline session and a later
// one: identifiers that appeared or vanished, and per-ID activity shifts.
// Useful for isolating which identifier reacts to a physical action
// (baseline capture vs. capture-while-pressing-the-button).
func Compare(base, other *Snapshot) []string {
	var out []string

	ids := make([]uint32, 0, len(base.IDs)+len(other.IDs))
	seen := make(map[uint32]struct{})
	for id := range base.IDs {
		ids = append(ids, id)
		seen[id] = struct{}{}
	}
	for id := range other.IDs {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		b, inBase := base.IDs[id]
		o, inOther := other.IDs[id]
		switch {
		case !inBase:
			out = append(out, fmt.Sprintf("0x%03X: new (%d frames, %d payloads)", id, o.Count, o.Distinct))
		case !inOther:
			out = append(out, fmt.Sprintf("0x%03X: gone (was %d frames)", id, b.Count))
		default:
			if b.Distinct != o.Distinct {
				out = append(out, fmt.Sprintf("0x%03X: payload variety %d -> %d", id, b.Distinct, o.Distinct))
			} else if delta := o.Count - b.Count; delta != 0 {
				out = append(out, fmt.Sprintf("0x%03X: count %d -> %d", id, b.Count, o.Count))
			}
		}
	}
	if len(out) == 0 {
		out = append(out, "no differences")
	}
	return out
}
