package dbc

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"

	"canb0t/internal/canbus"
	"canb0t/internal/obd"
)

// Well-known message names for identifiers recovered by earlier reverse
// engineering sessions. Anything else gets a generic MSG_<id> name.
var messageNames = map[uint32]string{
	0x5F1: "DOOR_UNLOCK_CMD",
	0x5FB: "DOOR_LOCK_CMD",
}

// pidSignal describes a known OBD-II data channel for signal generation:
// bit size and the linear factor/offset that maps raw bytes to the value.
type pidSignal struct {
	name   string
	size   uint8
	factor float64
	offset float64
	unit   string
}

var pidSignals = map[obd.PID]pidSignal{
	obd.PIDEngineRPM:    {"EngineRPM", 16, 0.25, 0, "rpm"},
	obd.PIDVehicleSpeed: {"VehicleSpeed", 8, 1, 0, "km/h"},
	obd.PIDThrottlePos:  {"ThrottlePosition", 8, 100.0 / 255.0, 0, "%"},
	obd.PIDCoolantTemp:  {"CoolantTemp", 8, 1, -40, "degC"},
}

var boLineRe = regexp.MustCompile(`^BO_\s+(\d+)\s+`)

// Build writes a DBC description inferred from captured frames. A fresh
// file gets the standard preamble; an existing file is appended to, with
// identifiers it already describes left untouched so repeated builds from
// overlapping captures stay additive.
func Build(frames []canbus.Frame, outPath string) error {
	byID := make(map[uint32][]canbus.Frame)
	for _, f := range frames {
		byID[f.ID] = append(byID[f.ID], f)
	}

	existing, err := existingMessageIDs(outPath)
	if err != nil {
		return err
	}
	appending := existing != nil

	flags := os.O_WRONLY | os.O_CREATE
	if appending {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(outPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("dbc: open %s: %w", outPath, err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	if appending {
		fmt.Fprintln(w)
	} else {
		fmt.Fprint(w, "VERSION \"generated by canb0t\"\n\nNS_ :\n\nBS_:\n\nBU_: Vector__XXX\n\n")
	}

	ids := make([]uint32, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if _, known := existing[id]; known {
			continue
		}
		writeMessage(w, id, byID[id])
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("dbc: write %s: %w", outPath, err)
	}
	return nil
}

// existingMessageIDs scans a DBC for BO_ identifiers. A nil map means the
// file does not exist yet.
func existingMessageIDs(path string) (map[uint32]struct{}, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dbc: open %s: %w", path, err)
	}
	defer f.Close()

	ids := make(map[uint32]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := boLineRe.FindStringSubmatch(scanner.Text()); m != nil {
			var id uint32
			fmt.Sscanf(m[1], "%d", &id)
			ids[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dbc: scan %s: %w", path, err)
	}
	return ids, nil
}

func writeMessage(w *bufio.Writer, id uint32, msgs []canbus.Frame) {
	dlc := uint8(0)
	for _, f := range msgs {
		if f.DLC > dlc {
			dlc = f.DLC
		}
	}
	name, ok := messageNames[id]
	if !ok {
		name = fmt.Sprintf("MSG_%03X", id)
	}
	fmt.Fprintf(w, "BO_ %d %s: %d Vector__XXX\n", id, name, dlc)

	// Identifiers carrying service-01 responses get a multiplexed layout
	// keyed on the PID byte; everything else gets one signal per byte.
	pids := responsePIDs(msgs)
	if len(pids) > 0 {
		fmt.Fprintf(w, " SG_ Service : 0|8@1+ (1,0) [0|255] \"\" Vector__XXX\n")
		fmt.Fprintf(w, " SG_ PID M : 8|8@1+ (1,0) [0|255] \"\" Vector__XXX\n")
		for _, pid := range pids {
			if sig, known := pidSignals[pid]; known {
				maxRaw := float64(uint64(1)<<sig.size - 1)
				fmt.Fprintf(w, " SG_ %s m%d : 16|%d@1+ (%g,%g) [%g|%g] \"%s\" Vector__XXX\n",
					sig.name, pid, sig.size, sig.factor, sig.offset,
					sig.offset, maxRaw*sig.factor+sig.offset, sig.unit)
			} else {
				fmt.Fprintf(w, " SG_ PID_%02X m%d : 16|8@1+ (1,0) [0|255] \"\" Vector__XXX\n", uint8(pid), pid)
			}
		}
	} else {
		for i := uint8(0); i < dlc; i++ {
			fmt.Fprintf(w, " SG_ BYTE%d : %d|8@1+ (1,0) [0|255] \"\" Vector__XXX\n", i, i*8)
		}
	}
	fmt.Fprintln(w)
}

// responsePIDs collects the PID bytes seen in service-01 response frames,
// sorted. It accepts both raw (length-prefixed) and stripped payloads.
func responsePIDs(msgs []canbus.Frame) []obd.PID {
	set := make(map[obd.PID]struct{})
	for _, f := range msgs {
		data := f.Payload()
		if len(data) >= 2 && data[0] != 0x41 && data[1] == 0x41 {
			data = data[1:]
		}
		if len(data) >= 2 && data[0] == 0x41 {
			set[obd.PID(data[1])] = struct{}{}
		}
	}
	pids := make([]obd.PID, 0, len(set))
	for p := range set {
		pids = append(pids, p)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}
