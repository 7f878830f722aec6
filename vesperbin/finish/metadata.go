package finish

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	"github.com/flaneur2020/vesper-bin/vesperbin/drift"
)

// StampLayout is the time format used in output file names.
const StampLayout = "20060102_150405"

// Stamp renders t for a file name; a missing time renders as zeros.
func Stamp(t time.Time) string {
	if t.IsZero() {
		return "00000000_000000"
	}
	return t.UTC().Format(StampLayout)
}

// WriteMetadata writes the header sidecar as Key:Value lines. Configs and
// the bitmask are upper-case hex, as the vendor software writes them.
func WriteMetadata(w io.Writer, h *container.Header) error {
	lines := []string{
		"DeviceID:" + h.DeviceIDHex(),
		"HWID:0",
		"FWID:" + strconv.Itoa(int(h.Firmware)),
		"Sensor:" + h.Sensor,
		"SampleRate:" + strconv.FormatUint(uint64(h.SampleRate), 10),
		"WinRate:0",
		"WinLen:0",
	}
	for i, c := range h.Config {
		lines = append(lines, fmt.Sprintf("Config%d:%X", i, c))
	}
	lines = append(lines, fmt.Sprintf("Bitmask:%X", h.Bitmask))

	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}

// WriteTimeline writes the drift mapping knots as sample_index,time rows.
func WriteTimeline(w io.Writer, m *drift.Mapping) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sample_index", "time"}); err != nil {
		return err
	}
	for _, k := range m.Knots() {
		t := time.Unix(0, k.Raw).UTC()
		if err := cw.Write([]string{strconv.FormatInt(k.Index, 10), t.Format(time.RFC3339Nano)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
