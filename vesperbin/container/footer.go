package container

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/flaneur2020/vesper-bin/vesperbin/format"
)

// Footer is the metadata trailer written at the end of every full audio
// block. Ticks is the logger's millisecond RTC counter.
type Footer struct {
	Time     time.Time
	Sequence uint16
	Ticks    uint32
}

// SplitFooter separates a full audio block into its payload and footer
// bytes. A block shorter than a full block carries no footer.
func SplitFooter(b Block, blockSize int, layout format.FooterLayout) (payload, footer []byte) {
	if b.Truncated || len(b.Data) < blockSize || len(b.Data) < layout.Size {
		return b.Data, nil
	}
	cut := len(b.Data) - layout.Size
	return b.Data[:cut], b.Data[cut:]
}

// ParseFooter decodes footer bytes with the profile's layout and timestamp
// correction.
func ParseFooter(p []byte, prof *format.Profile) (Footer, error) {
	layout := prof.Footer
	if len(p) != layout.Size {
		return Footer{}, fmt.Errorf("footer is %d bytes, want %d", len(p), layout.Size)
	}
	ts, err := format.DecodeTimestamp(p[layout.Timestamp:layout.Timestamp+format.TimestampSize], prof.Correction)
	if err != nil {
		return Footer{}, fmt.Errorf("footer timestamp: %w", err)
	}
	return Footer{
		Time:     ts,
		Sequence: binary.LittleEndian.Uint16(p[layout.Sequence:]),
		Ticks:    binary.LittleEndian.Uint32(p[layout.Ticks:]),
	}, nil
}
