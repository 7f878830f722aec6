package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	vesperrors "github.com/flaneur2020/vesper-bin/vesperbin/errors"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
)

// Header is the decoded fixed-size container header.
//
//	0-3     magic DE AF DA C0
//	4-7     device id (u32 LE)
//	8-23    sensor name (ASCII, NUL padded)
//	24-25   firmware version (u16 LE)
//	28-31   sample rate Hz (u32 LE)
//	40-43   active sensor bitmask
//	44-59   Config0..Config3
//	128-131 timestamp sync word
//	132-134 start time BCD hh mm ss
//	137-139 start date BCD mm dd yy
type Header struct {
	Raw        []byte
	DeviceID   uint32
	Sensor     string
	Firmware   uint16
	SampleRate uint32
	Bitmask    uint32
	Config     [4]uint32
	SyncWord   uint32

	// Start is zero when the BCD start stamp is unreadable; StartErr says why.
	Start    time.Time
	StartErr error

	Stream  format.StreamType
	Profile *format.Profile
}

// DeviceIDHex renders the device id the way the vendor software does.
func (h *Header) DeviceIDHex() string {
	return fmt.Sprintf("%X", h.DeviceID)
}

// ParseHeader validates and decodes a header. Every rejection is a
// FORMAT_ERROR naming the offending offset and bytes.
func ParseHeader(buf []byte, reg *format.Registry) (*Header, error) {
	layout := format.HeaderV1
	if len(buf) < layout.Size {
		return nil, vesperrors.NewFormatError(
			fmt.Sprintf("header truncated: %d of %d bytes", len(buf), layout.Size),
			int64(len(buf)), nil)
	}

	magic := buf[layout.Magic : layout.Magic+len(format.Magic)]
	if !bytes.Equal(magic, format.Magic) {
		return nil, vesperrors.NewFormatError("magic marker not found", int64(layout.Magic), magic)
	}

	h := &Header{
		Raw:        append([]byte(nil), buf[:layout.Size]...),
		DeviceID:   binary.LittleEndian.Uint32(buf[layout.DeviceID:]),
		Sensor:     cString(buf[layout.Sensor : layout.Sensor+layout.SensorLen]),
		Firmware:   binary.LittleEndian.Uint16(buf[layout.Firmware:]),
		SampleRate: binary.LittleEndian.Uint32(buf[layout.SampleRate:]),
		Bitmask:    binary.LittleEndian.Uint32(buf[layout.Bitmask:]),
		SyncWord:   binary.LittleEndian.Uint32(buf[layout.SyncWord:]),
	}
	for i := range h.Config {
		h.Config[i] = binary.LittleEndian.Uint32(buf[layout.Config+4*i:])
	}

	profile, err := reg.Lookup(h.Firmware)
	if err != nil {
		return nil, vesperrors.ErrFormat.
			WithMessage(fmt.Sprintf("unrecognized firmware version %d", h.Firmware)).
			WithDetail("offset", int64(layout.Firmware)).
			WithDetail("bytes", fmt.Sprintf("% X", buf[layout.Firmware:layout.Firmware+2])).
			WithCause(err)
	}
	h.Profile = profile

	h.Stream = format.StreamForSensor(h.Sensor)
	if h.Stream == format.StreamUnknown {
		return nil, vesperrors.NewFormatError(
			fmt.Sprintf("unsupported sensor type %q", h.Sensor),
			int64(layout.Sensor), buf[layout.Sensor:layout.Sensor+layout.SensorLen])
	}

	h.Start, h.StartErr = headerStart(buf, layout)
	return h, nil
}

// headerStart reads the start stamp as written. The firmware month defect
// only affects packet and footer timestamps.
func headerStart(buf []byte, layout format.HeaderLayout) (time.Time, error) {
	raw := []byte{
		buf[layout.Clock], buf[layout.Clock+1], buf[layout.Clock+2],
		buf[layout.Date], buf[layout.Date+1], buf[layout.Date+2],
	}
	var digits [6]int
	for i, b := range raw {
		v, ok := format.DecodeBCD(b)
		if !ok {
			return time.Time{}, &format.NibbleError{Index: i, Byte: b}
		}
		digits[i] = v
	}
	tf := format.TimeFields{
		Hour:   digits[0],
		Minute: digits[1],
		Second: digits[2],
		Month:  digits[3],
		Day:    digits[4],
		Year:   2000 + digits[5],
	}
	return tf.Time()
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return "Unknown"
		}
	}
	return string(b)
}
