// Package imu decodes the fixed-width 10-DOF packets of an IMU container.
package imu

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
	"github.com/flaneur2020/vesper-bin/vesperbin/report"
)

// Sample is one decoded IMU packet. Index counts emitted samples; Offset is
// the absolute byte offset of the packet in the container.
type Sample struct {
	Index       int64
	Offset      int64
	Time        time.Time
	Accel       [3]float64 // mg
	Gyro        [3]float64 // dps
	Mag         [3]float64 // mGauss
	Temperature float64    // °C
}

// Decoder turns a block sequence into samples, in arrival order.
type Decoder struct {
	blocks container.BlockSource
	prof   *format.Profile
	rep    *report.Report

	data   []byte
	base   int64
	cursor int

	sample  Sample
	emitted int64
	err     error
}

// NewDecoder creates a decoder reading blocks with prof's packet layout.
// Corrupt packets are skipped and recorded in rep.
func NewDecoder(blocks container.BlockSource, prof *format.Profile, rep *report.Report) *Decoder {
	if rep == nil {
		rep = report.New("")
	}
	return &Decoder{blocks: blocks, prof: prof, rep: rep}
}

// Next advances to the next valid sample.
func (d *Decoder) Next() bool {
	size := d.prof.Packet.Size
	for {
		for d.cursor+size <= len(d.data) {
			p := d.data[d.cursor : d.cursor+size]
			offset := d.base + int64(d.cursor)
			d.cursor += size

			if isErased(p) {
				if d.erasedToEnd() {
					d.cursor = len(d.data)
					continue
				}
				d.rep.Addf(report.DecodeWarning, offset, -1, "packet skipped: erased slot inside the block")
				continue
			}
			s, err := DecodePacket(p, d.prof)
			if err != nil {
				d.rep.Addf(report.DecodeWarning, offset, -1, "packet skipped: %v", err)
				continue
			}
			s.Index = d.emitted
			s.Offset = offset
			d.emitted++
			d.sample = s
			return true
		}

		if !d.blocks.Next() {
			d.err = d.blocks.Err()
			return false
		}
		b := d.blocks.Block()
		d.data = b.Data
		d.base = b.Offset
		d.cursor = 0
	}
}

// Sample returns the sample decoded by the last successful Next.
func (d *Decoder) Sample() Sample {
	return d.sample
}

// Err returns the error that ended the underlying block sequence, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Emitted is the number of samples produced so far.
func (d *Decoder) Emitted() int64 {
	return d.emitted
}

// DecodePacket decodes one packet. Index and Offset are left zero.
func DecodePacket(p []byte, prof *format.Profile) (Sample, error) {
	layout := prof.Packet
	ts, err := format.DecodeTimestamp(p[layout.Timestamp:layout.Timestamp+format.TimestampSize], prof.Correction)
	if err != nil {
		return Sample{}, err
	}
	raw := int16(binary.LittleEndian.Uint16(p[layout.Temperature:]))
	return Sample{
		Time:        ts,
		Gyro:        vec(p[layout.Gyro:]),
		Accel:       vec(p[layout.Accel:]),
		Mag:         vec(p[layout.Mag:]),
		Temperature: float64(raw) * layout.TemperatureScale,
	}, nil
}

func vec(b []byte) [3]float64 {
	var v [3]float64
	for i := range v {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return v
}

// erasedToEnd reports whether every whole slot after the cursor is erased,
// which makes the current slot part of the block's padding tail.
func (d *Decoder) erasedToEnd() bool {
	size := d.prof.Packet.Size
	for i := d.cursor; i+size <= len(d.data); i += size {
		if !isErased(d.data[i : i+size]) {
			return false
		}
	}
	return true
}

// isErased reports whether a packet slot holds only 0xFF or only 0x00, the
// way the logger leaves slots it never wrote.
func isErased(p []byte) bool {
	first := p[0]
	if first != 0x00 && first != 0xFF {
		return false
	}
	for _, b := range p[1:] {
		if b != first {
			return false
		}
	}
	return true
}
