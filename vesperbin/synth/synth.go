// Package synth writes synthetic Vesper containers. It backs the tests of
// every decoding package and the `vesperbin synth` command used to produce
// reference files for tooling.
package synth

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/flaneur2020/vesper-bin/vesperbin/format"
)

// Spec describes the header of a synthetic container.
type Spec struct {
	Profile    format.Profile
	Sensor     string
	DeviceID   uint32
	SampleRate uint32
	Bitmask    uint32
	Config     [4]uint32
	Start      time.Time
}

// Header renders the fixed-size header for spec.
func Header(spec Spec) []byte {
	layout := spec.Profile.Header
	buf := make([]byte, layout.Size)
	copy(buf[layout.Magic:], format.Magic)
	binary.LittleEndian.PutUint32(buf[layout.DeviceID:], spec.DeviceID)
	copy(buf[layout.Sensor:layout.Sensor+layout.SensorLen], spec.Sensor)
	binary.LittleEndian.PutUint16(buf[layout.Firmware:], spec.Profile.Firmware)
	binary.LittleEndian.PutUint32(buf[layout.SampleRate:], spec.SampleRate)
	binary.LittleEndian.PutUint32(buf[layout.Bitmask:], spec.Bitmask)
	for i, c := range spec.Config {
		binary.LittleEndian.PutUint32(buf[layout.Config+4*i:], c)
	}
	binary.LittleEndian.PutUint32(buf[layout.SyncWord:], 0xFFFFFFFF)

	tf := format.FieldsOf(spec.Start)
	buf[layout.Clock] = format.EncodeBCD(tf.Hour)
	buf[layout.Clock+1] = format.EncodeBCD(tf.Minute)
	buf[layout.Clock+2] = format.EncodeBCD(tf.Second)
	buf[layout.Date] = format.EncodeBCD(tf.Month)
	buf[layout.Date+1] = format.EncodeBCD(tf.Day)
	buf[layout.Date+2] = format.EncodeBCD(tf.Year - 2000)
	return buf
}

// Packet is one IMU record before encoding.
type Packet struct {
	Gyro        [3]float32
	Accel       [3]float32
	Mag         [3]float32
	Temperature float64 // °C
	Time        time.Time
}

// EncodePacket renders p with the profile's packet layout, writing the
// timestamp the way that firmware would.
func EncodePacket(p Packet, prof *format.Profile) []byte {
	layout := prof.Packet
	buf := make([]byte, layout.Size)
	putVec(buf[layout.Gyro:], p.Gyro)
	putVec(buf[layout.Accel:], p.Accel)
	putVec(buf[layout.Mag:], p.Mag)
	raw := int16(math.Round(p.Temperature / layout.TemperatureScale))
	binary.LittleEndian.PutUint16(buf[layout.Temperature:], uint16(raw))
	ts := format.EncodeTimestamp(p.Time, prof.Correction)
	copy(buf[layout.Timestamp:], ts[:])
	return buf
}

func putVec(b []byte, v [3]float32) {
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
}

// IMUContainer lays packets out block by block. Each full block holds
// PacketsPerBlock packets; leftover block space is zero padding.
func IMUContainer(spec Spec, packets []Packet) []byte {
	prof := &spec.Profile
	out := Header(spec)
	perBlock := prof.PacketsPerBlock()
	for start := 0; start < len(packets); start += perBlock {
		end := start + perBlock
		if end > len(packets) {
			end = len(packets)
		}
		block := make([]byte, 0, prof.IMUBlockSize)
		for _, p := range packets[start:end] {
			block = append(block, EncodePacket(p, prof)...)
		}
		if end-start == perBlock {
			block = block[:prof.IMUBlockSize]
		}
		out = append(out, block...)
	}
	return out
}

// Footer renders a metadata trailer.
func Footer(prof *format.Profile, t time.Time, seq uint16, ticks uint32) []byte {
	layout := prof.Footer
	buf := make([]byte, layout.Size)
	ts := format.EncodeTimestamp(t, prof.Correction)
	copy(buf[layout.Timestamp:], ts[:])
	binary.LittleEndian.PutUint16(buf[layout.Sequence:], seq)
	binary.LittleEndian.PutUint32(buf[layout.Ticks:], ticks)
	return buf
}

// SamplesPerBlock is the PCM capacity of one full audio block.
func SamplesPerBlock(prof *format.Profile) int {
	return (prof.AudioBlockSize - prof.Footer.Size) / prof.SampleWidth
}

// AudioContainer writes samples as full audio blocks, each closed by a
// footer stamped with the wall-clock time of its last sample. A remainder
// that does not fill a block is written as a footer-less tail.
func AudioContainer(spec Spec, samples []int16) []byte {
	prof := &spec.Profile
	out := Header(spec)
	perBlock := SamplesPerBlock(prof)
	var seq uint16
	for start := 0; start < len(samples); start += perBlock {
		end := start + perBlock
		if end > len(samples) {
			end = len(samples)
		}
		for _, s := range samples[start:end] {
			out = binary.LittleEndian.AppendUint16(out, uint16(s))
		}
		if end-start < perBlock {
			break
		}
		elapsed := time.Duration(end) * time.Second / time.Duration(spec.SampleRate)
		out = append(out, Footer(prof, spec.Start.Add(elapsed), seq, uint32(elapsed/time.Millisecond))...)
		seq++
	}
	return out
}

// Tone returns n samples of a sine at freq Hz with the given peak amplitude.
func Tone(n int, rate int, freq float64, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}
