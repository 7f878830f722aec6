// Package format holds the reverse-engineered byte layout of Vesper .BIN
// containers as data. A new firmware revision is a new Profile, not new
// decoding code.
package format

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	vesperrors "github.com/flaneur2020/vesper-bin/vesperbin/errors"
)

// StreamType is the sensor stream declared by a container header.
type StreamType int

const (
	StreamUnknown StreamType = iota
	StreamIMU
	StreamAudio
)

func (s StreamType) String() string {
	switch s {
	case StreamIMU:
		return "imu"
	case StreamAudio:
		return "audio"
	}
	return "unknown"
}

// StreamForSensor maps the header sensor name to a stream type.
func StreamForSensor(name string) StreamType {
	upper := strings.ToUpper(name)
	switch {
	case strings.HasPrefix(upper, "IMU"):
		return StreamIMU
	case strings.HasPrefix(upper, "AUD"), strings.HasPrefix(upper, "MIC"):
		return StreamAudio
	}
	return StreamUnknown
}

// Magic is the container marker at offset 0, as it appears on disk.
var Magic = []byte{0xDE, 0xAF, 0xDA, 0xC0}

// HeaderLayout locates the header fields. The magic and firmware version
// positions must be stable across profiles since they select the profile.
type HeaderLayout struct {
	Size       int
	Magic      int
	DeviceID   int
	Sensor     int
	SensorLen  int
	Firmware   int
	SampleRate int
	Bitmask    int
	Config     int // four consecutive u32
	SyncWord   int
	Clock      int // hh mm ss
	Date       int // mm dd yy
}

// HeaderV1 is the 150-byte header of every known firmware.
var HeaderV1 = HeaderLayout{
	Size:       150,
	Magic:      0,
	DeviceID:   4,
	Sensor:     8,
	SensorLen:  16,
	Firmware:   24,
	SampleRate: 28,
	Bitmask:    40,
	Config:     44,
	SyncWord:   128,
	Clock:      132,
	Date:       137,
}

// PacketLayout is the fixed-width IMU record. Offsets are relative to the
// packet start; vectors are three consecutive little-endian float32.
type PacketLayout struct {
	Size             int
	Gyro             int
	Accel            int
	Mag              int
	Temperature      int // int16 LE
	TemperatureScale float64
	Timestamp        int
}

// FooterLayout is the metadata trailer at the end of every full audio block.
type FooterLayout struct {
	Size      int
	Timestamp int // packed BCD, TimestampSize bytes
	Sequence  int // u16 LE
	Ticks     int // u32 LE, milliseconds
}

// Profile is one firmware's complete layout and defect table.
type Profile struct {
	Name     string
	Firmware uint16

	Header HeaderLayout
	Packet PacketLayout
	Footer FooterLayout

	IMUBlockSize   int
	AudioBlockSize int

	// Correction is applied to every packed timestamp before interpretation.
	Correction BCDCorrection

	// StartupTrim is the power-on transient removed from audio streams.
	StartupTrim time.Duration
	SampleWidth int // bytes per PCM sample
	MidScale    int // zero-signal value for the sample width
	DCLevel     int // subtracted from every PCM sample
}

// BlockSize returns the framing unit for a stream.
func (p *Profile) BlockSize(s StreamType) int {
	if s == StreamAudio {
		return p.AudioBlockSize
	}
	return p.IMUBlockSize
}

// PacketsPerBlock is the number of whole IMU packets in a full block.
func (p *Profile) PacketsPerBlock() int {
	return p.IMUBlockSize / p.Packet.Size
}

// TrimSamples converts StartupTrim to a sample count at rate.
func (p *Profile) TrimSamples(rate int) int {
	return int((int64(p.StartupTrim)*int64(rate) + int64(time.Second)/2) / int64(time.Second))
}

// WithCorrection returns a copy of p using corr.
func (p *Profile) WithCorrection(corr BCDCorrection) *Profile {
	cp := *p
	cp.Correction = corr
	return &cp
}

// WithStartupTrim returns a copy of p removing d at stream start.
func (p *Profile) WithStartupTrim(d time.Duration) *Profile {
	cp := *p
	cp.StartupTrim = d
	return &cp
}

var packet48 = PacketLayout{
	Size:             48,
	Gyro:             0,
	Accel:            12,
	Mag:              24,
	Temperature:      36,
	TemperatureScale: 0.01,
	Timestamp:        40,
}

var footer14 = FooterLayout{
	Size:      14,
	Timestamp: 0,
	Sequence:  8,
	Ticks:     10,
}

// FW112 is the firmware the layout was reverse-engineered against. It
// stores the month of every packet and footer timestamp one lower than the
// true month. The header start stamp is unaffected.
var FW112 = Profile{
	Name:           "fw112",
	Firmware:       112,
	Header:         HeaderV1,
	Packet:         packet48,
	Footer:         footer14,
	IMUBlockSize:   84 * 48,
	AudioBlockSize: 64 * 1024,
	Correction:     BCDCorrection{Field: FieldMonth, Offset: 1},
	StartupTrim:    17 * time.Millisecond,
	SampleWidth:    2,
	MidScale:       0,
}

// FW113 has the same layout with the month defect fixed.
var FW113 = Profile{
	Name:           "fw113",
	Firmware:       113,
	Header:         HeaderV1,
	Packet:         packet48,
	Footer:         footer14,
	IMUBlockSize:   84 * 48,
	AudioBlockSize: 64 * 1024,
	StartupTrim:    17 * time.Millisecond,
	SampleWidth:    2,
	MidScale:       0,
}

// Registry selects profiles by the firmware version found in the header.
type Registry struct {
	mu       sync.RWMutex
	profiles map[uint16]*Profile
}

// NewRegistry creates a registry holding the given profiles.
func NewRegistry(profiles ...Profile) *Registry {
	r := &Registry{profiles: make(map[uint16]*Profile)}
	for i := range profiles {
		r.Register(profiles[i])
	}
	return r
}

// DefaultRegistry holds every known firmware profile.
func DefaultRegistry() *Registry {
	return NewRegistry(FW112, FW113)
}

// Register adds or replaces the profile for p.Firmware.
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Firmware] = &p
}

// Lookup returns the profile for a firmware version.
func (r *Registry) Lookup(firmware uint16) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[firmware]
	if !ok {
		return nil, vesperrors.ErrUnknownProfile.WithDetail("firmware", firmware)
	}
	return p, nil
}

// OverrideCorrection replaces the BCD correction of one firmware profile.
func (r *Registry) OverrideCorrection(firmware uint16, corr BCDCorrection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[firmware]
	if !ok {
		return vesperrors.ErrUnknownProfile.WithDetail("firmware", firmware)
	}
	r.profiles[firmware] = p.WithCorrection(corr)
	return nil
}

// Firmwares lists the registered firmware versions in ascending order.
func (r *Registry) Firmwares() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint16, 0, len(r.profiles))
	for fw := range r.profiles {
		out = append(out, fw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Profile) String() string {
	return fmt.Sprintf("%s (firmware %d)", p.Name, p.Firmware)
}
