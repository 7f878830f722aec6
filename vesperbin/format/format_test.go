package format

import (
	"errors"
	"testing"
	"time"

	vesperrors "github.com/flaneur2020/vesper-bin/vesperbin/errors"
)

func TestDecodeBCD(t *testing.T) {
	tests := []struct {
		name   string
		input  byte
		want   int
		wantOK bool
	}{
		{name: "zero", input: 0x00, want: 0, wantOK: true},
		{name: "twenty five", input: 0x25, want: 25, wantOK: true},
		{name: "ninety nine", input: 0x99, want: 99, wantOK: true},
		{name: "high nibble invalid", input: 0xA1, wantOK: false},
		{name: "low nibble invalid", input: 0x1F, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeBCD(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("DecodeBCD(0x%02X) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("DecodeBCD(0x%02X) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecodeTimestamp_FirmwareVariantsAgree(t *testing.T) {
	want := time.Date(2025, time.September, 29, 7, 34, 51, 250*int(time.Millisecond), time.UTC)

	defective := EncodeTimestamp(want, FW112.Correction)
	fixed := EncodeTimestamp(want, FW113.Correction)

	if defective == fixed {
		t.Fatal("fw112 and fw113 encodings should differ in the month byte")
	}
	if defective[1] != 0x08 {
		t.Errorf("fw112 month byte = 0x%02X, want 0x08", defective[1])
	}

	got112, err := DecodeTimestamp(defective[:], FW112.Correction)
	if err != nil {
		t.Fatalf("DecodeTimestamp(fw112) error = %v", err)
	}
	got113, err := DecodeTimestamp(fixed[:], FW113.Correction)
	if err != nil {
		t.Fatalf("DecodeTimestamp(fw113) error = %v", err)
	}

	if !got112.Equal(want) {
		t.Errorf("fw112 time = %v, want %v", got112, want)
	}
	if !got113.Equal(got112) {
		t.Errorf("fw113 time = %v, want %v", got113, got112)
	}
}

func TestDecodeTimestamp_Invalid(t *testing.T) {
	good := EncodeTimestamp(time.Date(2025, time.January, 31, 23, 59, 59, 0, time.UTC), BCDCorrection{})

	tests := []struct {
		name      string
		mutate    func(b []byte)
		corr      BCDCorrection
		wantIndex int // -1 when the failure is a range error
	}{
		{
			name:      "bad nibble in seconds",
			mutate:    func(b []byte) { b[5] = 0x5C },
			wantIndex: 5,
		},
		{
			name:      "bad nibble in millis",
			mutate:    func(b []byte) { b[7] = 0xF0 },
			wantIndex: 7,
		},
		{
			name:      "month thirteen",
			mutate:    func(b []byte) { b[1] = 0x13 },
			wantIndex: -1,
		},
		{
			name:      "february thirtieth",
			mutate:    func(b []byte) { b[1] = 0x02; b[2] = 0x30 },
			wantIndex: -1,
		},
		{
			name:      "correction pushes month out of range",
			mutate:    func(b []byte) { b[1] = 0x12 },
			corr:      BCDCorrection{Field: FieldMonth, Offset: 1},
			wantIndex: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := good
			tt.mutate(b[:])
			_, err := DecodeTimestamp(b[:], tt.corr)
			if err == nil {
				t.Fatal("DecodeTimestamp() error = nil, want error")
			}
			var nibbleErr *NibbleError
			if tt.wantIndex >= 0 {
				if !errors.As(err, &nibbleErr) {
					t.Fatalf("error = %v, want *NibbleError", err)
				}
				if nibbleErr.Index != tt.wantIndex {
					t.Errorf("NibbleError.Index = %d, want %d", nibbleErr.Index, tt.wantIndex)
				}
			} else if errors.As(err, &nibbleErr) {
				t.Errorf("error = %v, want a range error", err)
			}
		})
	}
}

func TestProfile_TrimSamples(t *testing.T) {
	tests := []struct {
		rate int
		want int
	}{
		{rate: 48000, want: 816},
		{rate: 44100, want: 750},
		{rate: 8000, want: 136},
		{rate: 0, want: 0},
	}

	for _, tt := range tests {
		if got := FW112.TrimSamples(tt.rate); got != tt.want {
			t.Errorf("TrimSamples(%d) = %d, want %d", tt.rate, got, tt.want)
		}
	}
}

func TestProfile_Geometry(t *testing.T) {
	if got := FW112.PacketsPerBlock(); got != 84 {
		t.Errorf("PacketsPerBlock() = %d, want 84", got)
	}
	if got := FW112.BlockSize(StreamAudio); got != 65536 {
		t.Errorf("BlockSize(audio) = %d, want 65536", got)
	}
	if got := FW112.BlockSize(StreamIMU); got != 4032 {
		t.Errorf("BlockSize(imu) = %d, want 4032", got)
	}
	// the 8-byte BCD stamp closes the packet and whole packets fill the block
	if p := FW112.Packet; p.Timestamp+TimestampSize != p.Size {
		t.Errorf("timestamp ends at %d, packet size %d", p.Timestamp+TimestampSize, p.Size)
	}
	if rest := FW112.BlockSize(StreamIMU) % FW112.Packet.Size; rest != 0 {
		t.Errorf("IMU block leaves a %d-byte tail", rest)
	}
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()

	p, err := reg.Lookup(112)
	if err != nil {
		t.Fatalf("Lookup(112) error = %v", err)
	}
	if p.Name != "fw112" {
		t.Errorf("Lookup(112).Name = %q, want fw112", p.Name)
	}

	if _, err := reg.Lookup(7); !errors.Is(err, vesperrors.ErrUnknownProfile) {
		t.Errorf("Lookup(7) error = %v, want ErrUnknownProfile", err)
	}

	if err := reg.OverrideCorrection(112, BCDCorrection{}); err != nil {
		t.Fatalf("OverrideCorrection() error = %v", err)
	}
	p, _ = reg.Lookup(112)
	if !p.Correction.IsZero() {
		t.Errorf("correction after override = %+v, want zero", p.Correction)
	}
	if FW112.Correction.IsZero() {
		t.Error("override must not modify the package-level FW112 profile")
	}

	got := reg.Firmwares()
	if len(got) != 2 || got[0] != 112 || got[1] != 113 {
		t.Errorf("Firmwares() = %v, want [112 113]", got)
	}
}

func TestStreamForSensor(t *testing.T) {
	tests := []struct {
		sensor string
		want   StreamType
	}{
		{sensor: "IMU10", want: StreamIMU},
		{sensor: "imu", want: StreamIMU},
		{sensor: "AUD", want: StreamAudio},
		{sensor: "MIC1", want: StreamAudio},
		{sensor: "GPS", want: StreamUnknown},
		{sensor: "", want: StreamUnknown},
	}

	for _, tt := range tests {
		if got := StreamForSensor(tt.sensor); got != tt.want {
			t.Errorf("StreamForSensor(%q) = %v, want %v", tt.sensor, got, tt.want)
		}
	}
}
