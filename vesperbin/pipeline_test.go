package vesperbin

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	"github.com/flaneur2020/vesper-bin/vesperbin/drift"
	vesperrors "github.com/flaneur2020/vesper-bin/vesperbin/errors"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
	"github.com/flaneur2020/vesper-bin/vesperbin/imu"
	"github.com/flaneur2020/vesper-bin/vesperbin/report"
	"github.com/flaneur2020/vesper-bin/vesperbin/synth"
)

var testStart = time.Date(2025, time.December, 31, 23, 59, 58, 0, time.UTC)

// recordingOutput keeps everything a decode pass emits.
type recordingOutput struct {
	header   *container.Header
	samples  []imu.Sample
	pcm      []int16
	timeline *drift.Mapping
	closed   *report.Report
	closes   int

	failIMU error
}

func (o *recordingOutput) Begin(h *container.Header) error {
	o.header = h
	return nil
}

func (o *recordingOutput) IMU(s imu.Sample) error {
	if o.failIMU != nil && len(o.samples) == 10 {
		return o.failIMU
	}
	o.samples = append(o.samples, s)
	return nil
}

func (o *recordingOutput) PCM(samples []int16) error {
	o.pcm = append(o.pcm, samples...)
	return nil
}

func (o *recordingOutput) Timeline(m *drift.Mapping) error {
	o.timeline = m
	return nil
}

func (o *recordingOutput) Close(rep *report.Report) error {
	o.closed = rep
	o.closes++
	return nil
}

func testSpec(sensor string, rate uint32) synth.Spec {
	return synth.Spec{
		Profile:    format.FW112,
		Sensor:     sensor,
		DeviceID:   0x4764505D,
		SampleRate: rate,
		Start:      testStart,
	}
}

func imuPackets(n int) []synth.Packet {
	packets := make([]synth.Packet, n)
	for i := range packets {
		packets[i] = synth.Packet{
			Accel:       [3]float32{0, 0, 1000},
			Temperature: 21,
			Time:        testStart.Add(time.Duration(i) * 20 * time.Millisecond),
		}
	}
	return packets
}

func TestDecodeFile_IMU(t *testing.T) {
	perBlock := format.FW112.PacketsPerBlock()
	raw := synth.IMUContainer(testSpec("IMU10", 50), imuPackets(2*perBlock))
	out := &recordingOutput{}

	rep, err := DecodeFile(context.Background(), "00M.BIN", bytes.NewReader(raw), out, nil)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}

	want := []report.State{report.StateInit, report.StateReadingHeader, report.StateStreaming, report.StateFinished}
	if got := rep.History(); len(got) != len(want) || got[3] != report.StateFinished {
		t.Errorf("History() = %v, want %v", got, want)
	}
	if rep.Samples != int64(2*perBlock) || len(out.samples) != 2*perBlock {
		t.Errorf("Samples = %d, emitted %d, want %d", rep.Samples, len(out.samples), 2*perBlock)
	}
	if rep.Blocks != 2 || rep.Stream != "imu" || rep.Profile != "fw112" {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Warnings) != 0 {
		t.Errorf("warnings = %v", rep.Warnings)
	}
	if rep.Digest == "" {
		t.Error("report digest not set")
	}
	if out.header == nil || out.header.DeviceID != 0x4764505D {
		t.Errorf("Begin() header = %+v", out.header)
	}
	if out.closes != 1 || out.closed != rep {
		t.Errorf("Close() called %d times", out.closes)
	}

	// knots every block plus the last sample
	if out.timeline == nil || out.timeline.Len() != 3 {
		t.Fatalf("timeline = %v", out.timeline)
	}
	raw100, _ := out.timeline.At(100)
	if got := time.Unix(0, raw100).UTC(); !got.Equal(testStart.Add(2 * time.Second)) {
		t.Errorf("time of sample 100 = %v", got)
	}
}

func TestDecodeFile_HeaderFailures(t *testing.T) {
	good := synth.IMUContainer(testSpec("IMU10", 50), imuPackets(5))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   *vesperrors.VesperError
	}{
		{
			name:   "bad magic",
			mutate: func(b []byte) []byte { b[1] = 0x00; return b },
			want:   vesperrors.ErrFormat,
		},
		{
			name:   "gps sensor",
			mutate: func(b []byte) []byte { copy(b[8:], "GPS\x00\x00"); return b },
			want:   vesperrors.ErrFormat,
		},
		{
			name:   "short header",
			mutate: func(b []byte) []byte { return b[:100] },
			want:   vesperrors.ErrFormat,
		},
		{
			name:   "unknown firmware",
			mutate: func(b []byte) []byte { b[24] = 99; return b },
			want:   vesperrors.ErrFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.mutate(append([]byte(nil), good...))
			out := &recordingOutput{}

			rep, err := DecodeFile(context.Background(), "x.BIN", bytes.NewReader(raw), out, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("DecodeFile() error = %v, want %v", err, tt.want)
			}
			if !rep.Failed() || rep.Samples != 0 || rep.Fatal == "" {
				t.Errorf("report = %+v", rep)
			}
			if out.header != nil || len(out.samples) != 0 {
				t.Error("output saw records for a rejected container")
			}
			if out.closes != 1 {
				t.Errorf("Close() called %d times", out.closes)
			}
		})
	}
}

func TestDecodeFile_Cancelled(t *testing.T) {
	raw := synth.IMUContainer(testSpec("IMU10", 50), imuPackets(300))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := DecodeFile(ctx, "00M.BIN", bytes.NewReader(raw), nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("DecodeFile() error = %v, want context.Canceled", err)
	}
	if rep.State != report.StateStreaming {
		t.Errorf("State = %s, want STREAMING", rep.State)
	}
}

func TestDecodeFile_OutputError(t *testing.T) {
	raw := synth.IMUContainer(testSpec("IMU10", 50), imuPackets(50))
	out := &recordingOutput{failIMU: vesperrors.ErrWriteFailed.WithMessage("disk full")}

	rep, err := DecodeFile(context.Background(), "00M.BIN", bytes.NewReader(raw), out, nil)
	if !errors.Is(err, vesperrors.ErrWriteFailed) {
		t.Fatalf("DecodeFile() error = %v, want WRITE_FAILED", err)
	}
	if !rep.Failed() {
		t.Errorf("State = %s, want FAILED", rep.State)
	}
}

func TestDecodeFile_IMUDrift(t *testing.T) {
	packets := imuPackets(120)
	packets[50].Time = packets[50].Time.Add(-time.Second)
	raw := synth.IMUContainer(testSpec("IMU10", 50), packets)

	rep, err := DecodeFile(context.Background(), "00M.BIN", bytes.NewReader(raw), nil, nil)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if rep.Samples != 120 {
		t.Errorf("Samples = %d, want 120", rep.Samples)
	}
	if rep.Count(report.DriftAnomaly) != 1 {
		t.Fatalf("DriftAnomaly count = %d, want 1: %v", rep.Count(report.DriftAnomaly), rep.Warnings)
	}
	for _, w := range rep.Warnings {
		if w.Kind == report.DriftAnomaly && w.SampleIndex != 50 {
			t.Errorf("anomaly at sample %d, want 50", w.SampleIndex)
		}
	}
}

func TestDecodeFile_Audio(t *testing.T) {
	s := testSpec("AUD", 48000)
	perBlock := synth.SamplesPerBlock(&s.Profile)
	trim := s.Profile.TrimSamples(48000)

	tests := []struct {
		name        string
		samples     []int16
		opts        *Options
		wantSamples int64
		wantKinds   map[report.Kind]int
	}{
		{
			name:        "tone",
			samples:     synth.Tone(3*perBlock, 48000, 440, 8000),
			wantSamples: int64(3*perBlock - trim),
			wantKinds:   map[report.Kind]int{},
		},
		{
			name:        "tail shorter than the trim",
			samples:     make([]int16, 500),
			wantSamples: 0,
			wantKinds:   map[report.Kind]int{report.InsufficientData: 1, report.TruncatedTail: 1},
		},
		{
			name: "boundary step",
			samples: func() []int16 {
				pcm := make([]int16, 2*perBlock)
				for i := perBlock; i < len(pcm); i++ {
					pcm[i] = 20000
				}
				return pcm
			}(),
			wantSamples: int64(2*perBlock - trim),
			wantKinds:   map[report.Kind]int{report.Discontinuity: 1},
		},
		{
			name:        "trim disabled",
			samples:     synth.Tone(perBlock, 48000, 440, 8000),
			opts:        &Options{StartupTrim: -1, GapTolerance: time.Second},
			wantSamples: int64(perBlock),
			wantKinds:   map[report.Kind]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := synth.AudioContainer(s, tt.samples)
			out := &recordingOutput{}

			rep, err := DecodeFile(context.Background(), "00A.BIN", bytes.NewReader(raw), out, tt.opts)
			if err != nil {
				t.Fatalf("DecodeFile() error = %v", err)
			}
			if rep.State != report.StateFinished {
				t.Fatalf("State = %s", rep.State)
			}
			if rep.Samples != tt.wantSamples || int64(len(out.pcm)) != tt.wantSamples {
				t.Errorf("Samples = %d, emitted %d, want %d", rep.Samples, len(out.pcm), tt.wantSamples)
			}
			for kind, n := range tt.wantKinds {
				if got := rep.Count(kind); got != n {
					t.Errorf("%s count = %d, want %d", kind, got, n)
				}
			}
			if len(rep.Warnings) != sum(tt.wantKinds) {
				t.Errorf("warnings = %v", rep.Warnings)
			}
			if out.timeline == nil || out.timeline.Len() == 0 {
				t.Error("no timeline")
			}
		})
	}
}

func TestDecodeFile_AudioTimelineSkipsTrim(t *testing.T) {
	s := testSpec("AUD", 48000)
	perBlock := synth.SamplesPerBlock(&s.Profile)
	trim := s.Profile.TrimSamples(48000)
	raw := synth.AudioContainer(s, synth.Tone(3*perBlock, 48000, 440, 8000))
	out := &recordingOutput{}

	if _, err := DecodeFile(context.Background(), "00A.BIN", bytes.NewReader(raw), out, nil); err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	knots := out.timeline.Knots()
	if len(knots) != 3 {
		t.Fatalf("knots = %v, want one per footer", knots)
	}
	for k, p := range knots {
		if want := int64((k+1)*perBlock - trim); p.Index != want {
			t.Errorf("knot %d Index = %d, want %d", k, p.Index, want)
		}
	}
}

func sum(m map[report.Kind]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
