package finish_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/klauspost/compress/gzip"

	"github.com/flaneur2020/vesper-bin/vesperbin"
	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	"github.com/flaneur2020/vesper-bin/vesperbin/finish"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
	"github.com/flaneur2020/vesper-bin/vesperbin/imu"
	"github.com/flaneur2020/vesper-bin/vesperbin/synth"
)

var testStart = time.Date(2025, time.September, 29, 7, 34, 51, 0, time.UTC)

func spec(sensor string, rate uint32) synth.Spec {
	return synth.Spec{
		Profile:    format.FW112,
		Sensor:     sensor,
		DeviceID:   0x4764505D,
		SampleRate: rate,
		Bitmask:    0x1F,
		Config:     [4]uint32{10, 0, 255, 4096},
		Start:      testStart,
	}
}

func imuContainer(n int) []byte {
	packets := make([]synth.Packet, n)
	for i := range packets {
		packets[i] = synth.Packet{
			Accel:       [3]float32{1, 2, float32(i)},
			Temperature: 20,
			Time:        testStart.Add(time.Duration(i) * 20 * time.Millisecond),
		}
	}
	return synth.IMUContainer(spec("IMU10", 50), packets)
}

func glob(t *testing.T, pattern string) []string {
	t.Helper()
	matches, err := filepath.Glob(pattern)
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestFinisher_IMU(t *testing.T) {
	root := t.TempDir()
	fin := finish.New(root, container.CompressionNone)

	rep, err := vesperbin.DecodeFile(context.Background(), "tag1/imu/00M.BIN",
		bytes.NewReader(imuContainer(100)), fin.Output("tag1"), nil)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if rep.Samples != 100 {
		t.Fatalf("Samples = %d, want 100", rep.Samples)
	}

	dir := filepath.Join(root, "imu", "tag1")
	csvPath := filepath.Join(dir, "20250929_073451-20250929_073452_4764505D.csv")
	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("CSV not written: %v (have %v)", err, glob(t, filepath.Join(dir, "*")))
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(rows) != 101 {
		t.Fatalf("rows = %d, want header + 100", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(finish.IMUColumns, ",") {
		t.Errorf("header row = %v", rows[0])
	}
	if rows[2][0] != "2025-09-29 07:34:51.020" || rows[2][3] != "20" || rows[2][6] != "1" {
		t.Errorf("row 2 = %v", rows[2])
	}

	meta, err := os.ReadFile(filepath.Join(dir, "20250929_073451_4764505D.txt"))
	if err != nil {
		t.Fatalf("metadata sidecar not written: %v", err)
	}
	for _, want := range []string{"DeviceID:4764505D", "FWID:112", "Sensor:IMU10", "SampleRate:50", "Config0:A", "Config2:FF", "Config3:1000", "Bitmask:1F"} {
		if !strings.Contains(string(meta), want) {
			t.Errorf("metadata missing %q:\n%s", want, meta)
		}
	}

	for _, name := range []string{"20250929_073451_4764505D_timeline.csv", "20250929_073451_4764505D_report.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if parts := glob(t, filepath.Join(dir, ".*.part")); len(parts) != 0 {
		t.Errorf("temporary files left behind: %v", parts)
	}
}

func TestFinisher_CompressedCSV(t *testing.T) {
	root := t.TempDir()
	fin := finish.New(root, container.CompressionGzip)

	if _, err := vesperbin.DecodeFile(context.Background(), "00M.BIN",
		bytes.NewReader(imuContainer(5)), fin.Output("tag1"), nil); err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}

	matches := glob(t, filepath.Join(root, "imu", "tag1", "*.csv.gz"))
	if len(matches) != 1 {
		t.Fatalf("compressed CSV files = %v", matches)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	rows, err := csv.NewReader(zr).ReadAll()
	if err != nil || len(rows) != 6 {
		t.Errorf("rows = %d, err = %v", len(rows), err)
	}
}

func TestFinisher_Audio(t *testing.T) {
	root := t.TempDir()
	fin := finish.New(root, container.CompressionNone)
	s := spec("AUD", 48000)
	perBlock := synth.SamplesPerBlock(&s.Profile)
	raw := synth.AudioContainer(s, synth.Tone(2*perBlock, 48000, 440, 8000))

	rep, err := vesperbin.DecodeFile(context.Background(), "00A.BIN", bytes.NewReader(raw), fin.Output("tag1"), nil)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}

	f, err := os.Open(filepath.Join(root, "aud", "tag1", "20250929_073451_4764505D.wav"))
	if err != nil {
		t.Fatalf("WAV not written: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer() error = %v", err)
	}
	if dec.SampleRate != 48000 || dec.BitDepth != 16 || dec.NumChans != 1 {
		t.Errorf("format = %d Hz %d bit %d ch", dec.SampleRate, dec.BitDepth, dec.NumChans)
	}
	if int64(len(buf.Data)) != rep.Samples {
		t.Errorf("WAV has %d samples, report says %d", len(buf.Data), rep.Samples)
	}
	if want := 2*perBlock - 816; len(buf.Data) != want {
		t.Errorf("WAV has %d samples, want %d", len(buf.Data), want)
	}

	timeline, err := os.ReadFile(filepath.Join(root, "aud", "tag1", "20250929_073451_4764505D_timeline.csv"))
	if err != nil {
		t.Fatalf("timeline not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(timeline)), "\n")
	if len(lines) != 3 {
		t.Errorf("timeline = %q, want header + 2 footers", lines)
	}
}

func TestFinisher_HeaderFailureWritesNothing(t *testing.T) {
	root := t.TempDir()
	fin := finish.New(root, container.CompressionNone)
	raw := imuContainer(10)
	raw[0] = 0

	rep, err := vesperbin.DecodeFile(context.Background(), "bad.BIN", bytes.NewReader(raw), fin.Output("tag1"), nil)
	if err == nil || !rep.Failed() {
		t.Fatalf("DecodeFile() = %v, state %s; want FAILED", err, rep.State)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("output written for a rejected container: %v", entries)
	}
}

func TestIMURecord(t *testing.T) {
	s := imu.Sample{
		Time:        time.Date(2025, 1, 2, 3, 4, 5, 678*int(time.Millisecond), time.UTC),
		Accel:       [3]float64{1.5, -2, 3},
		Gyro:        [3]float64{0.25, 0, 0},
		Mag:         [3]float64{100, 200, 300},
		Temperature: 21.5,
	}
	got := finish.IMURecord(s)
	want := []string{"2025-01-02 03:04:05.678", "4", "5", "678", "1.5", "-2", "3", "0.25", "0", "0", "100", "200", "300", "21.5", "0"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("IMURecord() = %v, want %v", got, want)
	}
	if len(got) != len(finish.IMUColumns) {
		t.Errorf("record has %d fields, want %d", len(got), len(finish.IMUColumns))
	}
}

func TestSummary(t *testing.T) {
	stats := &vesperbin.ConvertStats{
		TotalFiles:     3,
		ConvertedFiles: 1,
		SkippedFiles:   1,
		FailedFiles:    1,
		Failures:       []vesperbin.Failure{{Path: "tag/gps/x.BIN", Reason: "[FORMAT_ERROR] magic marker not found"}},
	}
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	p, err := finish.WriteSummary(t.TempDir(), stats, now)
	if err != nil {
		t.Fatalf("WriteSummary() error = %v", err)
	}
	if filepath.Base(p) != "processing_report_20251001_120000.txt" {
		t.Errorf("summary path = %s", p)
	}
	data, _ := os.ReadFile(p)
	for _, want := range []string{"Total Files Found: 3", "Successfully Parsed: 1", "[X] x.BIN  -> [FORMAT_ERROR]"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("summary missing %q:\n%s", want, data)
		}
	}
}
