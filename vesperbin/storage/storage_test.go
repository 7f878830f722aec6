package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
)

func TestClassifyPath(t *testing.T) {
	tests := []struct {
		path string
		want Kind
	}{
		{"tag1/IMU/00M.BIN", KindIMU},
		{"tag1/aud/00A.BIN", KindAudio},
		{"tag1/GPS/imu_copy/00G.BIN", KindGPS},
		{"tag1/misc/00X.BIN", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ClassifyPath(tt.path); got != tt.want {
				t.Errorf("ClassifyPath(%q) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}

	if KindGPS.Decodable() || !KindAudio.Decodable() {
		t.Error("only IMU and audio files are decodable")
	}
}

func TestLocalStorage(t *testing.T) {
	root := t.TempDir()
	write := func(rel string, data string) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("20250929_tag1/imu/00M.BIN", "imu-data")
	write("20250929_tag1/aud/00A.bin", "audio")
	write("20250929_tag1/gps/00G.BIN", "g")
	write("20250929_tag1/aud/notes.txt", "ignored")
	write("20250930_tag2/IMU/sub/01M.BIN", "x")
	write("stray.BIN", "no session")

	s := NewLocalStorage(root)
	files, err := s.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}

	want := []FileDescriptor{
		{Path: "20250929_tag1/aud/00A.bin", Session: "20250929_tag1", Kind: KindAudio, Size: 5},
		{Path: "20250929_tag1/gps/00G.BIN", Session: "20250929_tag1", Kind: KindGPS, Size: 1},
		{Path: "20250929_tag1/imu/00M.BIN", Session: "20250929_tag1", Kind: KindIMU, Size: 8},
		{Path: "20250930_tag2/IMU/sub/01M.BIN", Session: "20250930_tag2", Kind: KindIMU, Size: 1},
	}
	if len(files) != len(want) {
		t.Fatalf("ListFiles() = %+v, want %d files", files, len(want))
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d = %+v, want %+v", i, files[i], want[i])
		}
	}

	rc, err := s.OpenFile(context.Background(), "20250929_tag1/imu/00M.BIN")
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "imu-data" {
		t.Errorf("OpenFile() content = %q", data)
	}

	dgst, err := FileDigest(context.Background(), s, files[2])
	if err != nil {
		t.Fatalf("FileDigest() error = %v", err)
	}
	if dgst != digest.FromString("imu-data") {
		t.Errorf("FileDigest() = %s", dgst)
	}
}

func TestLocalStorage_MissingRoot(t *testing.T) {
	s := NewLocalStorage(filepath.Join(t.TempDir(), "nope"))
	if _, err := s.ListFiles(context.Background()); err == nil {
		t.Error("ListFiles() on a missing root should fail")
	}
}

func TestMockStorage(t *testing.T) {
	m := NewMockStorage()
	d := m.AddFile("s/imu/a.BIN", []byte("abc"))

	files, err := m.ListFiles(context.Background())
	if err != nil || len(files) != 1 {
		t.Fatalf("ListFiles() = %v, %v", files, err)
	}
	if files[0].Digest != d || files[0].Session != "s" || files[0].Kind != KindIMU {
		t.Errorf("descriptor = %+v", files[0])
	}

	got, err := FileDigest(context.Background(), m, files[0])
	if err != nil || got != d {
		t.Errorf("FileDigest() = %s, %v", got, err)
	}
	if m.Opens("s/imu/a.BIN") != 0 {
		t.Error("FileDigest should reuse the known digest")
	}

	if _, err := m.OpenFile(context.Background(), "missing"); err == nil {
		t.Error("OpenFile(missing) should fail")
	}
}
