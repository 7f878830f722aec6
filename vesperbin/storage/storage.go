package storage

import (
	"context"
	"io"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Kind is the sensor class of a raw file, inferred from its path.
type Kind string

const (
	KindIMU     Kind = "imu"
	KindAudio   Kind = "aud"
	KindGPS     Kind = "gps"
	KindUnknown Kind = "unknown"
)

// Decodable reports whether the pipeline has a decoder for the kind.
func (k Kind) Decodable() bool {
	return k == KindIMU || k == KindAudio
}

// ClassifyPath sorts a raw file by the sensor name appearing anywhere in its
// path. GPS wins over audio, audio over IMU, matching the tag's folder
// layout.
func ClassifyPath(path string) Kind {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "gps"):
		return KindGPS
	case strings.Contains(lower, "aud"):
		return KindAudio
	case strings.Contains(lower, "imu"):
		return KindIMU
	}
	return KindUnknown
}

// FileDescriptor describes a raw .BIN file available from storage.
type FileDescriptor struct {
	Path    string // slash separated, relative to the storage root
	Session string // tag or session folder the file was recorded in
	Kind    Kind
	Size    int64

	// Digest is set by storages that already know the content hash.
	Digest digest.Digest
}

// Storage abstracts raw file enumeration and sequential reads.
type Storage interface {
	ListFiles(ctx context.Context) ([]FileDescriptor, error)
	OpenFile(ctx context.Context, path string) (io.ReadCloser, error)
}

// FileDigest returns desc.Digest, hashing the file through s when the
// storage did not provide one.
func FileDigest(ctx context.Context, s Storage, desc FileDescriptor) (digest.Digest, error) {
	if desc.Digest != "" {
		return desc.Digest, nil
	}
	rc, err := s.OpenFile(ctx, desc.Path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return digest.Canonical.FromReader(rc)
}
