package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flaneur2020/vesper-bin/vesperbin/logger"
)

// LocalStorage serves raw files from a folder laid out as one subfolder per
// tag session: <root>/<session>/**/<name>.BIN.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a storage rooted at root.
func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

// Root returns the storage root.
func (s *LocalStorage) Root() string {
	return s.root
}

// ListFiles walks every session folder for .BIN files. Files directly under
// the root belong to no session and are ignored.
func (s *LocalStorage) ListFiles(ctx context.Context) ([]FileDescriptor, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw data folder: %w", err)
	}

	var descs []FileDescriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		session := entry.Name()
		counts := map[Kind]int{}

		err := filepath.WalkDir(filepath.Join(s.root, session), func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".bin") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(s.root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			kind := ClassifyPath(rel)
			if kind == KindUnknown {
				logger.Warn("sensor type not found for %s", rel)
			}
			counts[kind]++
			descs = append(descs, FileDescriptor{
				Path:    rel,
				Session: session,
				Kind:    kind,
				Size:    info.Size(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan session %s: %w", session, err)
		}
		logger.Info("found tag %q: %d GPS, %d audio, %d IMU",
			session, counts[KindGPS], counts[KindAudio], counts[KindIMU])
	}

	sort.Slice(descs, func(i, j int) bool { return descs[i].Path < descs[j].Path })
	logger.Info("scan complete: %d files", len(descs))
	return descs, nil
}

// OpenFile opens a file by its storage-relative path.
func (s *LocalStorage) OpenFile(ctx context.Context, rel string) (io.ReadCloser, error) {
	clean := path.Clean("/" + rel)
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(clean)))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", rel, err)
	}
	return f, nil
}

func sessionOf(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}
