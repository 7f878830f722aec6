package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/opencontainers/go-digest"
)

// MockStorage is a simple in-memory Storage implementation for tests.
type MockStorage struct {
	mu    sync.RWMutex
	files map[string][]byte
	opens map[string]int
}

// NewMockStorage constructs an empty MockStorage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files: make(map[string][]byte),
		opens: make(map[string]int),
	}
}

// ListFiles returns descriptors for all stored files, sorted by path.
func (m *MockStorage) ListFiles(ctx context.Context) ([]FileDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	descs := make([]FileDescriptor, 0, len(m.files))
	for path, data := range m.files {
		descs = append(descs, FileDescriptor{
			Path:    path,
			Session: sessionOf(path),
			Kind:    ClassifyPath(path),
			Size:    int64(len(data)),
			Digest:  digest.FromBytes(data),
		})
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Path < descs[j].Path })
	return descs, nil
}

// OpenFile returns a reader over the stored content.
func (m *MockStorage) OpenFile(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("mock storage: file not found: %s", path)
	}
	m.opens[path]++
	return io.NopCloser(bytes.NewReader(data)), nil
}

// AddFile adds file content to the mock storage.
func (m *MockStorage) AddFile(path string, data []byte) digest.Digest {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[path] = append([]byte(nil), data...)
	return digest.FromBytes(data)
}

// Opens reports how many times path was opened.
func (m *MockStorage) Opens(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opens[path]
}
