package container

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	vesperrors "github.com/flaneur2020/vesper-bin/vesperbin/errors"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
	"github.com/flaneur2020/vesper-bin/vesperbin/logger"
	"github.com/flaneur2020/vesper-bin/vesperbin/report"
)

// Block is one fixed-size framing window of the container payload.
type Block struct {
	Index     int
	Offset    int64 // absolute offset of Data[0] in the container
	Data      []byte
	Stream    format.StreamType
	Truncated bool
}

// BlockSource is a lazy, finite, non-restartable sequence of blocks in file
// order. It follows the bufio.Scanner protocol.
type BlockSource interface {
	Next() bool
	Block() Block
	Err() error
}

// Compression identifies how a container was archived.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// BlockReader yields the blocks that follow the header.
type BlockReader struct {
	name     string
	r        io.Reader
	closer   io.Closer
	digester digest.Digester
	rep      *report.Report

	size   int
	stream format.StreamType
	offset int64
	index  int

	block Block
	err   error
	done  bool

	compression Compression
}

var _ BlockSource = (*BlockReader)(nil)

// Open validates the header of src and returns a reader over its blocks.
// Gzip and zstd archived containers are decompressed transparently. Warnings
// (unreadable start stamp, truncated tail) go to rep.
func Open(name string, src io.Reader, reg *format.Registry, rep *report.Report) (*Header, *BlockReader, error) {
	if reg == nil {
		reg = format.DefaultRegistry()
	}
	if rep == nil {
		rep = report.New(name)
	}

	payload, closer, compression, err := decompress(src)
	if err != nil {
		return nil, nil, vesperrors.NewReadError(name, 0, err)
	}

	digester := digest.Canonical.Digester()
	r := io.TeeReader(payload, digester.Hash())

	headerBuf := make([]byte, format.HeaderV1.Size)
	n, err := io.ReadFull(r, headerBuf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		closeQuietly(closer)
		return nil, nil, vesperrors.NewReadError(name, int64(n), err)
	}

	header, err := ParseHeader(headerBuf[:n], reg)
	if err != nil {
		closeQuietly(closer)
		return nil, nil, err
	}
	if header.StartErr != nil {
		rep.Addf(report.DecodeWarning, int64(header.Profile.Header.Clock), -1,
			"header start time unreadable: %v", header.StartErr)
	}

	logger.Debug("%s: %s stream, %s, %d Hz, device %s (%s)",
		name, header.Stream, header.Profile, header.SampleRate, header.DeviceIDHex(), compression)

	br := &BlockReader{
		name:        name,
		r:           r,
		closer:      closer,
		digester:    digester,
		rep:         rep,
		size:        header.Profile.BlockSize(header.Stream),
		stream:      header.Stream,
		offset:      int64(header.Profile.Header.Size),
		compression: compression,
	}
	return header, br, nil
}

// Next reads the next block. It returns false at the end of the container or
// on a read error; Err distinguishes the two.
func (br *BlockReader) Next() bool {
	if br.done {
		return false
	}

	buf := make([]byte, br.size)
	n, err := io.ReadFull(br.r, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		br.done = true
		return false
	case errors.Is(err, io.ErrUnexpectedEOF):
		br.done = true
	default:
		br.done = true
		br.err = vesperrors.NewReadError(br.name, br.offset+int64(n), err)
		return false
	}

	br.block = Block{
		Index:     br.index,
		Offset:    br.offset,
		Data:      buf[:n],
		Stream:    br.stream,
		Truncated: n < br.size,
	}
	if br.block.Truncated {
		br.rep.Addf(report.TruncatedTail, br.offset, -1,
			"block %d has %d of %d bytes", br.index, n, br.size)
	}

	br.index++
	br.offset += int64(n)
	return true
}

// Block returns the block read by the last successful Next.
func (br *BlockReader) Block() Block {
	return br.block
}

// Err returns the first read error, or nil at a clean end of container.
func (br *BlockReader) Err() error {
	return br.err
}

// Offset is the number of container bytes consumed so far.
func (br *BlockReader) Offset() int64 {
	return br.offset
}

// BlockSize is the full block size of this stream.
func (br *BlockReader) BlockSize() int {
	return br.size
}

// Compression reports how the source was archived.
func (br *BlockReader) Compression() Compression {
	return br.compression
}

// Digest is the sha256 of the decompressed container bytes consumed so far.
// It identifies the whole file once the sequence is exhausted.
func (br *BlockReader) Digest() digest.Digest {
	return br.digester.Digest()
}

// Close releases the decompressor, if any. It does not close the source.
func (br *BlockReader) Close() error {
	if br.closer == nil {
		return nil
	}
	return br.closer.Close()
}

func decompress(src io.Reader) (io.Reader, io.Closer, Compression, error) {
	br := bufio.NewReaderSize(src, 64*1024)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, nil, CompressionNone, err
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, CompressionGzip, fmt.Errorf("open gzip stream: %w", err)
		}
		return zr, zr, CompressionGzip, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, CompressionZstd, fmt.Errorf("open zstd stream: %w", err)
		}
		rc := zr.IOReadCloser()
		return rc, rc, CompressionZstd, nil
	}
	return br, nil, CompressionNone, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
