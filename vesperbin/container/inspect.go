package container

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/flaneur2020/vesper-bin/vesperbin/format"
)

// Inspection is a read-only view of a container used by tooling. Building it
// never runs the decoders.
type Inspection struct {
	Size      int64
	Header    *Header
	HeaderErr error

	WindowOffset int64
	Window       []byte
}

// Inspect reads the header (keeping the parse error instead of failing) and
// a raw window of length bytes at offset.
func Inspect(r io.ReaderAt, size int64, reg *format.Registry, offset int64, length int) (*Inspection, error) {
	if reg == nil {
		reg = format.DefaultRegistry()
	}

	headerLen := int64(format.HeaderV1.Size)
	if size < headerLen {
		headerLen = size
	}
	headerBuf := make([]byte, headerLen)
	if _, err := readAt(r, headerBuf, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	ins := &Inspection{Size: size}
	ins.Header, ins.HeaderErr = ParseHeader(headerBuf, reg)

	window, err := Window(r, size, offset, length)
	if err != nil {
		return nil, err
	}
	ins.WindowOffset = offset
	ins.Window = window
	return ins, nil
}

// Window returns up to length raw bytes at offset, clamped to the file.
func Window(r io.ReaderAt, size int64, offset int64, length int) ([]byte, error) {
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("offset %d outside container of %d bytes", offset, size)
	}
	if length < 0 {
		return nil, fmt.Errorf("negative window length %d", length)
	}
	if rest := size - offset; int64(length) > rest {
		length = int(rest)
	}
	buf := make([]byte, length)
	n, err := readAt(r, buf, offset)
	if err != nil {
		return nil, fmt.Errorf("read window at %d: %w", offset, err)
	}
	return buf[:n], nil
}

// BlockInfo describes one block without decoding its payload.
type BlockInfo struct {
	Index     int
	Offset    int64
	Length    int
	Truncated bool

	FooterRaw []byte
	Footer    *Footer
	FooterErr error
}

// InspectBlock locates block index of a container whose header is h and, for
// audio streams, decodes its footer fields.
func InspectBlock(r io.ReaderAt, size int64, h *Header, index int) (*BlockInfo, error) {
	prof := h.Profile
	blockSize := prof.BlockSize(h.Stream)
	offset := int64(prof.Header.Size) + int64(index)*int64(blockSize)
	if index < 0 || offset >= size {
		return nil, fmt.Errorf("block %d is outside the container", index)
	}

	length := blockSize
	if rest := size - offset; rest < int64(blockSize) {
		length = int(rest)
	}
	info := &BlockInfo{
		Index:     index,
		Offset:    offset,
		Length:    length,
		Truncated: length < blockSize,
	}

	if h.Stream != format.StreamAudio || info.Truncated {
		return info, nil
	}

	raw := make([]byte, prof.Footer.Size)
	if _, err := readAt(r, raw, offset+int64(length-prof.Footer.Size)); err != nil {
		return nil, fmt.Errorf("read footer of block %d: %w", index, err)
	}
	info.FooterRaw = raw
	footer, err := ParseFooter(raw, prof)
	if err != nil {
		info.FooterErr = err
	} else {
		info.Footer = &footer
	}
	return info, nil
}

// HexDump writes data as "OFFSET | HEX | ASCII" rows of 16 bytes. base is
// the absolute offset of data[0]. When boundary falls inside the dump a
// marker row is written after the row that contains it.
func HexDump(w io.Writer, data []byte, base int64, boundary int64) error {
	if _, err := fmt.Fprintf(w, "%-8s | %-48s | %s\n%s\n", "OFFSET", "HEX VALUES", "ASCII", strings.Repeat("-", 75)); err != nil {
		return err
	}
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]

		hexParts := make([]string, len(chunk))
		ascii := make([]byte, len(chunk))
		for j, b := range chunk {
			hexParts[j] = fmt.Sprintf("%02X", b)
			if b >= 32 && b <= 126 {
				ascii[j] = b
			} else {
				ascii[j] = '.'
			}
		}

		rowOffset := base + int64(i)
		if _, err := fmt.Fprintf(w, "%-8d | %-48s | %s\n", rowOffset, strings.Join(hexParts, " "), ascii); err != nil {
			return err
		}
		if boundary > rowOffset && boundary <= rowOffset+16 {
			label := fmt.Sprintf("^ PAYLOAD STARTS AT OFFSET %d ^", boundary)
			if _, err := fmt.Fprintf(w, "%s | %-48s | %s\n", strings.Repeat("-", 8), center(label, 48), strings.Repeat("-", 5)); err != nil {
				return err
			}
		}
	}
	return nil
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	pad := (width - len(s)) / 2
	return strings.Repeat(" ", pad) + s
}

// readAt is io.ReaderAt.ReadAt tolerating io.EOF on a short final read.
func readAt(r io.ReaderAt, buf []byte, off int64) (int, error) {
	n, err := r.ReadAt(buf, off)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}
