// Package audio decodes PCM audio containers and removes the logger's
// hardware artifacts from the resulting stream.
package audio

import (
	"encoding/binary"

	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
	"github.com/flaneur2020/vesper-bin/vesperbin/report"
)

// Footer is a decoded block trailer placed in the raw sample stream.
// SampleIndex is the number of raw samples emitted up to the end of its
// block.
type Footer struct {
	container.Footer
	Block       int
	Offset      int64
	SampleIndex int64
}

// Chunk is the PCM payload of one block. Footer is nil for a truncated tail
// or an unreadable trailer.
type Chunk struct {
	Block       int
	Offset      int64
	FirstSample int64
	PCM         []int16
	Footer      *Footer
}

// Decoder splits audio blocks into PCM chunks and footers.
type Decoder struct {
	blocks container.BlockSource
	prof   *format.Profile
	rep    *report.Report

	chunk   Chunk
	samples int64
	err     error
}

// NewDecoder creates a decoder over blocks of an audio container.
func NewDecoder(blocks container.BlockSource, prof *format.Profile, rep *report.Report) *Decoder {
	if rep == nil {
		rep = report.New("")
	}
	return &Decoder{blocks: blocks, prof: prof, rep: rep}
}

// Next decodes the next block.
func (d *Decoder) Next() bool {
	if !d.blocks.Next() {
		d.err = d.blocks.Err()
		return false
	}
	b := d.blocks.Block()
	payload, trailer := container.SplitFooter(b, d.prof.AudioBlockSize, d.prof.Footer)

	width := d.prof.SampleWidth
	if extra := len(payload) % width; extra != 0 {
		d.rep.Addf(report.DecodeWarning, b.Offset+int64(len(payload)-extra), d.samples+int64(len(payload)/width),
			"dropped %d trailing byte(s) of a partial sample", extra)
		payload = payload[:len(payload)-extra]
	}

	pcm := make([]int16, len(payload)/width)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(payload[i*width:]))
	}

	d.chunk = Chunk{
		Block:       b.Index,
		Offset:      b.Offset,
		FirstSample: d.samples,
		PCM:         pcm,
	}
	d.samples += int64(len(pcm))

	if trailer != nil {
		footerOffset := b.Offset + int64(len(b.Data)-len(trailer))
		f, err := container.ParseFooter(trailer, d.prof)
		if err != nil {
			d.rep.Addf(report.DecodeWarning, footerOffset, d.samples, "footer of block %d skipped: %v", b.Index, err)
		} else {
			d.chunk.Footer = &Footer{
				Footer:      f,
				Block:       b.Index,
				Offset:      footerOffset,
				SampleIndex: d.samples,
			}
		}
	}
	return true
}

// Chunk returns the chunk decoded by the last successful Next.
func (d *Decoder) Chunk() Chunk {
	return d.chunk
}

// Err returns the error that ended the block sequence, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Samples is the raw sample count emitted so far.
func (d *Decoder) Samples() int64 {
	return d.samples
}
