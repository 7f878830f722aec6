package audio

import (
	"math"

	"github.com/flaneur2020/vesper-bin/vesperbin/report"
)

// DefaultTolerance is the largest sample-to-sample jump accepted across a
// chunk boundary.
const DefaultTolerance = 15000

// CorrectorOptions configure artifact removal.
type CorrectorOptions struct {
	// TrimSamples leading samples are dropped unconditionally.
	TrimSamples int
	// Tolerance is the boundary jump above which a Discontinuity is
	// reported. Zero means DefaultTolerance.
	Tolerance int
	// DCLevel is subtracted from every sample.
	DCLevel int
}

// Corrector removes the startup transient from a chunked stream and checks
// chunk boundaries for clicks. Input chunks are never modified.
type Corrector struct {
	opts CorrectorOptions
	rep  *report.Report

	seen    int64
	emitted int64
	last    int16
	hasLast bool
}

// NewCorrector creates a corrector reporting to rep.
func NewCorrector(opts CorrectorOptions, rep *report.Report) *Corrector {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if rep == nil {
		rep = report.New("")
	}
	return &Corrector{opts: opts, rep: rep}
}

// Push corrects the next chunk and returns the samples to emit, which may be
// empty while the startup trim is still being consumed.
func (c *Corrector) Push(pcm []int16) []int16 {
	skip := int64(c.opts.TrimSamples) - c.seen
	if skip < 0 {
		skip = 0
	}
	c.seen += int64(len(pcm))
	if skip >= int64(len(pcm)) {
		return nil
	}

	out := make([]int16, len(pcm)-int(skip))
	for i, s := range pcm[skip:] {
		out[i] = c.level(s)
	}

	if skip == 0 && c.hasLast {
		jump := int(out[0]) - int(c.last)
		if jump > c.opts.Tolerance || -jump > c.opts.Tolerance {
			c.rep.Add(report.Warning{
				Kind:        report.Discontinuity,
				Offset:      -1,
				SampleIndex: c.emitted,
				Message:     "chunk boundary jump exceeds tolerance",
				Expected:    int64(c.opts.Tolerance),
				Observed:    int64(jump),
			})
		}
	}

	c.emitted += int64(len(out))
	c.last = out[len(out)-1]
	c.hasLast = true
	return out
}

func (c *Corrector) level(s int16) int16 {
	v := int(s) - c.opts.DCLevel
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// Finish ends the stream. A stream that the trim consumed entirely is
// reported as InsufficientData.
func (c *Corrector) Finish() {
	if c.opts.TrimSamples > 0 && c.emitted == 0 {
		c.rep.Addf(report.InsufficientData, -1, 0,
			"stream of %d samples is not longer than the %d-sample startup trim", c.seen, c.opts.TrimSamples)
	}
}

// Emitted is the corrected sample count so far.
func (c *Corrector) Emitted() int64 {
	return c.emitted
}

// Correct runs a corrector over whole chunks.
func Correct(chunks [][]int16, opts CorrectorOptions) ([]int16, []report.Warning) {
	rep := report.New("")
	c := NewCorrector(opts, rep)
	out := []int16{}
	for _, pcm := range chunks {
		out = append(out, c.Push(pcm)...)
	}
	c.Finish()
	return out, rep.Warnings
}
