package vesperbin

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/flaneur2020/vesper-bin/vesperbin/audio"
	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	"github.com/flaneur2020/vesper-bin/vesperbin/drift"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
	"github.com/flaneur2020/vesper-bin/vesperbin/imu"
	"github.com/flaneur2020/vesper-bin/vesperbin/logger"
	"github.com/flaneur2020/vesper-bin/vesperbin/report"
)

// Output receives the records of one decode pass, in order. Begin is called
// once the header is valid; nothing is called for a file that fails header
// validation. Close is always called.
type Output interface {
	Begin(h *container.Header) error
	IMU(s imu.Sample) error
	PCM(samples []int16) error
	Timeline(m *drift.Mapping) error
	Close(rep *report.Report) error
}

// Discard is an Output that drops every record.
var Discard Output = discard{}

type discard struct{}

func (discard) Begin(*container.Header) error { return nil }
func (discard) IMU(imu.Sample) error          { return nil }
func (discard) PCM([]int16) error             { return nil }
func (discard) Timeline(*drift.Mapping) error { return nil }
func (discard) Close(*report.Report) error    { return nil }

// Options tune a decode pass. A nil *Options means DefaultOptions.
type Options struct {
	Registry *format.Registry

	// StartupTrim overrides the profile's startup transient when non-zero.
	// A negative value keeps the whole stream.
	StartupTrim time.Duration
	// DCLevel is subtracted from audio samples on top of the profile's.
	DCLevel int
	// DiscontinuityTolerance is the chunk boundary jump that is reported.
	DiscontinuityTolerance int

	// DriftTolerance is how far an embedded timestamp may go backwards
	// before it is an anomaly; GapTolerance how far it may deviate from the
	// nominal sample period.
	DriftTolerance time.Duration
	GapTolerance   time.Duration
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() *Options {
	return &Options{
		Registry:               format.DefaultRegistry(),
		DiscontinuityTolerance: audio.DefaultTolerance,
		DriftTolerance:         0,
		GapTolerance:           time.Second,
	}
}

// DecodeFile runs the full pipeline over one container: header validation,
// dispatch on the stream type, decoding, artifact correction and drift
// recovery. The report is returned in every case.
//
// A header that fails validation ends the pass in FAILED with a FORMAT_ERROR
// and out sees no records. Per-record anomalies are warnings only. ctx is
// checked between blocks; a cancelled pass returns ctx.Err() and its report
// stays in STREAMING.
func DecodeFile(ctx context.Context, name string, r io.Reader, out Output, opts *Options) (rep *report.Report, err error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Registry == nil {
		opts.Registry = format.DefaultRegistry()
	}
	if out == nil {
		out = Discard
	}

	rep = report.New(name)
	defer func() {
		if cerr := out.Close(rep); cerr != nil && err == nil {
			err = cerr
			if !rep.Failed() {
				rep.Fail(cerr)
			}
		}
	}()

	_ = rep.Transition(report.StateReadingHeader)
	h, br, err := container.Open(name, r, opts.Registry, rep)
	if err != nil {
		rep.Fail(err)
		logger.Error("%s: %v", name, err)
		return rep, err
	}
	defer br.Close()

	rep.Stream = h.Stream.String()
	rep.Profile = h.Profile.Name
	_ = rep.Transition(report.StateStreaming)

	if err := out.Begin(h); err != nil {
		rep.Fail(err)
		return rep, err
	}

	blocks := &contextBlocks{ctx: ctx, src: br}
	switch h.Stream {
	case format.StreamIMU:
		err = decodeIMU(h, blocks, out, opts, rep)
	case format.StreamAudio:
		err = decodeAudio(h, blocks, out, opts, rep)
	default:
		err = fmt.Errorf("no decoder for %s stream", h.Stream)
	}
	rep.Blocks = blocks.n

	if err != nil {
		if ctx.Err() != nil {
			logger.Info("%s: stopped after %d blocks: %v", name, blocks.n, err)
			return rep, err
		}
		rep.Fail(err)
		logger.Error("%s: %v", name, err)
		return rep, err
	}

	rep.Digest = br.Digest().String()
	_ = rep.Transition(report.StateFinished)
	logger.Info("%s", rep.Format())
	return rep, nil
}

func decodeIMU(h *container.Header, blocks container.BlockSource, out Output, opts *Options, rep *report.Report) error {
	corr := drift.NewCorrelator(driftOptions(h, opts, h.Profile.PacketsPerBlock()))
	dec := imu.NewDecoder(blocks, h.Profile, rep)
	for dec.Next() {
		s := dec.Sample()
		corr.Add(s.Index, s.Time.UnixNano())
		if err := out.IMU(s); err != nil {
			return err
		}
	}
	if err := dec.Err(); err != nil {
		return err
	}
	rep.Samples = dec.Emitted()
	return finishTimeline(h, corr, 0, out, rep)
}

func decodeAudio(h *container.Header, blocks container.BlockSource, out Output, opts *Options, rep *report.Report) error {
	prof := h.Profile
	trim := prof.TrimSamples(int(h.SampleRate))
	switch {
	case opts.StartupTrim < 0:
		trim = 0
	case opts.StartupTrim > 0:
		trim = prof.WithStartupTrim(opts.StartupTrim).TrimSamples(int(h.SampleRate))
	}

	fixer := audio.NewCorrector(audio.CorrectorOptions{
		TrimSamples: trim,
		Tolerance:   opts.DiscontinuityTolerance,
		DCLevel:     prof.DCLevel + opts.DCLevel,
	}, rep)
	corr := drift.NewCorrelator(driftOptions(h, opts, 1))

	dec := audio.NewDecoder(blocks, prof, rep)
	for dec.Next() {
		c := dec.Chunk()
		if pcm := fixer.Push(c.PCM); len(pcm) > 0 {
			if err := out.PCM(pcm); err != nil {
				return err
			}
		}
		if c.Footer != nil {
			corr.Add(c.Footer.SampleIndex, c.Footer.Time.UnixNano())
		}
	}
	if err := dec.Err(); err != nil {
		return err
	}
	fixer.Finish()
	rep.Samples = fixer.Emitted()
	// footer positions move into trimmed-stream coordinates
	return finishTimeline(h, corr, -int64(trim), out, rep)
}

// finishTimeline freezes the drift mapping, built on raw sample indices, and
// moves it by shift into emitted-sample coordinates. When the stream carried
// no usable timestamp the header start anchors raw sample 0.
func finishTimeline(h *container.Header, corr *drift.Correlator, shift int64, out Output, rep *report.Report) error {
	m := corr.Finish()
	if m.Len() == 0 && !h.Start.IsZero() {
		fallback := drift.NewCorrelator(driftOptions(h, nil, 1))
		fallback.Add(0, h.Start.UnixNano())
		m = fallback.Finish()
	}
	for _, w := range corr.Warnings() {
		w.SampleIndex += shift
		rep.Add(w)
	}
	return out.Timeline(m.Shift(shift))
}

func driftOptions(h *container.Header, opts *Options, stride int) drift.Options {
	o := drift.Options{Stride: stride}
	if h.SampleRate > 0 {
		o.NominalPeriod = float64(time.Second) / float64(h.SampleRate)
	}
	if opts != nil {
		o.Tolerance = int64(opts.DriftTolerance)
		o.GapTolerance = int64(opts.GapTolerance)
	}
	return o
}

// contextBlocks stops a block sequence once ctx is done and counts blocks.
type contextBlocks struct {
	ctx context.Context
	src container.BlockSource
	n   int
	err error
}

func (c *contextBlocks) Next() bool {
	if c.err != nil {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.src.Next() {
		c.err = c.src.Err()
		return false
	}
	c.n++
	return true
}

func (c *contextBlocks) Block() container.Block {
	return c.src.Block()
}

func (c *contextBlocks) Err() error {
	return c.err
}
