// Package drift correlates embedded timestamps into a monotonic mapping from
// sample index to wall-clock time.
//
// Raw timestamps are int64 in whatever unit the caller chooses; the pipeline
// uses nanoseconds since the Unix epoch, tests use plain sample units.
package drift

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/flaneur2020/vesper-bin/vesperbin/report"
)

// Point is one embedded timestamp observed at a sample index.
type Point struct {
	Index int64
	Raw   int64
}

// Options tune anomaly detection.
type Options struct {
	// Tolerance is how far a timestamp may go backwards before it is
	// rejected as a DriftAnomaly. Smaller regressions are clamped.
	Tolerance int64

	// NominalPeriod is the expected raw units per sample. When set, forward
	// jumps deviating from it by more than GapTolerance are reported too.
	NominalPeriod float64
	GapTolerance  int64

	// Stride keeps every Stride-th accepted point as an interpolation knot.
	// Every point is still checked. Zero means 1.
	Stride int
}

// Correlator accumulates points. It is single-use: Finish freezes it.
type Correlator struct {
	opts Options

	knots    []Point
	last     Point
	hasLast  bool
	accepted int
	pending  bool

	warnings []report.Warning
	done     *Mapping
}

// NewCorrelator creates an empty correlator.
func NewCorrelator(opts Options) *Correlator {
	if opts.Stride <= 0 {
		opts.Stride = 1
	}
	return &Correlator{opts: opts}
}

// Add checks a point against the last valid reference and records it.
// It returns false when the point was rejected as an anomaly, or after
// Finish.
func (c *Correlator) Add(index, raw int64) bool {
	if c.done != nil {
		return false
	}
	if !c.hasLast {
		c.accept(Point{Index: index, Raw: raw})
		return true
	}

	observed := raw - c.last.Raw
	expected := c.expectedDelta(index)

	if index <= c.last.Index {
		c.anomaly(index, expected, observed, fmt.Sprintf("sample index %d does not advance past %d", index, c.last.Index))
		return false
	}
	if observed < -c.opts.Tolerance {
		c.anomaly(index, expected, observed, fmt.Sprintf("timestamp went back by %d (reference %d at index %d)", -observed, c.last.Raw, c.last.Index))
		return false
	}
	if observed < 0 {
		raw = c.last.Raw
	}
	if c.opts.NominalPeriod > 0 && c.opts.GapTolerance > 0 {
		if dev := observed - expected; dev > c.opts.GapTolerance || dev < -c.opts.GapTolerance {
			c.anomaly(index, expected, observed, fmt.Sprintf("gap of %d where %d was expected", observed, expected))
		}
	}
	c.accept(Point{Index: index, Raw: raw})
	return true
}

func (c *Correlator) accept(p Point) {
	if c.accepted%c.opts.Stride == 0 {
		c.knots = append(c.knots, p)
		c.pending = false
	} else {
		c.pending = true
	}
	c.accepted++
	c.last = p
	c.hasLast = true
}

// expectedDelta predicts the raw delta from the reference to index using the
// nominal period, or the slope of the last knot segment.
func (c *Correlator) expectedDelta(index int64) int64 {
	steps := float64(index - c.last.Index)
	if c.opts.NominalPeriod > 0 {
		return int64(math.Round(steps * c.opts.NominalPeriod))
	}
	n := len(c.knots)
	var a, b Point
	switch {
	case c.pending:
		a, b = c.knots[n-1], c.last
	case n >= 2:
		a, b = c.knots[n-2], c.knots[n-1]
	default:
		return 0
	}
	return int64(math.Round(steps * float64(b.Raw-a.Raw) / float64(b.Index-a.Index)))
}

func (c *Correlator) anomaly(index, expected, observed int64, msg string) {
	c.warnings = append(c.warnings, report.Warning{
		Kind:        report.DriftAnomaly,
		Offset:      -1,
		SampleIndex: index,
		Message:     msg,
		Expected:    expected,
		Observed:    observed,
	})
}

// Warnings returns the anomalies recorded so far.
func (c *Correlator) Warnings() []report.Warning {
	return append([]report.Warning(nil), c.warnings...)
}

// Finish freezes the correlator and returns its mapping. Calling it again
// returns the same mapping.
func (c *Correlator) Finish() *Mapping {
	if c.done != nil {
		return c.done
	}
	if c.pending {
		c.knots = append(c.knots, c.last)
	}
	c.done = &Mapping{knots: c.knots, period: c.opts.NominalPeriod}
	return c.done
}

// Correlate runs a correlator over points in order.
func Correlate(points []Point, opts Options) (*Mapping, []report.Warning) {
	c := NewCorrelator(opts)
	for _, p := range points {
		c.Add(p.Index, p.Raw)
	}
	return c.Finish(), c.Warnings()
}

// Mapping is an immutable piecewise-linear map from sample index to raw
// timestamp. Knots are strictly increasing in index and non-decreasing in raw.
type Mapping struct {
	knots  []Point
	period float64
}

// Len returns the number of knots.
func (m *Mapping) Len() int {
	return len(m.knots)
}

// Knots returns a copy of the interpolation knots.
func (m *Mapping) Knots() []Point {
	return append([]Point(nil), m.knots...)
}

// At returns the raw timestamp of index. Indices outside the knots are
// extrapolated along the nearest segment, or the nominal period when there
// is a single knot. ok is false for an empty mapping.
func (m *Mapping) At(index int64) (raw int64, ok bool) {
	switch len(m.knots) {
	case 0:
		return 0, false
	case 1:
		k := m.knots[0]
		return k.Raw + int64(math.Round(float64(index-k.Index)*m.period)), true
	}

	i := sort.Search(len(m.knots), func(i int) bool { return m.knots[i].Index > index })
	switch {
	case i == 0:
		i = 1
	case i == len(m.knots):
		i = len(m.knots) - 1
	}
	a, b := m.knots[i-1], m.knots[i]
	frac := float64(index-a.Index) / float64(b.Index-a.Index)
	return a.Raw + int64(math.Round(frac*float64(b.Raw-a.Raw))), true
}

// Time interprets At as nanoseconds since the Unix epoch.
func (m *Mapping) Time(index int64) (time.Time, bool) {
	raw, ok := m.At(index)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, raw).UTC(), true
}

// Shift returns a copy with every knot index moved by delta. Audio timelines
// are built on raw footer positions and shifted past the startup trim.
func (m *Mapping) Shift(delta int64) *Mapping {
	knots := make([]Point, len(m.knots))
	for i, k := range m.knots {
		knots[i] = Point{Index: k.Index + delta, Raw: k.Raw}
	}
	return &Mapping{knots: knots, period: m.period}
}
