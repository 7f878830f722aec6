// Package report aggregates the recoverable anomalies of one decode pass.
//
// Nothing in the decoding path drops a warning: decoders append to a Report
// and keep streaming, and the Report is handed to the caller when the pass
// reaches FINISHED.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind classifies a recoverable anomaly.
type Kind int

const (
	// DecodeWarning marks a corrupt packet or footer that was skipped.
	DecodeWarning Kind = iota
	// TruncatedTail marks a final block shorter than the block size.
	TruncatedTail
	// InsufficientData marks an audio stream shorter than the startup trim.
	InsufficientData
	// Discontinuity marks a chunk boundary jump above the amplitude tolerance.
	Discontinuity
	// DriftAnomaly marks an embedded timestamp that went backwards or jumped.
	DriftAnomaly
)

var kindNames = map[Kind]string{
	DecodeWarning:    "DecodeWarning",
	TruncatedTail:    "TruncatedTail",
	InsufficientData: "InsufficientDataWarning",
	Discontinuity:    "DiscontinuityWarning",
	DriftAnomaly:     "DriftAnomaly",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText reads a kind written by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown warning kind %q", text)
}

// Warning is one classified anomaly. Offset is an absolute byte offset in
// the container, SampleIndex a position in the emitted stream; either is -1
// when it does not apply.
type Warning struct {
	Kind        Kind   `json:"kind"`
	Offset      int64  `json:"offset"`
	SampleIndex int64  `json:"sample_index"`
	Message     string `json:"message"`

	// Drift anomalies only, in raw timestamp units.
	Expected int64 `json:"expected,omitempty"`
	Observed int64 `json:"observed,omitempty"`
}

func (w Warning) String() string {
	var b strings.Builder
	b.WriteString(w.Kind.String())
	if w.Offset >= 0 {
		fmt.Fprintf(&b, " @byte %d", w.Offset)
	}
	if w.SampleIndex >= 0 {
		fmt.Fprintf(&b, " @sample %d", w.SampleIndex)
	}
	if w.Message != "" {
		b.WriteString(": ")
		b.WriteString(w.Message)
	}
	return b.String()
}

// State is the decode pass state machine.
type State int

const (
	StateInit State = iota
	StateReadingHeader
	StateStreaming
	StateFinished
	StateFailed
)

var stateNames = map[State]string{
	StateInit:          "INIT",
	StateReadingHeader: "READING_HEADER",
	StateStreaming:     "STREAMING",
	StateFinished:      "FINISHED",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	return stateNames[s]
}

// MarshalText renders the state by name in JSON reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText reads a state written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown report state %q", text)
}

// KindSummary is the count and first occurrence of one warning kind.
type KindSummary struct {
	Count       int   `json:"count"`
	FirstOffset int64 `json:"first_offset"`
	FirstSample int64 `json:"first_sample"`
}

// Report is the final result of a decode pass. It is not safe for
// concurrent use; every pass owns its own Report.
type Report struct {
	Source     string    `json:"source"`
	Digest     string    `json:"digest,omitempty"`
	Stream     string    `json:"stream,omitempty"`
	Profile    string    `json:"profile,omitempty"`
	State      State     `json:"state"`
	Fatal      string    `json:"fatal,omitempty"`
	Blocks     int       `json:"blocks"`
	Samples    int64     `json:"samples"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	Warnings   []Warning `json:"warnings"`
	transition []State
}

// New creates a report in the INIT state.
func New(source string) *Report {
	return &Report{
		Source:     source,
		State:      StateInit,
		Started:    time.Now(),
		transition: []State{StateInit},
	}
}

// Add records a warning.
func (r *Report) Add(w Warning) {
	r.Warnings = append(r.Warnings, w)
}

// Addf records a warning built from its parts.
func (r *Report) Addf(kind Kind, offset, sampleIndex int64, format string, args ...interface{}) {
	r.Add(Warning{
		Kind:        kind,
		Offset:      offset,
		SampleIndex: sampleIndex,
		Message:     fmt.Sprintf(format, args...),
	})
}

// Transition moves the state machine forward. Moving out of a terminal state
// is a programming error and returns an error.
func (r *Report) Transition(to State) error {
	if r.State == StateFinished || r.State == StateFailed {
		return fmt.Errorf("report %s: invalid transition %s -> %s", r.Source, r.State, to)
	}
	if to < r.State {
		return fmt.Errorf("report %s: invalid transition %s -> %s", r.Source, r.State, to)
	}
	r.State = to
	r.transition = append(r.transition, to)
	if to == StateFinished || to == StateFailed {
		r.Finished = time.Now()
	}
	return nil
}

// Fail moves the report to FAILED and records the fatal error.
func (r *Report) Fail(err error) {
	r.State = StateFailed
	r.Fatal = err.Error()
	r.Finished = time.Now()
	r.transition = append(r.transition, StateFailed)
}

// History returns the states the report went through.
func (r *Report) History() []State {
	return append([]State(nil), r.transition...)
}

// Count returns how many warnings of kind were recorded.
func (r *Report) Count(kind Kind) int {
	n := 0
	for _, w := range r.Warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}

// Summary returns counts and first occurrences per kind.
func (r *Report) Summary() map[Kind]KindSummary {
	out := make(map[Kind]KindSummary)
	for _, w := range r.Warnings {
		s, seen := out[w.Kind]
		if !seen {
			s.FirstOffset = w.Offset
			s.FirstSample = w.SampleIndex
		}
		s.Count++
		out[w.Kind] = s
	}
	return out
}

// Failed reports whether the pass ended in FAILED.
func (r *Report) Failed() bool {
	return r.State == StateFailed
}

// Format renders a multi-line human summary, used by the CLI and the log.
func (r *Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", r.Source, r.State)
	if r.Stream != "" {
		fmt.Fprintf(&b, " stream=%s profile=%s", r.Stream, r.Profile)
	}
	fmt.Fprintf(&b, " blocks=%d samples=%d", r.Blocks, r.Samples)
	if r.Fatal != "" {
		fmt.Fprintf(&b, "\n  fatal: %s", r.Fatal)
	}

	summary := r.Summary()
	kinds := make([]Kind, 0, len(summary))
	for k := range summary {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		s := summary[k]
		fmt.Fprintf(&b, "\n  %s x%d (first at byte %d, sample %d)", k, s.Count, s.FirstOffset, s.FirstSample)
	}
	return b.String()
}
