package audio

import (
	"encoding/binary"
)

// Diagnosis names a recognized click period.
type Diagnosis int

const (
	DiagnosisNone Diagnosis = iota
	Diagnosis64K
	Diagnosis128K
)

func (d Diagnosis) String() string {
	switch d {
	case Diagnosis64K:
		return "64KB (65536 byte) page artifacts"
	case Diagnosis128K:
		return "128KB block artifacts"
	}
	return "no block periodicity"
}

// ClickOptions configure DetectClicks. Zero values take the defaults the
// field tool has always used.
type ClickOptions struct {
	Threshold int   // amplitude jump, default 15000
	Debounce  int   // samples, default 100
	Base      int64 // absolute byte offset of the first sample
}

// Click is one debounced discontinuity. Index is the sample before the
// jump, Offset its absolute byte offset.
type Click struct {
	Index  int64
	Offset int64
	Jump   int
}

// ClickReport summarizes the clicks of a raw stream.
type ClickReport struct {
	Samples   int
	RawJumps  int
	Clicks    []Click
	Intervals []int64 // bytes between consecutive clicks
	Mean      float64
	Diagnosis Diagnosis
}

// DetectClicks scans raw little-endian 16-bit PCM for jumps above the
// threshold, groups jumps closer than the debounce window into one click and
// checks whether clicks recur at a storage page stride. It reads the payload
// as-is, so footers that were never stripped show up as clicks.
func DetectClicks(payload []byte, opts ClickOptions) *ClickReport {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultTolerance
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 100
	}

	n := len(payload) / 2
	rep := &ClickReport{Samples: n}
	prev := 0
	for i := 0; i < n; i++ {
		s := int(int16(binary.LittleEndian.Uint16(payload[2*i:])))
		if i > 0 {
			jump := s - prev
			if jump > opts.Threshold || -jump > opts.Threshold {
				rep.RawJumps++
				idx := int64(i - 1)
				if len(rep.Clicks) == 0 || idx-rep.Clicks[len(rep.Clicks)-1].Index > int64(opts.Debounce) {
					rep.Clicks = append(rep.Clicks, Click{Index: idx, Offset: opts.Base + 2*idx, Jump: jump})
				}
			}
		}
		prev = s
	}

	var sum int64
	for i := 1; i < len(rep.Clicks); i++ {
		d := 2 * (rep.Clicks[i].Index - rep.Clicks[i-1].Index)
		rep.Intervals = append(rep.Intervals, d)
		sum += d
	}
	if len(rep.Intervals) > 0 {
		rep.Mean = float64(sum) / float64(len(rep.Intervals))
		switch {
		case rep.Mean > 65500 && rep.Mean < 65600:
			rep.Diagnosis = Diagnosis64K
		case rep.Mean > 131000 && rep.Mean < 132000:
			rep.Diagnosis = Diagnosis128K
		}
	}
	return rep
}
