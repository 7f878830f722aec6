package format

import (
	"fmt"
	"time"
)

// TimeField names one sub-field of a packed BCD timestamp.
type TimeField int

const (
	FieldNone TimeField = iota
	FieldYear
	FieldMonth
	FieldDay
	FieldHour
	FieldMinute
	FieldSecond
	FieldMillis
)

var timeFieldNames = map[TimeField]string{
	FieldNone:   "none",
	FieldYear:   "year",
	FieldMonth:  "month",
	FieldDay:    "day",
	FieldHour:   "hour",
	FieldMinute: "minute",
	FieldSecond: "second",
	FieldMillis: "millis",
}

func (f TimeField) String() string {
	return timeFieldNames[f]
}

// ParseTimeField maps a config name ("month") to a TimeField.
func ParseTimeField(name string) (TimeField, error) {
	for f, n := range timeFieldNames {
		if n == name {
			return f, nil
		}
	}
	return FieldNone, fmt.Errorf("unknown timestamp field %q", name)
}

// BCDCorrection compensates a firmware defect that stores one timestamp
// sub-field shifted by a constant. The corrected value is raw + Offset.
type BCDCorrection struct {
	Field  TimeField
	Offset int
}

// IsZero reports whether the correction is a no-op.
func (c BCDCorrection) IsZero() bool {
	return c.Field == FieldNone || c.Offset == 0
}

// TimeFields is a decoded but not yet validated timestamp.
type TimeFields struct {
	Year, Month, Day     int
	Hour, Minute, Second int
	Millis               int
}

func (tf *TimeFields) field(f TimeField) *int {
	switch f {
	case FieldYear:
		return &tf.Year
	case FieldMonth:
		return &tf.Month
	case FieldDay:
		return &tf.Day
	case FieldHour:
		return &tf.Hour
	case FieldMinute:
		return &tf.Minute
	case FieldSecond:
		return &tf.Second
	case FieldMillis:
		return &tf.Millis
	}
	return nil
}

// Apply adds the correction offset to the affected field.
func (c BCDCorrection) Apply(tf *TimeFields) {
	if c.IsZero() {
		return
	}
	if p := tf.field(c.Field); p != nil {
		*p += c.Offset
	}
}

// Revert undoes Apply. It is what a defective firmware does when it writes.
func (c BCDCorrection) Revert(tf *TimeFields) {
	if c.IsZero() {
		return
	}
	if p := tf.field(c.Field); p != nil {
		*p -= c.Offset
	}
}

// Time validates the fields and builds a UTC instant. time.Date would
// silently normalise month 13 or second 61, so ranges are checked first.
func (tf TimeFields) Time() (time.Time, error) {
	switch {
	case tf.Month < 1 || tf.Month > 12:
		return time.Time{}, fmt.Errorf("month %d out of range", tf.Month)
	case tf.Day < 1 || tf.Day > 31:
		return time.Time{}, fmt.Errorf("day %d out of range", tf.Day)
	case tf.Hour > 23 || tf.Hour < 0:
		return time.Time{}, fmt.Errorf("hour %d out of range", tf.Hour)
	case tf.Minute > 59 || tf.Minute < 0:
		return time.Time{}, fmt.Errorf("minute %d out of range", tf.Minute)
	case tf.Second > 59 || tf.Second < 0:
		return time.Time{}, fmt.Errorf("second %d out of range", tf.Second)
	case tf.Millis > 999 || tf.Millis < 0:
		return time.Time{}, fmt.Errorf("millis %d out of range", tf.Millis)
	}
	t := time.Date(tf.Year, time.Month(tf.Month), tf.Day, tf.Hour, tf.Minute, tf.Second, tf.Millis*int(time.Millisecond), time.UTC)
	if t.Day() != tf.Day {
		return time.Time{}, fmt.Errorf("day %d out of range for %04d-%02d", tf.Day, tf.Year, tf.Month)
	}
	return t, nil
}

// FieldsOf splits t into TimeFields.
func FieldsOf(t time.Time) TimeFields {
	t = t.UTC()
	return TimeFields{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
		Millis: t.Nanosecond() / int(time.Millisecond),
	}
}

// NibbleError reports a BCD byte with a nibble outside 0-9.
type NibbleError struct {
	Index int
	Byte  byte
}

func (e *NibbleError) Error() string {
	return fmt.Sprintf("invalid BCD byte 0x%02X at index %d", e.Byte, e.Index)
}

// DecodeBCD converts one packed BCD byte (two decimal digits).
func DecodeBCD(b byte) (int, bool) {
	hi, lo := b>>4, b&0x0F
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return int(hi)*10 + int(lo), true
}

// EncodeBCD packs 0-99 into one byte. Values out of range wrap modulo 100.
func EncodeBCD(v int) byte {
	v %= 100
	if v < 0 {
		v += 100
	}
	return byte(v/10)<<4 | byte(v%10)
}

// TimestampSize is the width of a packet or footer timestamp.
const TimestampSize = 8

// DecodeTimestamp parses the 8-byte packed timestamp used by IMU packets and
// audio footers:
//
//	[0] yy  [1] mm  [2] dd  [3] hh  [4] mi  [5] ss  [6:8] milliseconds, 4 digits
//
// The correction is applied before the fields are validated.
func DecodeTimestamp(b []byte, corr BCDCorrection) (time.Time, error) {
	if len(b) < TimestampSize {
		return time.Time{}, fmt.Errorf("timestamp needs %d bytes, got %d", TimestampSize, len(b))
	}
	var digits [TimestampSize]int
	for i := 0; i < TimestampSize; i++ {
		v, ok := DecodeBCD(b[i])
		if !ok {
			return time.Time{}, &NibbleError{Index: i, Byte: b[i]}
		}
		digits[i] = v
	}
	tf := TimeFields{
		Year:   2000 + digits[0],
		Month:  digits[1],
		Day:    digits[2],
		Hour:   digits[3],
		Minute: digits[4],
		Second: digits[5],
		Millis: digits[6]*100 + digits[7],
	}
	corr.Apply(&tf)
	return tf.Time()
}

// EncodeTimestamp is the inverse of DecodeTimestamp: it writes t the way a
// firmware with the given defect would.
func EncodeTimestamp(t time.Time, corr BCDCorrection) [TimestampSize]byte {
	tf := FieldsOf(t)
	corr.Revert(&tf)
	return [TimestampSize]byte{
		EncodeBCD(tf.Year - 2000),
		EncodeBCD(tf.Month),
		EncodeBCD(tf.Day),
		EncodeBCD(tf.Hour),
		EncodeBCD(tf.Minute),
		EncodeBCD(tf.Second),
		EncodeBCD(tf.Millis / 100),
		EncodeBCD(tf.Millis % 100),
	}
}
