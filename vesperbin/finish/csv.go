package finish

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	"github.com/flaneur2020/vesper-bin/vesperbin/imu"
)

// IMUColumns is the column set of the vendor software's IMU export,
// including its spelling.
var IMUColumns = []string{
	"Time", "Minute", "Second", "Milisecond",
	"Acc X [mg]", "Acc Y [mg]", "Acc Z [mg]",
	"Gyro X [dps]", "Gyro Y [dps]", "Gyro Z [dps]",
	"Mag X [mGauss]", "Mag Y [mGauss]", "Mag Z [mGauss]",
	"Temperature [C]", "Bar Pressure [hPa]",
}

// TimeLayout renders sample times in CSV rows.
const TimeLayout = "2006-01-02 15:04:05.000"

// IMURecord renders one sample as a row matching IMUColumns.
func IMURecord(s imu.Sample) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		s.Time.Format(TimeLayout),
		strconv.Itoa(s.Time.Minute()),
		strconv.Itoa(s.Time.Second()),
		strconv.Itoa(s.Time.Nanosecond() / 1e6),
		f(s.Accel[0]), f(s.Accel[1]), f(s.Accel[2]),
		f(s.Gyro[0]), f(s.Gyro[1]), f(s.Gyro[2]),
		f(s.Mag[0]), f(s.Mag[1]), f(s.Mag[2]),
		f(s.Temperature),
		"0",
	}
}

// CSVExt returns the file extension for CSV output under compression.
func CSVExt(c container.Compression) string {
	switch c {
	case container.CompressionGzip:
		return ".csv.gz"
	case container.CompressionZstd:
		return ".csv.zst"
	}
	return ".csv"
}

// IMUWriter streams samples as CSV, optionally compressed.
type IMUWriter struct {
	zw io.WriteCloser
	w  *csv.Writer
	n  int64
}

// NewIMUWriter writes the header row to w. Close does not close w.
func NewIMUWriter(w io.Writer, compression container.Compression) (*IMUWriter, error) {
	iw := &IMUWriter{}
	switch compression {
	case container.CompressionGzip:
		iw.zw = gzip.NewWriter(w)
	case container.CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		iw.zw = enc
	case container.CompressionNone, "":
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}

	if iw.zw != nil {
		iw.w = csv.NewWriter(iw.zw)
	} else {
		iw.w = csv.NewWriter(w)
	}
	if err := iw.w.Write(IMUColumns); err != nil {
		return nil, err
	}
	return iw, nil
}

// Write appends one row.
func (iw *IMUWriter) Write(s imu.Sample) error {
	if err := iw.w.Write(IMURecord(s)); err != nil {
		return err
	}
	iw.n++
	return nil
}

// Rows is the number of samples written.
func (iw *IMUWriter) Rows() int64 {
	return iw.n
}

// Close flushes buffered rows and the compressor.
func (iw *IMUWriter) Close() error {
	iw.w.Flush()
	if err := iw.w.Error(); err != nil {
		return err
	}
	if iw.zw != nil {
		return iw.zw.Close()
	}
	return nil
}
