// Package finish writes decoded streams to the processed folder: IMU CSV,
// audio WAV, the header metadata sidecar, the drift timeline and the report.
package finish

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/flaneur2020/vesper-bin/vesperbin"
	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	"github.com/flaneur2020/vesper-bin/vesperbin/drift"
	vesperrors "github.com/flaneur2020/vesper-bin/vesperbin/errors"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
	"github.com/flaneur2020/vesper-bin/vesperbin/imu"
	"github.com/flaneur2020/vesper-bin/vesperbin/logger"
	"github.com/flaneur2020/vesper-bin/vesperbin/report"
)

// Finisher lays out outputs as <root>/<imu|aud>/<session>/.
type Finisher struct {
	root     string
	compress container.Compression
}

// New creates a finisher writing under root. IMU CSV files are compressed
// with compress.
func New(root string, compress container.Compression) *Finisher {
	if compress == "" {
		compress = container.CompressionNone
	}
	return &Finisher{root: root, compress: compress}
}

// NewOutput implements vesperbin.SinkFactory.
func (f *Finisher) NewOutput(job *vesperbin.ConvertJob) (vesperbin.Output, error) {
	return f.Output(job.File.Session), nil
}

// Output returns the sink for one container recorded in session.
func (f *Finisher) Output(session string) vesperbin.Output {
	return &fileOutput{fin: f, session: session}
}

type fileOutput struct {
	fin     *Finisher
	session string

	h    *container.Header
	dir  string
	stem string

	tmp      *os.File
	imu      *IMUWriter
	wav      *WAVWriter
	first    time.Time
	last     time.Time
	timeline *drift.Mapping
}

func (o *fileOutput) Begin(h *container.Header) error {
	o.h = h
	sub := "imu"
	if h.Stream == format.StreamAudio {
		sub = "aud"
	}
	o.dir = filepath.Join(o.fin.root, sub, o.session)
	if err := os.MkdirAll(o.dir, 0755); err != nil {
		return vesperrors.NewWriteError(o.dir, err)
	}
	o.stem = Stamp(h.Start) + "_" + h.DeviceIDHex()

	if err := o.writeMetadata(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(o.dir, "."+o.stem+"-*.part")
	if err != nil {
		return vesperrors.NewWriteError(o.dir, err)
	}
	o.tmp = tmp

	switch h.Stream {
	case format.StreamAudio:
		o.wav = NewWAVWriter(tmp, int(h.SampleRate))
	default:
		o.imu, err = NewIMUWriter(tmp, o.fin.compress)
		if err != nil {
			return vesperrors.NewWriteError(tmp.Name(), err)
		}
	}
	return nil
}

// writeMetadata keeps an existing sidecar, the way repeated exports of one
// deployment share it.
func (o *fileOutput) writeMetadata() error {
	p := filepath.Join(o.dir, o.stem+".txt")
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return writeFile(p, func(file *os.File) error { return WriteMetadata(file, o.h) })
}

func (o *fileOutput) IMU(s imu.Sample) error {
	if o.imu.Rows() == 0 {
		o.first = s.Time
	}
	o.last = s.Time
	if err := o.imu.Write(s); err != nil {
		return vesperrors.NewWriteError(o.tmp.Name(), err)
	}
	return nil
}

func (o *fileOutput) PCM(samples []int16) error {
	if err := o.wav.Write(samples); err != nil {
		return vesperrors.NewWriteError(o.tmp.Name(), err)
	}
	return nil
}

func (o *fileOutput) Timeline(m *drift.Mapping) error {
	o.timeline = m
	return nil
}

// Close renames the finished stream into place. Anything short of FINISHED
// discards the partial output.
func (o *fileOutput) Close(rep *report.Report) error {
	if o.h == nil || o.tmp == nil {
		return nil
	}
	tmpName := o.tmp.Name()

	var err error
	switch {
	case o.imu != nil:
		err = o.imu.Close()
	case o.wav != nil:
		err = o.wav.Close()
	}
	if cerr := o.tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil || rep.State != report.StateFinished {
		os.Remove(tmpName)
		if err != nil {
			return vesperrors.NewWriteError(tmpName, err)
		}
		return nil
	}

	var final string
	switch {
	case o.wav != nil && o.wav.Samples() == 0:
		os.Remove(tmpName)
		logger.Warn("%s: no audio samples, WAV not written", rep.Source)
	case o.wav != nil:
		final = filepath.Join(o.dir, o.stem+".wav")
	case o.imu.Rows() == 0:
		os.Remove(tmpName)
		logger.Warn("%s: no IMU samples, CSV not written", rep.Source)
	default:
		final = filepath.Join(o.dir, Stamp(o.first)+"-"+Stamp(o.last)+"_"+o.h.DeviceIDHex()+CSVExt(o.fin.compress))
	}
	if final != "" {
		if err := os.Rename(tmpName, final); err != nil {
			os.Remove(tmpName)
			return vesperrors.NewWriteError(final, err)
		}
		logger.Info("saved %s", filepath.Base(final))
	}

	if o.timeline != nil && o.timeline.Len() > 0 {
		p := filepath.Join(o.dir, o.stem+"_timeline.csv")
		if err := writeFile(p, func(file *os.File) error { return WriteTimeline(file, o.timeline) }); err != nil {
			return err
		}
	}

	p := filepath.Join(o.dir, o.stem+"_report.json")
	return writeFile(p, func(file *os.File) error {
		enc := json.NewEncoder(file)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	})
}

func writeFile(p string, fill func(*os.File) error) error {
	file, err := os.Create(p)
	if err != nil {
		return vesperrors.NewWriteError(p, err)
	}
	err = fill(file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return vesperrors.NewWriteError(p, err)
	}
	return nil
}
