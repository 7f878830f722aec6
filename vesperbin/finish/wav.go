package finish

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultSampleRate is used when a header declares no rate.
const DefaultSampleRate = 48000

// WAVWriter streams mono 16-bit PCM into a WAV file. The RIFF sizes are
// patched on Close, so the destination must be seekable.
type WAVWriter struct {
	enc *wav.Encoder
	buf *audio.IntBuffer
	n   int64
}

// NewWAVWriter creates a writer at rate Hz. Close does not close w.
func NewWAVWriter(w io.WriteSeeker, rate int) *WAVWriter {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return &WAVWriter{
		enc: wav.NewEncoder(w, rate, 16, 1, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
			SourceBitDepth: 16,
		},
	}
}

// Write appends samples.
func (ww *WAVWriter) Write(samples []int16) error {
	if cap(ww.buf.Data) < len(samples) {
		ww.buf.Data = make([]int, len(samples))
	}
	ww.buf.Data = ww.buf.Data[:len(samples)]
	for i, s := range samples {
		ww.buf.Data[i] = int(s)
	}
	if err := ww.enc.Write(ww.buf); err != nil {
		return err
	}
	ww.n += int64(len(samples))
	return nil
}

// Samples is the number of samples written.
func (ww *WAVWriter) Samples() int64 {
	return ww.n
}

// Close finalizes the headers.
func (ww *WAVWriter) Close() error {
	return ww.enc.Close()
}
