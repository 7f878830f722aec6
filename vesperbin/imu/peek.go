package imu

import (
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
)

// Peeked is a packet decoded for alignment checks. Err is set instead of
// Sample when the packet does not decode.
type Peeked struct {
	Offset int64
	Sample Sample
	Err    error
}

// PeekPackets decodes up to n packets from payload, which starts at the
// absolute offset base. Padding slots are reported like any other packet.
func PeekPackets(payload []byte, base int64, prof *format.Profile, n int) []Peeked {
	size := prof.Packet.Size
	out := make([]Peeked, 0, n)
	for i := 0; i < n && (i+1)*size <= len(payload); i++ {
		p := Peeked{Offset: base + int64(i*size)}
		p.Sample, p.Err = DecodePacket(payload[i*size:(i+1)*size], prof)
		p.Sample.Index = int64(i)
		p.Sample.Offset = p.Offset
		out = append(out, p)
	}
	return out
}
