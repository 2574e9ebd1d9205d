package audio

// G.711 transport format: 8 kHz mono, 20 ms per packet.
const (
	MulawRate       = 8000
	MulawFrameMs    = 20
	MulawFrameBytes = MulawRate * MulawFrameMs / 1000
)

// MulawPacketizer downmixes and decimates PCM16 input to 8 kHz mono and
// emits 160-byte μ-law frames. Decimation averages the source samples that
// fall into each output sample; the fractional part of a non-integer ratio
// carries over so the output rate stays at 8 kHz.
type MulawPacketizer struct {
	channels int
	ratio    float64
	emit     func([]byte)

	accum      float64
	accumCount int
	phase      float64
	out        [MulawFrameBytes]byte
	outIdx     int
}

// NewMulawPacketizer converts from sampleRate x channels. emit receives a
// fresh slice per frame.
func NewMulawPacketizer(sampleRate, channels int, emit func([]byte)) *MulawPacketizer {
	if channels <= 0 {
		channels = 1
	}
	ratio := float64(sampleRate) / MulawRate
	if ratio < 1 {
		ratio = 1
	}
	return &MulawPacketizer{channels: channels, ratio: ratio, emit: emit}
}

// Write consumes interleaved samples.
func (p *MulawPacketizer) Write(samples []int16) {
	for i := 0; i+p.channels <= len(samples); i += p.channels {
		var mono int32
		for c := 0; c < p.channels; c++ {
			mono += int32(samples[i+c])
		}
		p.accum += float64(mono) / float64(p.channels)
		p.accumCount++
		p.phase++
		if p.phase < p.ratio {
			continue
		}

		p.out[p.outIdx] = LinearToMulaw(int16(p.accum / float64(p.accumCount)))
		p.outIdx++
		p.accum = 0
		p.accumCount = 0
		p.phase -= p.ratio

		if p.outIdx == MulawFrameBytes {
			frame := make([]byte, MulawFrameBytes)
			copy(frame, p.out[:])
			p.emit(frame)
			p.outIdx = 0
		}
	}
}
