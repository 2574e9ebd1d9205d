package audio

// MulawSilence is the μ-law encoding of a zero sample.
const MulawSilence = 0xFF

// LinearToMulaw converts a 16-bit signed PCM sample to G.711 μ-law.
func LinearToMulaw(sample int16) byte {
	const bias = 0x84
	const clip = 32635

	// Widen before negating so -32768 does not overflow.
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > clip {
		s = clip
	}
	s += bias

	exp := 7
	for mask := int32(0x4000); exp > 0; exp-- {
		if s&mask != 0 {
			break
		}
		mask >>= 1
	}
	mantissa := (s >> (uint(exp) + 3)) & 0x0F
	return ^(sign | byte(exp<<4) | byte(mantissa))
}

// EncodeMulaw appends the μ-law encoding of samples to dst.
func EncodeMulaw(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = append(dst, LinearToMulaw(s))
	}
	return dst
}

// MulawToLinear expands a μ-law byte back to PCM16.
func MulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mantissa := int32(u & 0x0F)
	s := ((mantissa << 3) + 0x84) << exp
	s -= 0x84
	if sign != 0 {
		return int16(-s)
	}
	return int16(s)
}
