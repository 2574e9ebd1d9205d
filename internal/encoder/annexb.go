package encoder

import "bytes"

// StartCode is the Annex-B frame boundary marker. Every packet produced by
// the software backend, and every segment of a recording, begins with it.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

const (
	nalTypeMask   = 0x1F
	nalTypeNonIDR = 1
	nalTypeIDR    = 5

	nalHeaderIDR    = 0x60 | nalTypeIDR    // nal_ref_idc 3
	nalHeaderNonIDR = 0x40 | nalTypeNonIDR // nal_ref_idc 2
)

// KeyFramePredicate classifies a start-code-prefixed segment.
type KeyFramePredicate func(segment []byte) bool

// H264KeyFrame reports whether the NAL unit right after a 4-byte start code
// is an IDR slice.
func H264KeyFrame(segment []byte) bool {
	if len(segment) <= len(StartCode) {
		return false
	}
	return segment[len(StartCode)]&nalTypeMask == nalTypeIDR
}

// HasStartCode reports whether b begins with the 4-byte boundary marker.
func HasStartCode(b []byte) bool {
	return bytes.HasPrefix(b, StartCode)
}

// escapeNAL inserts an emulation prevention byte (0x03) wherever two zero
// bytes are followed by a byte <= 0x03, so the payload can never contain a
// start code.
func escapeNAL(dst, src []byte) []byte {
	zeros := 0
	for _, b := range src {
		if zeros >= 2 && b <= 0x03 {
			dst = append(dst, 0x03)
			zeros = 0
		}
		dst = append(dst, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return dst
}

// unescapeNAL removes emulation prevention bytes inserted by escapeNAL.
func unescapeNAL(src []byte) []byte {
	out := make([]byte, 0, len(src))
	zeros := 0
	for _, b := range src {
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// splitAnnexB is a bufio.SplitFunc yielding start-code-delimited segments.
// Each token includes its leading start code. Bytes before the first marker
// are dropped.
func splitAnnexB(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, StartCode)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a possible partial marker at the tail.
		if keep := len(StartCode) - 1; len(data) > keep {
			return len(data) - keep, nil, nil
		}
		return 0, nil, nil
	}
	if start > 0 {
		return start, nil, nil
	}

	if next := bytes.Index(data[len(StartCode):], StartCode); next >= 0 {
		end := len(StartCode) + next
		return end, data[:end], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
