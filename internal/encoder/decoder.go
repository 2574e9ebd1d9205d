package encoder

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/breeze-rmm/streamcore/internal/media"
)

var (
	ErrMalformedPacket  = errors.New("malformed packet")
	ErrMissingReference = errors.New("delta frame without reference")
)

// Decoder reverses the software backend. It is used to verify recordings
// and by tests; it does not understand real H.264 bitstreams.
type Decoder struct {
	prev   []byte
	width  int
	height int
}

// Decode reconstructs the frame carried by one packet.
func (d *Decoder) Decode(packet []byte) (*media.PlanarFrame, error) {
	if !HasStartCode(packet) || len(packet) < len(StartCode)+1 {
		return nil, fmt.Errorf("%w: missing start code", ErrMalformedPacket)
	}
	hdr := packet[len(StartCode)]
	nalType := hdr & nalTypeMask
	if nalType != nalTypeIDR && nalType != nalTypeNonIDR {
		return nil, fmt.Errorf("%w: unsupported nal type %d", ErrMalformedPacket, nalType)
	}

	payload := unescapeNAL(packet[len(StartCode)+1:])
	if len(payload) < softwareHeaderLen {
		return nil, fmt.Errorf("%w: short header", ErrMalformedPacket)
	}
	w := int(binary.BigEndian.Uint16(payload[0:]))
	h := int(binary.BigEndian.Uint16(payload[2:]))
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: zero dimensions", ErrMalformedPacket)
	}

	body, err := io.ReadAll(flate.NewReader(bytes.NewReader(payload[softwareHeaderLen:])))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	cw, ch := media.ChromaSize(w, h)
	if want := w*h + 2*cw*ch; len(body) != want {
		return nil, fmt.Errorf("%w: body is %d bytes, want %d", ErrMalformedPacket, len(body), want)
	}

	if nalType == nalTypeNonIDR {
		if d.prev == nil || d.width != w || d.height != h {
			return nil, ErrMissingReference
		}
		for i := range body {
			body[i] ^= d.prev[i]
		}
	}
	d.prev = body
	d.width, d.height = w, h

	pic := media.NewPlanarFrame(w, h)
	copy(pic.Y, body[:w*h])
	copy(pic.U, body[w*h:w*h+cw*ch])
	copy(pic.V, body[w*h+cw*ch:])
	return pic, nil
}

// Reset drops the reference frame.
func (d *Decoder) Reset() {
	d.prev = nil
	d.width, d.height = 0, 0
}
