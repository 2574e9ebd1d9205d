// Package media holds the data types that flow through the streaming
// pipeline: raw captured frames, planar converted frames and encoded packets.
//
// Timestamps are microseconds on a monotonic clock that starts when the
// producing component starts. They never decrease within one run.
package media

import "time"

// BytesPerPixel is the size of one packed BGRX pixel.
const BytesPerPixel = 4

// Frame is one raw captured image in packed 32-bit BGRX order.
//
// Data is owned by the producer and may be reused as soon as the delivery
// callback returns; consumers that need it longer must copy.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Stride    int // bytes per row, >= Width*BytesPerPixel
	Timestamp uint64
}

// Size returns the byte size of the frame buffer.
func (f Frame) Size() int { return len(f.Data) }

// Valid reports whether the buffer is large enough for the declared geometry.
func (f Frame) Valid() bool {
	if f.Width <= 0 || f.Height <= 0 || f.Stride < f.Width*BytesPerPixel {
		return false
	}
	return len(f.Data) >= (f.Height-1)*f.Stride+f.Width*BytesPerPixel
}

// PlanarFrame is a 4:2:0 frame: full resolution luma plus two chroma planes
// at half horizontal and vertical resolution (rounded up).
type PlanarFrame struct {
	Y, U, V   []byte
	StrideY   int
	StrideU   int
	StrideV   int
	Width     int
	Height    int
	Timestamp uint64
}

// ChromaSize returns the chroma plane dimensions for a luma size.
func ChromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// NewPlanarFrame allocates a tightly packed planar frame.
func NewPlanarFrame(width, height int) *PlanarFrame {
	cw, ch := ChromaSize(width, height)
	buf := make([]byte, width*height+2*cw*ch)
	return &PlanarFrame{
		Y:       buf[:width*height],
		U:       buf[width*height : width*height+cw*ch],
		V:       buf[width*height+cw*ch:],
		StrideY: width,
		StrideU: cw,
		StrideV: cw,
		Width:   width,
		Height:  height,
	}
}

// Packet is one compressed output unit of an encoder.
type Packet struct {
	Data      []byte
	KeyFrame  bool
	Timestamp uint64
}

// Micros converts a duration to the pipeline's microsecond timestamp unit.
func Micros(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}

// FrameInterval returns the nominal time between frames at fps.
func FrameInterval(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Second / time.Duration(fps)
}
