// Package colorconv converts packed BGRX frames to planar I420.
//
// The arithmetic is a fixed BT.601 integer approximation and must stay
// bit-exact; conformance tests compare against hand-computed values.
package colorconv

import (
	"errors"

	"github.com/breeze-rmm/streamcore/internal/media"
)

// ErrShortBuffer is returned when the source or destination buffers are too
// small for the declared frame geometry.
var ErrShortBuffer = errors.New("colorconv: buffer too small for frame geometry")

// Luma returns the Y sample for one pixel.
func Luma(r, g, b int) byte {
	return clamp(((66*r + 129*g + 25*b + 128) >> 8) + 16)
}

// ChromaU returns the unclamped per-sample U value.
func ChromaU(r, g, b int) int {
	return ((-38*r - 74*g + 112*b + 128) >> 8) + 128
}

// ChromaV returns the unclamped per-sample V value.
func ChromaV(r, g, b int) int {
	return ((112*r - 94*g - 18*b + 128) >> 8) + 128
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// BGRAToI420 converts src into dst. dst must be sized for src's dimensions
// (see media.NewPlanarFrame). The timestamp is carried over.
func BGRAToI420(src media.Frame, dst *media.PlanarFrame) error {
	if !src.Valid() {
		return ErrShortBuffer
	}
	w, h := src.Width, src.Height
	cw, ch := media.ChromaSize(w, h)
	if dst.StrideY < w || dst.StrideU < cw || dst.StrideV < cw ||
		len(dst.Y) < (h-1)*dst.StrideY+w ||
		len(dst.U) < (ch-1)*dst.StrideU+cw ||
		len(dst.V) < (ch-1)*dst.StrideV+cw {
		return ErrShortBuffer
	}
	dst.Width, dst.Height = w, h
	dst.Timestamp = src.Timestamp

	pix := src.Data
	stride := src.Stride

	// Pass 1: Y plane. Byte order is B=pi+0, G=pi+1, R=pi+2.
	for y := 0; y < h; y++ {
		row := pix[y*stride : y*stride+w*4]
		yRow := dst.Y[y*dst.StrideY : y*dst.StrideY+w]
		for x := 0; x < w; x++ {
			pi := x * 4
			yRow[x] = Luma(int(row[pi+2]), int(row[pi+1]), int(row[pi]))
		}
	}

	// Pass 2: chroma. One output sample per 2x2 block, averaging the samples
	// that fall inside the image so odd edges are not darkened.
	for y := 0; y < h; y += 2 {
		uRow := dst.U[(y/2)*dst.StrideU:]
		vRow := dst.V[(y/2)*dst.StrideV:]
		for x := 0; x < w; x += 2 {
			sumU, sumV, n := 0, 0, 0
			for dy := 0; dy < 2 && y+dy < h; dy++ {
				row := pix[(y+dy)*stride:]
				for dx := 0; dx < 2 && x+dx < w; dx++ {
					pi := (x + dx) * 4
					b, g, r := int(row[pi]), int(row[pi+1]), int(row[pi+2])
					sumU += ChromaU(r, g, b)
					sumV += ChromaV(r, g, b)
					n++
				}
			}
			uRow[x/2] = clamp(sumU / n)
			vRow[x/2] = clamp(sumV / n)
		}
	}
	return nil
}

// ConvertBGRA converts src into a pooled planar frame. Return it with Release
// once the encoder is done with it.
func ConvertBGRA(src media.Frame) (*media.PlanarFrame, error) {
	dst := getPlanar(src.Width, src.Height)
	if err := BGRAToI420(src, dst); err != nil {
		Release(dst)
		return nil, err
	}
	return dst, nil
}
