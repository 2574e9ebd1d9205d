package encoder

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/breeze-rmm/streamcore/internal/media"
)

// softwareBackend is a lossless intra/inter codec. Key frames carry the
// deflated I420 planes; delta frames carry the deflated XOR against the
// previous frame. Output is a single Annex-B NAL unit per frame.
type softwareBackend struct {
	mu      sync.Mutex
	width   int
	height  int
	bitrate int
	fps     int

	level int
	zw    *flate.Writer
	zbuf  bytes.Buffer

	cur  []byte
	prev []byte
	diff []byte
}

const softwareHeaderLen = 4 // u16 width, u16 height

func newSoftwareBackend(cfg Config, width, height int) (backend, error) {
	if width > 0xFFFF || height > 0xFFFF {
		return nil, fmt.Errorf("%w: %dx%d exceeds software encoder limits", ErrInvalidDimensions, width, height)
	}
	s := &softwareBackend{
		width:   width,
		height:  height,
		bitrate: cfg.Bitrate,
		fps:     cfg.FPS,
		level:   levelForBitrate(cfg.Bitrate),
	}
	zw, err := flate.NewWriter(&s.zbuf, s.level)
	if err != nil {
		return nil, err
	}
	s.zw = zw
	return s, nil
}

// levelForBitrate trades CPU for size: low bitrates compress harder.
func levelForBitrate(bitrate int) int {
	switch {
	case bitrate < 1_000_000:
		return flate.BestCompression
	case bitrate < 4_000_000:
		return flate.DefaultCompression
	default:
		return flate.BestSpeed
	}
}

func (s *softwareBackend) Encode(pic *media.PlanarFrame, keyframe bool) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pic.Width != s.width || pic.Height != s.height {
		return nil, false, ErrFrameSize
	}
	cur, err := packPlanes(s.cur[:0], pic)
	if err != nil {
		return nil, false, err
	}
	s.cur = cur

	if s.prev == nil {
		keyframe = true
	}

	body := s.cur
	if !keyframe {
		if cap(s.diff) < len(s.cur) {
			s.diff = make([]byte, len(s.cur))
		}
		s.diff = s.diff[:len(s.cur)]
		for i := range s.cur {
			s.diff[i] = s.cur[i] ^ s.prev[i]
		}
		body = s.diff
	}

	s.zbuf.Reset()
	var hdr [softwareHeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:], uint16(s.width))
	binary.BigEndian.PutUint16(hdr[2:], uint16(s.height))
	s.zbuf.Write(hdr[:])
	s.zw.Reset(&s.zbuf)
	if _, err := s.zw.Write(body); err != nil {
		return nil, false, fmt.Errorf("deflate: %w", err)
	}
	if err := s.zw.Close(); err != nil {
		return nil, false, fmt.Errorf("deflate: %w", err)
	}

	payload := s.zbuf.Bytes()
	out := make([]byte, 0, len(StartCode)+1+len(payload)+len(payload)/64)
	out = append(out, StartCode...)
	if keyframe {
		out = append(out, nalHeaderIDR)
	} else {
		out = append(out, nalHeaderNonIDR)
	}
	out = escapeNAL(out, payload)

	s.prev, s.cur = s.cur, s.prev
	return out, keyframe, nil
}

func (s *softwareBackend) SetBitrate(bitrate int) error {
	if bitrate <= 0 {
		return ErrInvalidBitrate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitrate = bitrate
	if level := levelForBitrate(bitrate); level != s.level {
		zw, err := flate.NewWriter(&s.zbuf, level)
		if err != nil {
			return err
		}
		s.level = level
		s.zw = zw
	}
	return nil
}

func (s *softwareBackend) SetFPS(fps int) error {
	if fps <= 0 {
		return ErrInvalidFPS
	}
	s.mu.Lock()
	s.fps = fps
	s.mu.Unlock()
	return nil
}

func (s *softwareBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev, s.cur, s.diff = nil, nil, nil
	return nil
}

func (s *softwareBackend) Name() string {
	return "software"
}

func (s *softwareBackend) IsHardware() bool {
	return false
}

// packPlanes copies the visible area of Y, U and V into dst without padding.
func packPlanes(dst []byte, pic *media.PlanarFrame) ([]byte, error) {
	cw, ch := media.ChromaSize(pic.Width, pic.Height)
	planes := []struct {
		data   []byte
		stride int
		w, h   int
	}{
		{pic.Y, pic.StrideY, pic.Width, pic.Height},
		{pic.U, pic.StrideU, cw, ch},
		{pic.V, pic.StrideV, cw, ch},
	}
	for _, p := range planes {
		if p.stride < p.w || len(p.data) < (p.h-1)*p.stride+p.w {
			return nil, fmt.Errorf("%w: plane too small", ErrFrameSize)
		}
		for row := 0; row < p.h; row++ {
			dst = append(dst, p.data[row*p.stride:row*p.stride+p.w]...)
		}
	}
	return dst, nil
}
