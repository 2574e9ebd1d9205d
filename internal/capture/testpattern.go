package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/breeze-rmm/streamcore/internal/media"
)

// SMPTE-ish bars in R, G, B.
var colorBars = [][3]byte{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
}

// TestPattern is a synthetic capture engine that renders color bars with a
// moving box. It never fails after Open and is used when no platform engine
// is available.
type TestPattern struct {
	mu     sync.Mutex
	width  int
	height int
	buf    []byte
	frame  int
	opened bool
}

// NewTestPattern creates a test pattern engine. Non-positive sizes fall back
// to 1280x720.
func NewTestPattern(width, height int) *TestPattern {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	return &TestPattern{width: width, height: height}
}

func (t *TestPattern) Open() (int, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = make([]byte, t.width*t.height*media.BytesPerPixel)
	t.frame = 0
	t.opened = true
	return t.width, t.height, nil
}

func (t *TestPattern) WaitFrame(time.Duration) (media.Frame, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return media.Frame{}, false, errors.New("test pattern not open")
	}
	t.render()
	t.frame++
	return media.Frame{
		Data:   t.buf,
		Width:  t.width,
		Height: t.height,
		Stride: t.width * media.BytesPerPixel,
	}, true, nil
}

func (t *TestPattern) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opened = false
	t.buf = nil
	return nil
}

func (t *TestPattern) render() {
	w, h := t.width, t.height
	stride := w * media.BytesPerPixel
	barWidth := (w + len(colorBars) - 1) / len(colorBars)

	box := h / 6
	if box < 1 {
		box = 1
	}
	travel := w - box
	if travel < 1 {
		travel = 1
	}
	boxX := (t.frame * 4) % travel
	boxY := (h - box) / 2

	for y := 0; y < h; y++ {
		row := t.buf[y*stride : (y+1)*stride]
		inBoxRow := y >= boxY && y < boxY+box
		for x := 0; x < w; x++ {
			c := colorBars[x/barWidth]
			if inBoxRow && x >= boxX && x < boxX+box {
				c = [3]byte{255, 255, 255}
			}
			i := x * media.BytesPerPixel
			row[i] = c[2]
			row[i+1] = c[1]
			row[i+2] = c[0]
			row[i+3] = 0xFF
		}
	}
}
