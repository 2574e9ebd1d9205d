package colorconv

import (
	"sync"

	"github.com/breeze-rmm/streamcore/internal/media"
)

// planarPool pools planar frames for a fixed resolution. Streaming sessions
// use a consistent resolution, so a resolution change simply resets the pool.
var planarPool = struct {
	mu   sync.Mutex
	pool *sync.Pool
	w, h int
}{pool: &sync.Pool{}}

func currentPool(w, h int) (*sync.Pool, bool) {
	planarPool.mu.Lock()
	defer planarPool.mu.Unlock()
	if planarPool.w != w || planarPool.h != h {
		planarPool.w = w
		planarPool.h = h
		planarPool.pool = &sync.Pool{}
		return planarPool.pool, false
	}
	return planarPool.pool, true
}

func getPlanar(w, h int) *media.PlanarFrame {
	if w <= 0 || h <= 0 {
		return &media.PlanarFrame{}
	}
	pool, warm := currentPool(w, h)
	if warm {
		if v := pool.Get(); v != nil {
			return v.(*media.PlanarFrame)
		}
	}
	return media.NewPlanarFrame(w, h)
}

// Release returns a frame obtained from ConvertBGRA to the pool.
func Release(f *media.PlanarFrame) {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return
	}
	planarPool.mu.Lock()
	pool := planarPool.pool
	match := planarPool.w == f.Width && planarPool.h == f.Height
	planarPool.mu.Unlock()
	if match {
		pool.Put(f)
	}
}
