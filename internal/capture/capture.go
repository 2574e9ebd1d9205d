// Package capture produces raw desktop frames from an opaque capture engine.
//
// A Capturer owns one goroutine that polls its Engine at a target interval
// and hands every frame to the onFrame callback on that goroutine. The frame
// buffer belongs to the engine and may be reused once the callback returns.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/streamcore/internal/logging"
	"github.com/breeze-rmm/streamcore/internal/media"
)

var (
	// ErrNotSupported is returned when the requested capture backend is not available.
	ErrNotSupported = errors.New("screen capture backend not supported on this platform")

	// ErrAlreadyStarted is returned by Start on a running source.
	ErrAlreadyStarted = errors.New("capture already started")
)

// Source delivers frames until stopped.
type Source interface {
	// Start begins delivering frames to onFrame on an internal goroutine.
	// It returns an error, with no goroutine started, if the capture engine
	// cannot be initialized.
	Start(onFrame func(media.Frame)) error

	// Stop blocks until the capture goroutine has exited. No onFrame call
	// happens after Stop returns.
	Stop()
}

// Engine is the platform-specific frame grabber.
type Engine interface {
	// Open initializes the device and reports the frame size.
	Open() (width, height int, err error)

	// WaitFrame blocks until a frame is ready or timeout elapses. ok is false
	// on timeout. The returned buffer stays valid until the next call.
	WaitFrame(timeout time.Duration) (frame media.Frame, ok bool, err error)

	// Close releases the device.
	Close() error
}

// Resetter is implemented by engines that can recover from a transient
// grab failure without being reopened.
type Resetter interface {
	Reset() error
}

// Config holds configuration for screen capture.
type Config struct {
	// Backend names the capture engine ("testpattern" or a registered engine).
	Backend string

	// Width and Height request a frame size from engines that can scale.
	Width  int
	Height int

	// FPS is the target capture rate.
	FPS int

	// DisplayIndex specifies which display to capture (0 = primary).
	DisplayIndex int
}

// DefaultConfig returns a default capture configuration.
func DefaultConfig() Config {
	return Config{
		Backend: "testpattern",
		Width:   1280,
		Height:  720,
		FPS:     30,
	}
}

// EngineFactory builds an engine for a configuration.
type EngineFactory func(cfg Config) (Engine, error)

var (
	enginesMu sync.Mutex
	engines   = map[string]EngineFactory{
		"testpattern": func(cfg Config) (Engine, error) {
			return NewTestPattern(cfg.Width, cfg.Height), nil
		},
	}
)

// RegisterEngine makes a capture backend selectable by name. Platform
// builds call it from init.
func RegisterEngine(name string, factory EngineFactory) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	engines[name] = factory
}

// Backends lists the registered engine names.
func Backends() []string {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a frame source for the configured backend.
func New(cfg Config, opts ...Option) (*Capturer, error) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultConfig().Backend
	}
	enginesMu.Lock()
	factory, ok := engines[cfg.Backend]
	enginesMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, cfg.Backend)
	}
	engine, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s capture engine: %w", cfg.Backend, err)
	}
	return NewCapturer(engine, media.FrameInterval(cfg.FPS), opts...), nil
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithLogger overrides the capturer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Capturer) { c.log = l }
}

const (
	defaultInterval = 16 * time.Millisecond
	pollTimeout     = 100 * time.Millisecond
)

// Capturer drives an Engine on its own goroutine.
type Capturer struct {
	engine   Engine
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	width, height int
}

// NewCapturer wraps engine. interval is the best-effort frame cadence.
func NewCapturer(engine Engine, interval time.Duration, opts ...Option) *Capturer {
	if interval <= 0 {
		interval = defaultInterval
	}
	c := &Capturer{
		engine:   engine,
		interval: interval,
		log:      logging.L("capture"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bounds returns the frame size reported by the engine on the last Start.
func (c *Capturer) Bounds() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Start opens the engine and starts the capture goroutine.
func (c *Capturer) Start(onFrame func(media.Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyStarted
	}

	w, h, err := c.engine.Open()
	if err != nil {
		return fmt.Errorf("open capture engine: %w", err)
	}
	c.width, c.height = w, h
	c.running = true
	c.done = make(chan struct{})

	c.wg.Add(1)
	go func(done <-chan struct{}) {
		defer c.wg.Done()
		c.loop(done, onFrame)
	}(c.done)

	c.log.Info("capture started", "width", w, "height", h, "interval", c.interval)
	return nil
}

// Stop signals the capture goroutine, waits for it and closes the engine.
func (c *Capturer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	if err := c.engine.Close(); err != nil {
		c.log.Warn("capture engine close failed", "error", err)
	}
	c.log.Info("capture stopped")
}

func (c *Capturer) loop(done <-chan struct{}, onFrame func(media.Frame)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	start := time.Now()
	var last uint64
	timeout := pollTimeout
	if c.interval < timeout {
		timeout = c.interval
	}

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		frame, ok, err := c.engine.WaitFrame(timeout)
		if err != nil {
			c.log.Warn("capture grab failed", "error", err)
			if r, isResetter := c.engine.(Resetter); isResetter {
				if rerr := r.Reset(); rerr != nil {
					c.log.Warn("capture engine reset failed", "error", rerr)
				}
			}
			continue
		}
		if !ok {
			continue
		}

		// Stop may have been requested while the engine was blocked.
		select {
		case <-done:
			return
		default:
		}

		ts := media.Micros(time.Since(start))
		if ts < last {
			ts = last
		}
		last = ts
		frame.Timestamp = ts
		onFrame(frame)
	}
}
