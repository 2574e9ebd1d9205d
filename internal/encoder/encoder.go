// Package encoder compresses planar frames into Annex-B packets, records the
// packet stream to disk and replays recordings at a fixed frame rate.
package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/streamcore/internal/logging"
	"github.com/breeze-rmm/streamcore/internal/media"
)

var (
	ErrInvalidBitrate    = errors.New("invalid bitrate")
	ErrInvalidFPS        = errors.New("invalid fps")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrNotStarted        = errors.New("encoder not started")
	ErrAlreadyStarted    = errors.New("encoder already started")
	ErrFrameSize         = errors.New("frame size does not match encoder")
)

// Config holds encoder tuning.
type Config struct {
	Bitrate          int
	FPS              int
	KeyframeInterval int // frames between forced key frames
	PreferHardware   bool
}

// DefaultConfig returns the encoder defaults.
func DefaultConfig() Config {
	return Config{
		Bitrate:          2_500_000,
		FPS:              30,
		KeyframeInterval: 60,
	}
}

// Stats is a snapshot of encoder counters.
type Stats struct {
	Backend   string
	Hardware  bool
	Frames    uint64
	KeyFrames uint64
	Bytes     uint64
}

type backend interface {
	// Encode compresses pic. A backend may promote a requested delta frame
	// to a key frame and reports what it produced.
	Encode(pic *media.PlanarFrame, keyframe bool) (data []byte, isKey bool, err error)
	SetBitrate(bitrate int) error
	SetFPS(fps int) error
	Close() error
	Name() string
	IsHardware() bool
}

type backendFactory func(cfg Config, width, height int) (backend, error)

var (
	hardwareFactoriesMu sync.Mutex
	hardwareFactories   []backendFactory
)

// registerHardwareFactory adds an accelerated backend. Factories are tried in
// registration order when PreferHardware is set.
func registerHardwareFactory(factory backendFactory) {
	hardwareFactoriesMu.Lock()
	defer hardwareFactoriesMu.Unlock()
	hardwareFactories = append(hardwareFactories, factory)
}

// Encoder turns planar frames into packets. EncodeFrame delivers exactly one
// packet per successful call, synchronously and in call order.
type Encoder struct {
	// encodeMu serializes EncodeFrame and Stop so onPacket never runs
	// concurrently with itself or after Stop returns.
	encodeMu sync.Mutex

	mu       sync.Mutex
	cfg      Config
	backend  backend
	onPacket func(media.Packet)
	width    int
	height   int
	frames   uint64
	keys     uint64
	bytes    uint64
	rec      *recording
	lastName string
	lastHW   bool

	forceKey atomic.Bool
	log      *slog.Logger
}

// New creates an idle encoder.
func New(cfg Config) *Encoder {
	return &Encoder{
		cfg: applyDefaults(cfg),
		log: logging.L("encoder"),
	}
}

// Start allocates a backend for width x height at fps. onPacket receives
// every packet produced until Stop.
func (e *Encoder) Start(width, height, fps int, onPacket func(media.Packet)) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if fps <= 0 {
		return ErrInvalidFPS
	}
	if onPacket == nil {
		return errors.New("encoder: nil packet callback")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend != nil {
		return ErrAlreadyStarted
	}

	cfg := e.cfg
	cfg.FPS = fps
	if err := validateConfig(cfg); err != nil {
		return err
	}
	b, err := newBackend(cfg, width, height)
	if err != nil {
		return fmt.Errorf("create encoder backend: %w", err)
	}

	e.cfg = cfg
	e.backend = b
	e.onPacket = onPacket
	e.width, e.height = width, height
	e.frames, e.keys, e.bytes = 0, 0, 0
	e.lastName, e.lastHW = b.Name(), b.IsHardware()
	e.forceKey.Store(false)

	e.log.Info("encoder started",
		"backend", b.Name(),
		"hardware", b.IsHardware(),
		"width", width,
		"height", height,
		"fps", fps,
		"bitrate", cfg.Bitrate,
	)
	return nil
}

// EncodeFrame compresses pic and hands the packet to the onPacket callback
// before returning. On error no packet is delivered.
func (e *Encoder) EncodeFrame(pic *media.PlanarFrame) error {
	if pic == nil {
		return errors.New("encoder: nil frame")
	}
	e.encodeMu.Lock()
	defer e.encodeMu.Unlock()

	e.mu.Lock()
	b := e.backend
	if b == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if pic.Width != e.width || pic.Height != e.height {
		e.mu.Unlock()
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrFrameSize, pic.Width, pic.Height, e.width, e.height)
	}
	wantKey := e.frames%uint64(e.cfg.KeyframeInterval) == 0
	onPacket := e.onPacket
	rec := e.rec
	e.mu.Unlock()

	if e.forceKey.Swap(false) {
		wantKey = true
	}

	data, isKey, err := b.Encode(pic, wantKey)
	if err != nil {
		if wantKey {
			e.forceKey.Store(true)
		}
		return fmt.Errorf("encode frame: %w", err)
	}

	pkt := media.Packet{Data: data, KeyFrame: isKey, Timestamp: pic.Timestamp}

	e.mu.Lock()
	e.frames++
	e.bytes += uint64(len(data))
	if isKey {
		e.keys++
	}
	e.mu.Unlock()

	if rec != nil {
		rec.write(pkt)
	}
	onPacket(pkt)
	return nil
}

// ForceKeyframe makes the next encoded frame a key frame.
func (e *Encoder) ForceKeyframe() {
	e.forceKey.Store(true)
}

// SetBitrate updates the target bitrate, live if the encoder is running.
func (e *Encoder) SetBitrate(bitrate int) error {
	if bitrate <= 0 {
		return ErrInvalidBitrate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend != nil {
		if err := e.backend.SetBitrate(bitrate); err != nil {
			return err
		}
	}
	e.cfg.Bitrate = bitrate
	return nil
}

// SetFPS updates the nominal frame rate.
func (e *Encoder) SetFPS(fps int) error {
	if fps <= 0 {
		return ErrInvalidFPS
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend != nil {
		if err := e.backend.SetFPS(fps); err != nil {
			return err
		}
	}
	e.cfg.FPS = fps
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (e *Encoder) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend != nil
}

// Stats returns the counters of the current or last run.
func (e *Encoder) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Backend:   e.lastName,
		Hardware:  e.lastHW,
		Frames:    e.frames,
		KeyFrames: e.keys,
		Bytes:     e.bytes,
	}
}

// Stop waits for an in-flight EncodeFrame, releases the backend and
// finalizes an active recording. It is safe to call more than once.
func (e *Encoder) Stop() {
	e.encodeMu.Lock()
	defer e.encodeMu.Unlock()

	e.mu.Lock()
	b := e.backend
	e.backend = nil
	e.onPacket = nil
	rec := e.rec
	e.rec = nil
	frames := e.frames
	e.mu.Unlock()

	if rec != nil {
		if err := rec.close(); err != nil {
			e.log.Warn("recording close failed", "path", rec.path, "error", err)
		}
	}
	if b == nil {
		return
	}
	if err := b.Close(); err != nil {
		e.log.Warn("encoder backend close failed", "backend", b.Name(), "error", err)
	}
	e.log.Info("encoder stopped", "frames", frames)
}

func applyDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Bitrate == 0 {
		cfg.Bitrate = defaults.Bitrate
	}
	if cfg.FPS == 0 {
		cfg.FPS = defaults.FPS
	}
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = defaults.KeyframeInterval
	}
	return cfg
}

func validateConfig(cfg Config) error {
	if cfg.Bitrate <= 0 {
		return ErrInvalidBitrate
	}
	if cfg.FPS <= 0 {
		return ErrInvalidFPS
	}
	return nil
}

func newBackend(cfg Config, width, height int) (backend, error) {
	if cfg.PreferHardware {
		if b := tryHardware(cfg, width, height); b != nil {
			return b, nil
		}
		logging.L("encoder").Info("no hardware encoder available, using software")
	}
	return newSoftwareBackend(cfg, width, height)
}

func tryHardware(cfg Config, width, height int) backend {
	hardwareFactoriesMu.Lock()
	factories := append([]backendFactory(nil), hardwareFactories...)
	hardwareFactoriesMu.Unlock()
	for _, factory := range factories {
		b, err := factory(cfg, width, height)
		if err == nil && b != nil {
			return b
		}
	}
	return nil
}
