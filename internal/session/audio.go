package session

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/streamcore/internal/audio"
)

// audioChain moves PCM from the audio source to the optional WAV recording
// and, while enabled by the viewer, to the μ-law transport track.
type audioChain struct {
	src      audio.Source
	recorder *audio.Recorder
	pkt      *audio.MulawPacketizer
	write    func(frame []byte, duration time.Duration) error
	metrics  *StreamMetrics
	log      *slog.Logger

	enabled atomic.Bool

	mu      sync.Mutex
	started bool
	closed  bool
}

var errAudioStopped = errors.New("audio chain stopped")

func newAudioChain(src audio.Source, write func([]byte, time.Duration) error, metrics *StreamMetrics, log *slog.Logger) *audioChain {
	rate, channels := src.Format()
	a := &audioChain{
		src:      src,
		recorder: audio.NewRecorder(rate, channels),
		write:    write,
		metrics:  metrics,
		log:      log,
	}
	a.pkt = audio.NewMulawPacketizer(rate, channels, a.send)
	return a
}

func (a *audioChain) start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errAudioStopped
	}
	if a.started {
		return nil
	}
	if err := a.src.Start(a.handleSamples); err != nil {
		return err
	}
	a.started = true
	return nil
}

// handleSamples runs on the source goroutine.
func (a *audioChain) handleSamples(samples []int16, timestamp uint64) {
	if err := a.recorder.RecordFrame(samples, timestamp); err != nil {
		a.log.Warn("audio recording write failed", "error", err)
	}
	if a.enabled.Load() {
		a.pkt.Write(samples)
	}
}

func (a *audioChain) send(frame []byte) {
	err := a.write(frame, audio.MulawFrameMs*time.Millisecond)
	a.metrics.RecordAudio(len(frame), err == nil)
}

func (a *audioChain) setEnabled(on bool) {
	a.enabled.Store(on)
}

// stop joins the source goroutine and finalizes any recording, returning
// the finalized file path. The chain cannot be restarted.
func (a *audioChain) stop() string {
	a.mu.Lock()
	a.closed = true
	if a.started {
		a.src.Stop()
		a.started = false
	}
	a.mu.Unlock()

	if !a.recorder.IsRecording() {
		return ""
	}
	path := a.recorder.Path()
	if err := a.recorder.StopRecording(); err != nil {
		a.log.Warn("audio recording finalize failed", "path", path, "error", err)
		return ""
	}
	return path
}
