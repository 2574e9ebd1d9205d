package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// Source produces interleaved PCM16 frames on its own goroutine.
type Source interface {
	// Start begins delivery. timestamp is microseconds since Start.
	Start(cb func(samples []int16, timestamp uint64)) error
	// Stop blocks until no further callback will run.
	Stop()
	// Format reports the sample rate and channel count of delivered frames.
	Format() (sampleRate, channels int)
}

var errSourceRunning = errors.New("audio source already running")

// ToneSource generates a sine wave, useful when no capture device exists.
type ToneSource struct {
	SampleRate int
	Channels   int
	FrameMs    int
	Frequency  float64
	Amplitude  float64 // 0..1

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewToneSource returns a 440 Hz tone at a quarter of full scale.
func NewToneSource(sampleRate, channels, frameMs int) *ToneSource {
	return &ToneSource{
		SampleRate: sampleRate,
		Channels:   channels,
		FrameMs:    frameMs,
		Frequency:  440,
		Amplitude:  0.25,
	}
}

func (t *ToneSource) Format() (int, int) { return t.SampleRate, t.Channels }

func (t *ToneSource) Start(cb func([]int16, uint64)) error {
	perChannel := t.SampleRate * t.FrameMs / 1000
	if perChannel <= 0 || t.Channels <= 0 {
		return errors.New("audio: invalid tone format")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return errSourceRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(time.Duration(t.FrameMs) * time.Millisecond)
		defer ticker.Stop()

		buf := make([]int16, perChannel*t.Channels)
		step := 2 * math.Pi * t.Frequency / float64(t.SampleRate)
		amp := t.Amplitude * math.MaxInt16
		var n uint64
		start := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			for i := 0; i < perChannel; i++ {
				v := int16(amp * math.Sin(step*float64(n)))
				n++
				for c := 0; c < t.Channels; c++ {
					buf[i*t.Channels+c] = v
				}
			}
			cb(buf, uint64(time.Since(start)/time.Microsecond))
		}
	}(t.done)
	return nil
}

func (t *ToneSource) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// FileSource replays a WAV file as a live source.
type FileSource struct {
	Path       string
	SampleRate int
	Channels   int
	FrameMs    int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (f *FileSource) Format() (int, int) { return f.SampleRate, f.Channels }

func (f *FileSource) Start(cb func([]int16, uint64)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return errSourceRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		n, err := Play(ctx, f.Path, f.SampleRate, f.Channels, f.FrameMs, func(s []int16, ms uint64) {
			cb(s, ms*1000)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("audio file source ended with error", "path", f.Path, "error", err)
			return
		}
		log.Debug("audio file source finished", "path", f.Path, "frames", n)
	}(f.done)
	return nil
}

func (f *FileSource) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
