package session

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/streamcore/internal/colorconv"
	"github.com/breeze-rmm/streamcore/internal/encoder"
	"github.com/breeze-rmm/streamcore/internal/media"
)

// VideoEncoder is the encoder surface the pipeline and control channel use.
// *encoder.Encoder implements it.
type VideoEncoder interface {
	Start(width, height, fps int, onPacket func(media.Packet)) error
	EncodeFrame(pic *media.PlanarFrame) error
	Stop()
	ForceKeyframe()
	SetBitrate(bitrate int) error
	SetFPS(fps int) error
	StartRecording(path string) error
	StopRecording() error
	IsRecording() bool
	RecordingPath() string
	Stats() encoder.Stats
}

// FrameSource is a capture source that reports its frame size once started.
// *capture.Capturer implements it.
type FrameSource interface {
	Start(onFrame func(media.Frame)) error
	Stop()
	Bounds() (width, height int)
}

// pipeline couples capture, conversion, encoding and the transport write
// on the capture goroutine. There is no queue: a slow encoder stalls
// capture, and a failed transport write drops the packet.
type pipeline struct {
	enc     VideoEncoder
	write   func(pkt media.Packet, duration time.Duration) error
	metrics *StreamMetrics
	log     *slog.Logger

	duration atomic.Int64 // sample duration in ns
	lastSize int          // capture goroutine only
}

func newPipeline(enc VideoEncoder, write func(media.Packet, time.Duration) error, fps int, metrics *StreamMetrics, log *slog.Logger) *pipeline {
	p := &pipeline{
		enc:     enc,
		write:   write,
		metrics: metrics,
		log:     log,
	}
	p.setFPS(fps)
	return p
}

// handleFrame is the capture callback.
func (p *pipeline) handleFrame(f media.Frame) {
	p.metrics.RecordCapture()

	start := time.Now()
	pic, err := colorconv.ConvertBGRA(f)
	if err != nil {
		p.metrics.RecordSkip()
		p.log.Warn("frame conversion failed", "error", err)
		return
	}
	p.metrics.RecordConvert(time.Since(start))

	start = time.Now()
	p.lastSize = 0
	err = p.enc.EncodeFrame(pic)
	colorconv.Release(pic)
	if err != nil {
		p.metrics.RecordSkip()
		// Frames racing encoder start or stop are expected.
		if !errors.Is(err, encoder.ErrNotStarted) {
			p.log.Warn("encode failed", "error", err)
		}
		return
	}
	p.metrics.RecordEncode(time.Since(start), p.lastSize)
}

// handlePacket is the encoder callback; it runs inside EncodeFrame.
func (p *pipeline) handlePacket(pkt media.Packet) {
	p.lastSize = len(pkt.Data)
	if err := p.write(pkt, time.Duration(p.duration.Load())); err != nil {
		p.metrics.RecordDrop()
		p.log.Debug("video write failed, dropping packet", "error", err, "keyframe", pkt.KeyFrame)
		return
	}
	p.metrics.RecordSend(len(pkt.Data))
}

// setFPS updates the sample duration reported to the transport.
func (p *pipeline) setFPS(fps int) {
	p.duration.Store(int64(media.FrameInterval(fps)))
}
