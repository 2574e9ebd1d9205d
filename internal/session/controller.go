// Package session drives one streaming session: peer connection
// negotiation over a signaling channel, the capture to transport pipeline,
// the audio chain, input relay and recordings.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/breeze-rmm/streamcore/internal/audio"
	"github.com/breeze-rmm/streamcore/internal/input"
	"github.com/breeze-rmm/streamcore/internal/logging"
	"github.com/breeze-rmm/streamcore/internal/signaling"
)

const (
	RoleOffer  = "offer"
	RoleAnswer = "answer"

	maxPendingCandidates = 64
)

// Config configures a Controller.
type Config struct {
	Role       string // RoleOffer (default) or RoleAnswer
	FPS        int
	ICEServers []ICEServer
	Recording  RecordingConfig
}

// RecordingConfig selects where session recordings are written. Each
// recording gets the stream id and start time inserted before the extension.
type RecordingConfig struct {
	Enabled   bool
	VideoPath string
	AudioPath string
}

// Archiver receives finalized recording files.
type Archiver interface {
	Enqueue(streamID, localPath string) bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithPeerFactory replaces the pion peer connection.
func WithPeerFactory(f PeerFactory) Option {
	return func(c *Controller) { c.newPeer = f }
}

// WithInjector relays viewer input events to inj.
func WithInjector(inj input.Injector) Option {
	return func(c *Controller) { c.injector = inj }
}

// WithAudioSource adds an audio track fed by src.
func WithAudioSource(src audio.Source) Option {
	return func(c *Controller) { c.audioSrc = src }
}

// WithArchiver hands finalized recordings to a.
func WithArchiver(a Archiver) Option {
	return func(c *Controller) { c.archiver = a }
}

// WithLogger overrides the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller owns the capture source, encoder and signaling channel of one
// session for its whole lifetime.
type Controller struct {
	cfg      Config
	source   FrameSource
	enc      VideoEncoder
	sig      signaling.Channel
	newPeer  PeerFactory
	injector input.Injector
	audioSrc audio.Source
	archiver Archiver
	log      *slog.Logger
	metrics  *StreamMetrics

	// Set by Init under mu before the transport can raise events.
	pipe  *pipeline
	audio *audioChain

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards lifecycle state and the user callbacks.
	mu             sync.Mutex
	state          State
	history        []Transition
	terminating    bool
	done           chan struct{}
	peer           PeerConnection
	streamID       string
	onOfferCreated func(sdp string)
	onIceCandidate func(candidate string)

	// negMu serializes negotiation steps on the peer connection.
	negMu     sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// mediaMu serializes media start against teardown.
	mediaMu sync.Mutex

	recMu     sync.Mutex
	videoPath string
}

// New creates an idle controller. The controller takes ownership of
// source, enc and sig.
func New(cfg Config, source FrameSource, enc VideoEncoder, sig signaling.Channel, opts ...Option) *Controller {
	if cfg.Role == "" {
		cfg.Role = RoleOffer
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:     cfg,
		source:  source,
		enc:     enc,
		sig:     sig,
		newPeer: NewPionPeer,
		log:     logging.L("session"),
		metrics: newStreamMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		state:   Idle,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StateHistory returns every transition taken so far, oldest first.
func (c *Controller) StateHistory() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transition(nil), c.history...)
}

// Done is closed once the controller reaches Closed or Failed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Metrics returns a snapshot of the pipeline counters.
func (c *Controller) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// SetOnOfferCreated registers fn to observe every local offer sent.
func (c *Controller) SetOnOfferCreated(fn func(sdp string)) {
	c.mu.Lock()
	c.onOfferCreated = fn
	c.mu.Unlock()
}

// SetOnIceCandidate registers fn to observe every local ICE candidate sent.
func (c *Controller) SetOnIceCandidate(fn func(candidate string)) {
	c.mu.Lock()
	c.onIceCandidate = fn
	c.mu.Unlock()
}

// transitionLocked moves to next and records it. c.mu must be held.
func (c *Controller) transitionLocked(next State, err error) bool {
	prev := c.state
	if !canTransition(prev, next) {
		c.log.Warn("invalid state transition", "from", prev.String(), "to", next.String())
		return false
	}
	c.state = next
	c.history = append(c.history, Transition{From: prev, To: next, At: time.Now(), Err: err})
	if err != nil {
		c.log.Error("session state changed", "from", prev.String(), logging.KeyState, next.String(), logging.KeyError, err)
	} else {
		c.log.Info("session state changed", "from", prev.String(), logging.KeyState, next.String())
	}
	return true
}

// Init creates the peer connection. Idle -> Initializing, or Failed when
// the transport cannot be created.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		err := &ErrInvalidTransition{Op: "init", From: c.state}
		c.mu.Unlock()
		return err
	}
	c.transitionLocked(Initializing, nil)
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		c.fail(err)
		return err
	}

	peer, err := c.newPeer(PeerConfig{
		ICEServers: ParseICEServers(c.cfg.ICEServers),
		Offerer:    c.cfg.Role != RoleAnswer,
		Handlers: PeerHandlers{
			OnICECandidate:    c.handleLocalCandidate,
			OnStateChange:     c.handlePeerState,
			OnDataMessage:     c.handleDataMessage,
			OnKeyframeRequest: c.enc.ForceKeyframe,
		},
	})
	if err == nil && peer == nil {
		err = errors.New("peer factory returned nil")
	}
	if err != nil {
		err = fmt.Errorf("create peer connection: %w", err)
		c.fail(err)
		return err
	}

	pipe := newPipeline(c.enc, peer.WriteVideo, c.cfg.FPS, c.metrics, c.log)
	var chain *audioChain
	if c.audioSrc != nil {
		chain = newAudioChain(c.audioSrc, peer.WriteAudio, c.metrics, c.log)
	}

	c.mu.Lock()
	if c.terminating {
		c.mu.Unlock()
		_ = peer.Close()
		return &ErrInvalidTransition{Op: "init", From: Closing}
	}
	c.peer = peer
	c.pipe = pipe
	c.audio = chain
	c.mu.Unlock()
	return nil
}

// Start connects signaling for streamID and, in the offer role, sends the
// offer and starts the media pipeline. Initializing -> Connecting, then
// Streaming once the local description is set and media is running.
func (c *Controller) Start(ctx context.Context, signalingURL, streamID string) error {
	c.mu.Lock()
	if c.state != Initializing || c.terminating || c.peer == nil {
		err := &ErrInvalidTransition{Op: "start", From: c.state}
		c.mu.Unlock()
		return err
	}
	c.streamID = streamID
	c.transitionLocked(Connecting, nil)
	c.mu.Unlock()

	c.log.Info("session starting", logging.KeySession, streamID, "role", c.cfg.Role)

	url, err := signaling.StreamURL(signalingURL, streamID)
	if err != nil {
		c.fail(err)
		return err
	}
	c.sig.OnMessage(c.handleSignal)
	if err := c.sig.Connect(ctx, url); err != nil {
		err = fmt.Errorf("connect signaling: %w", err)
		c.fail(err)
		return err
	}

	if c.cfg.Role == RoleAnswer {
		c.log.Info("waiting for remote offer")
		return nil
	}
	if err := c.CreateOffer(); err != nil {
		c.fail(err)
		return err
	}
	if err := c.enterStreaming(); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// CreateOffer creates a local offer, applies it and sends it over
// signaling.
func (c *Controller) CreateOffer() error {
	peer, err := c.activePeer("create offer")
	if err != nil {
		return err
	}

	c.negMu.Lock()
	sdp, err := peer.CreateOffer()
	c.negMu.Unlock()
	if err != nil {
		return err
	}

	c.sig.Send(signaling.Offer(sdp).String())
	c.mu.Lock()
	fn := c.onOfferCreated
	c.mu.Unlock()
	if fn != nil {
		fn(sdp)
	}
	return nil
}

// SetRemoteDescription validates and applies a remote offer or answer.
// A malformed description is rejected and the state is left unchanged.
func (c *Controller) SetRemoteDescription(sdpType, sdp string) error {
	return c.setRemoteDescription(webrtc.NewSDPType(strings.ToLower(sdpType)), sdp)
}

func (c *Controller) setRemoteDescription(typ webrtc.SDPType, sdp string) error {
	switch {
	case typ == webrtc.SDPTypeOffer && c.cfg.Role != RoleAnswer:
		return errors.New("session: remote offer received in offer role")
	case typ == webrtc.SDPTypeAnswer && c.cfg.Role == RoleAnswer:
		return errors.New("session: remote answer received in answer role")
	case typ != webrtc.SDPTypeOffer && typ != webrtc.SDPTypeAnswer:
		return fmt.Errorf("session: unsupported description type %q", typ.String())
	}
	if err := validateSDP(sdp); err != nil {
		return err
	}
	peer, err := c.activePeer("set remote description")
	if err != nil {
		return err
	}

	c.negMu.Lock()
	defer c.negMu.Unlock()
	if err := peer.SetRemoteDescription(typ, sdp); err != nil {
		return fmt.Errorf("apply remote %s: %w", typ, err)
	}
	c.remoteSet = true

	pending := c.pending
	c.pending = nil
	for _, cand := range pending {
		if err := peer.AddICECandidate(cand); err != nil {
			c.log.Warn("buffered ICE candidate rejected", "error", err)
		}
	}
	return nil
}

// AddRemoteIceCandidate validates and applies a remote candidate. Candidates
// arriving before the remote description are buffered.
func (c *Controller) AddRemoteIceCandidate(candidate string) error {
	init, err := parseCandidate(candidate)
	if err != nil {
		return err
	}
	if init.Candidate == "" {
		c.log.Debug("remote ICE gathering complete")
		return nil
	}
	peer, err := c.activePeer("add ICE candidate")
	if err != nil {
		return err
	}

	c.negMu.Lock()
	defer c.negMu.Unlock()
	if !c.remoteSet {
		if len(c.pending) >= maxPendingCandidates {
			return errors.New("session: too many ICE candidates before remote description")
		}
		c.pending = append(c.pending, init)
		return nil
	}
	if err := peer.AddICECandidate(init); err != nil {
		return fmt.Errorf("apply ICE candidate: %w", err)
	}
	return nil
}

// activePeer returns the peer connection when negotiation is allowed.
func (c *Controller) activePeer(op string) (PeerConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminating || (c.state != Connecting && c.state != Streaming) || c.peer == nil {
		return nil, &ErrInvalidTransition{Op: op, From: c.state}
	}
	return c.peer, nil
}

// handleSignal routes inbound signaling messages. It runs on the signaling
// read goroutine, so teardown from here is always asynchronous.
func (c *Controller) handleSignal(raw string) {
	msg := signaling.Parse(raw)
	switch msg.Type {
	case signaling.TypeOffer:
		c.handleRemoteOffer(msg.Payload)
	case signaling.TypeAnswer:
		if err := c.setRemoteDescription(webrtc.SDPTypeAnswer, msg.Payload); err != nil {
			c.log.Warn("rejected remote answer", "error", err)
		}
	case signaling.TypeCandidate:
		if err := c.AddRemoteIceCandidate(msg.Payload); err != nil {
			c.log.Warn("rejected remote ICE candidate", "error", err)
		}
	default:
		c.log.Debug("ignoring signaling message", "bytes", len(raw))
	}
}

func (c *Controller) handleRemoteOffer(sdp string) {
	if err := c.setRemoteDescription(webrtc.SDPTypeOffer, sdp); err != nil {
		c.log.Warn("rejected remote offer", "error", err)
		return
	}
	peer, err := c.activePeer("create answer")
	if err != nil {
		return
	}
	c.negMu.Lock()
	answer, err := peer.CreateAnswer()
	c.negMu.Unlock()
	if err != nil {
		c.log.Warn("failed to answer remote offer", "error", err)
		return
	}
	c.sig.Send(signaling.Answer(answer).String())

	if err := c.enterStreaming(); err != nil {
		go c.fail(err)
	}
}

func (c *Controller) handleLocalCandidate(init webrtc.ICECandidateInit) {
	payload, err := encodeCandidate(init)
	if err != nil {
		c.log.Warn("failed to encode local ICE candidate", "error", err)
		return
	}
	c.sig.Send(signaling.Candidate(payload).String())
	c.mu.Lock()
	fn := c.onIceCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

// handlePeerState treats a failed or closed transport as fatal and stops
// the session.
func (c *Controller) handlePeerState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		// The viewer needs a decodable frame right away.
		c.enc.ForceKeyframe()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		c.mu.Lock()
		skip := c.terminating || c.state.Terminal()
		c.mu.Unlock()
		if !skip {
			c.log.Warn("transport lost, stopping session", logging.KeyState, state.String())
			go c.Stop()
		}
	}
}

// enterStreaming starts capture, encoder and audio and moves Connecting ->
// Streaming. It does nothing if media already runs.
func (c *Controller) enterStreaming() error {
	c.mediaMu.Lock()
	defer c.mediaMu.Unlock()

	c.mu.Lock()
	ready := c.state == Connecting && !c.terminating
	c.mu.Unlock()
	if !ready {
		return nil
	}

	if err := c.source.Start(c.pipe.handleFrame); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	width, height := c.source.Bounds()
	if err := c.enc.Start(width, height, c.cfg.FPS, c.pipe.handlePacket); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}
	if c.audio != nil {
		if err := c.audio.start(); err != nil {
			c.log.Warn("audio source failed to start, continuing without audio", "error", err)
		}
	}

	c.mu.Lock()
	ok := !c.terminating && c.transitionLocked(Streaming, nil)
	c.mu.Unlock()
	if ok && c.cfg.Recording.Enabled {
		c.startRecording()
	}
	return nil
}

// Stop tears the session down and blocks until capture, encoder, audio and
// signaling have shut down. Stop from Idle goes straight to Closed. It is
// safe to call more than once and from any goroutine except the signaling
// callback.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == Idle {
		c.transitionLocked(Closed, nil)
		c.terminating = true
		close(c.done)
		c.mu.Unlock()
		c.cancel()
		return
	}
	if c.terminating || c.state.Terminal() {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.terminating = true
	c.transitionLocked(Closing, nil)
	c.mu.Unlock()

	c.release()

	c.mu.Lock()
	c.transitionLocked(Closed, nil)
	close(c.done)
	c.mu.Unlock()
}

// fail releases everything acquired so far and then publishes Failed.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.terminating || c.state.Terminal() {
		c.mu.Unlock()
		c.log.Debug("failure after shutdown began", logging.KeyError, err)
		return
	}
	c.terminating = true
	c.mu.Unlock()

	c.release()

	c.mu.Lock()
	c.transitionLocked(Failed, err)
	close(c.done)
	c.mu.Unlock()
}

// release joins the producers concurrently, then closes the transport and
// ships finished recordings.
func (c *Controller) release() {
	start := time.Now()
	c.cancel()

	c.mu.Lock()
	chain := c.audio
	c.mu.Unlock()

	var videoPath, audioPath string
	var g errgroup.Group
	g.Go(func() error {
		c.mediaMu.Lock()
		defer c.mediaMu.Unlock()
		c.source.Stop()
		videoPath = c.stopVideoRecording()
		c.enc.Stop()
		return nil
	})
	if chain != nil {
		g.Go(func() error {
			audioPath = chain.stop()
			return nil
		})
	}
	g.Go(func() error {
		if err := c.sig.Close(); err != nil {
			return fmt.Errorf("close signaling: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		c.log.Warn("teardown", logging.KeyError, err)
	}

	c.mu.Lock()
	peer := c.peer
	c.peer = nil
	streamID := c.streamID
	c.mu.Unlock()
	if peer != nil {
		if err := peer.Close(); err != nil {
			c.log.Warn("failed to close peer connection", logging.KeyError, err)
		}
	}

	c.archive(streamID, videoPath, audioPath)

	m := c.metrics.Snapshot()
	c.log.Info("session released",
		logging.KeySession, streamID,
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
		"framesCaptured", m.FramesCaptured,
		"framesEncoded", m.FramesEncoded,
		"framesSent", m.FramesSent,
		"framesSkipped", m.FramesSkipped,
		"framesDropped", m.FramesDropped,
		"audioSent", m.AudioSent,
		"bandwidthKBps", m.BandwidthKBps,
		"uptime", m.Uptime.Round(time.Second),
	)
}

// startRecording begins video and audio recordings at fresh paths.
func (c *Controller) startRecording() {
	c.recMu.Lock()
	defer c.recMu.Unlock()

	c.mu.Lock()
	streamID := c.streamID
	stopping := c.terminating
	c.mu.Unlock()
	if stopping {
		return
	}
	now := time.Now()

	if c.cfg.Recording.VideoPath != "" && !c.enc.IsRecording() {
		path := recordingPath(c.cfg.Recording.VideoPath, streamID, now)
		if err := c.enc.StartRecording(path); err != nil {
			c.log.Warn("failed to start video recording", "path", path, logging.KeyError, err)
		} else {
			c.videoPath = path
		}
	}
	if c.audio != nil && c.cfg.Recording.AudioPath != "" && !c.audio.recorder.IsRecording() {
		path := recordingPath(c.cfg.Recording.AudioPath, streamID, now)
		if err := c.audio.recorder.StartRecording(path); err != nil {
			c.log.Warn("failed to start audio recording", "path", path, logging.KeyError, err)
		}
	}
}

// finishRecording finalizes both recordings and hands them to the archiver.
func (c *Controller) finishRecording() {
	videoPath := c.stopVideoRecording()
	var audioPath string
	if c.audio != nil && c.audio.recorder.IsRecording() {
		audioPath = c.audio.recorder.Path()
		if err := c.audio.recorder.StopRecording(); err != nil {
			c.log.Warn("audio recording finalize failed", "path", audioPath, logging.KeyError, err)
			audioPath = ""
		}
	}
	c.mu.Lock()
	streamID := c.streamID
	c.mu.Unlock()
	c.archive(streamID, videoPath, audioPath)
}

func (c *Controller) stopVideoRecording() string {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	path := c.videoPath
	c.videoPath = ""
	if path == "" {
		return ""
	}
	if err := c.enc.StopRecording(); err != nil {
		c.log.Warn("video recording finalize failed", "path", path, logging.KeyError, err)
		return ""
	}
	return path
}

func (c *Controller) archive(streamID string, paths ...string) {
	if c.archiver == nil {
		return
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !c.archiver.Enqueue(streamID, p) {
			c.log.Warn("recording not queued for archive", "path", p)
		}
	}
}

// recordingPath inserts streamID and a UTC timestamp before the extension
// of base.
func recordingPath(base, streamID string, t time.Time) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	suffix := t.UTC().Format("20060102T150405")
	if streamID != "" {
		return fmt.Sprintf("%s-%s-%s%s", stem, streamID, suffix, ext)
	}
	return fmt.Sprintf("%s-%s%s", stem, suffix, ext)
}
