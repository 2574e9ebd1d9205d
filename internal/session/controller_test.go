package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/breeze-rmm/streamcore/internal/audio"
	"github.com/breeze-rmm/streamcore/internal/capture"
	"github.com/breeze-rmm/streamcore/internal/encoder"
	"github.com/breeze-rmm/streamcore/internal/media"
)

type harness struct {
	c    *Controller
	peer *fakePeer
	sig  *fakeChannel
	enc  *encoder.Encoder
	src  *capture.Capturer
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		peer: &fakePeer{},
		sig:  &fakeChannel{},
		enc:  encoder.New(encoder.DefaultConfig()),
		src:  capture.NewCapturer(capture.NewTestPattern(64, 48), 5*time.Millisecond),
	}
	opts = append([]Option{WithPeerFactory(h.peer.factory())}, opts...)
	h.c = New(cfg, h.src, h.enc, h.sig, opts...)
	t.Cleanup(h.c.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := h.c.Start(context.Background(), "http://signal.example/ws", "stream-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func states(c *Controller) []State {
	var out []State
	for _, tr := range c.StateHistory() {
		out = append(out, tr.To)
	}
	return out
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOfferRoleStreamsAndStops(t *testing.T) {
	h := newHarness(t, Config{FPS: 30})

	var offered string
	h.c.SetOnOfferCreated(func(sdp string) { offered = sdp })
	h.start(t)

	if got := h.c.State(); got != Streaming {
		t.Fatalf("state = %s, want streaming", got)
	}
	if offered != testSDP {
		t.Fatal("offer callback not invoked")
	}
	if msgs := h.sig.sentWithPrefix("offer:"); len(msgs) != 1 {
		t.Fatalf("offers sent = %d", len(msgs))
	}
	if !strings.HasPrefix(h.sig.url, "ws://signal.example/ws") || !strings.Contains(h.sig.url, "stream=stream-1") {
		t.Fatalf("signaling url = %q", h.sig.url)
	}

	waitFor(t, "video packets", func() bool {
		_, _, video, _ := h.peer.snapshot()
		return len(video) >= 3
	})

	h.c.Stop()
	if got := h.c.State(); got != Closed {
		t.Fatalf("state after Stop = %s", got)
	}
	want := []State{Initializing, Connecting, Streaming, Closing, Closed}
	if got := states(h.c); !equalStates(got, want) {
		t.Fatalf("history = %v, want %v", got, want)
	}

	_, _, video, closed := h.peer.snapshot()
	if !closed || !h.sig.isClosed() || h.enc.Running() {
		t.Fatalf("resources not released: peer=%v sig=%v enc=%v", closed, h.sig.isClosed(), h.enc.Running())
	}
	if !video[0].KeyFrame {
		t.Fatal("first packet is not a key frame")
	}
	for i := 1; i < len(video); i++ {
		if video[i].Timestamp < video[i-1].Timestamp {
			t.Fatalf("packet %d out of order", i)
		}
	}

	time.Sleep(30 * time.Millisecond)
	if _, _, after, _ := h.peer.snapshot(); len(after) != len(video) {
		t.Fatal("packets written after Stop")
	}
	select {
	case <-h.c.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestAnswerRoleWaitsForOffer(t *testing.T) {
	h := newHarness(t, Config{Role: RoleAnswer})
	h.start(t)

	if got := h.c.State(); got != Connecting {
		t.Fatalf("state = %s, want connecting", got)
	}
	if len(h.sig.sentWithPrefix("offer:")) != 0 {
		t.Fatal("answer role sent an offer")
	}

	h.sig.deliver("offer:" + testSDP)
	if got := h.c.State(); got != Streaming {
		t.Fatalf("state = %s, want streaming", got)
	}
	if len(h.sig.sentWithPrefix("answer:")) != 1 {
		t.Fatal("no answer sent")
	}
	remote, _, _, _ := h.peer.snapshot()
	if len(remote) != 1 || remote[0] != webrtc.SDPTypeOffer {
		t.Fatalf("remote descriptions = %v", remote)
	}
}

func TestMalformedSDPLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, Config{Role: RoleAnswer})
	h.start(t)

	h.sig.deliver("offer:this is not sdp")
	h.sig.deliver("offer:")
	if got := h.c.State(); got != Connecting {
		t.Fatalf("state = %s, want connecting", got)
	}
	if remote, _, _, _ := h.peer.snapshot(); len(remote) != 0 {
		t.Fatal("malformed offer reached the transport")
	}

	h.sig.deliver("offer:" + testSDP)
	if got := h.c.State(); got != Streaming {
		t.Fatalf("state = %s after valid offer", got)
	}
}

func TestRemoteDescriptionRoleChecks(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	if err := h.c.SetRemoteDescription("offer", testSDP); err == nil {
		t.Fatal("remote offer accepted in offer role")
	}
	if err := h.c.SetRemoteDescription("pranswer", testSDP); err == nil {
		t.Fatal("unsupported type accepted")
	}
	if err := h.c.SetRemoteDescription("answer", testSDP); err != nil {
		t.Fatalf("answer: %v", err)
	}
}

func TestInboundAnswerReachesTransport(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.sig.deliver("answer:" + testSDP)
	remote, _, _, _ := h.peer.snapshot()
	if len(remote) != 1 || remote[0] != webrtc.SDPTypeAnswer {
		t.Fatalf("remote descriptions = %v, want [answer]", remote)
	}

	// The string entry point accepts the lowercase and capitalized names.
	for _, name := range []string{"answer", "Answer"} {
		if err := h.c.SetRemoteDescription(name, testSDP); err != nil {
			t.Fatalf("SetRemoteDescription(%q): %v", name, err)
		}
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.sig.deliver("candidate:" + testCandidate)
	h.sig.deliver(`candidate:{"candidate":"` + testCandidate + `","sdpMid":"0"}`)
	h.sig.deliver("candidate:candidate:garbage")
	h.sig.deliver("candidate:")
	if _, cands, _, _ := h.peer.snapshot(); len(cands) != 0 {
		t.Fatalf("candidates applied before remote description: %d", len(cands))
	}

	h.sig.deliver("answer:" + testSDP)
	_, cands, _, _ := h.peer.snapshot()
	if len(cands) != 2 {
		t.Fatalf("applied candidates = %d, want 2", len(cands))
	}
	if cands[1].SDPMid == nil || *cands[1].SDPMid != "0" {
		t.Fatalf("json candidate lost sdpMid: %+v", cands[1])
	}

	if err := h.c.AddRemoteIceCandidate(testCandidate); err != nil {
		t.Fatalf("AddRemoteIceCandidate: %v", err)
	}
	if _, cands, _, _ = h.peer.snapshot(); len(cands) != 3 {
		t.Fatalf("candidate after remote description not applied")
	}
	if got := h.c.State(); got != Streaming {
		t.Fatalf("state = %s", got)
	}
}

func TestUnknownSignalingIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	h.sig.deliver("hello")
	h.sig.deliver("bye:now")
	if got := h.c.State(); got != Streaming {
		t.Fatalf("state = %s", got)
	}
}

func TestLocalCandidatesAreSent(t *testing.T) {
	h := newHarness(t, Config{})
	var seen []string
	var mu sync.Mutex
	h.c.SetOnIceCandidate(func(c string) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})
	h.start(t)

	mid := "0"
	h.peer.handlers().OnICECandidate(webrtc.ICECandidateInit{Candidate: testCandidate, SDPMid: &mid})

	msgs := h.sig.sentWithPrefix("candidate:")
	if len(msgs) != 1 || !strings.Contains(msgs[0], `"sdpMid":"0"`) {
		t.Fatalf("candidate messages = %v", msgs)
	}
	if _, err := parseCandidate(strings.TrimPrefix(msgs[0], "candidate:")); err != nil {
		t.Fatalf("sent candidate does not parse: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("callback saw %d candidates", len(seen))
	}
}

func TestInitFailureIsFailed(t *testing.T) {
	sig := &fakeChannel{}
	enc := encoder.New(encoder.DefaultConfig())
	src := capture.NewCapturer(capture.NewTestPattern(32, 32), 5*time.Millisecond)
	c := New(Config{}, src, enc, sig, WithPeerFactory(func(PeerConfig) (PeerConnection, error) {
		return nil, errors.New("no transport")
	}))

	if err := c.Init(context.Background()); err == nil {
		t.Fatal("expected Init error")
	}
	if got := c.State(); got != Failed {
		t.Fatalf("state = %s, want failed", got)
	}
	hist := c.StateHistory()
	if len(hist) != 2 || hist[1].To != Failed || hist[1].Err == nil {
		t.Fatalf("history = %+v", hist)
	}
	if !sig.isClosed() {
		t.Fatal("signaling not released")
	}

	// Failed is absorbing.
	if err := c.Start(context.Background(), "ws://x", "s"); err == nil {
		t.Fatal("Start accepted after failure")
	}
	c.Stop()
	if got := c.State(); got != Failed {
		t.Fatalf("Stop left failed state: %s", got)
	}
}

func TestSignalingConnectFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.sig.connectErr = errors.New("refused")
	if err := h.c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.c.Start(context.Background(), "ws://x", "s"); err == nil {
		t.Fatal("expected Start error")
	}
	if got := h.c.State(); got != Failed {
		t.Fatalf("state = %s", got)
	}
	if _, _, _, closed := h.peer.snapshot(); !closed {
		t.Fatal("peer not closed before Failed")
	}
}

func TestCaptureStartFailure(t *testing.T) {
	peer := &fakePeer{}
	src := &failingSource{}
	c := New(Config{}, src, encoder.New(encoder.DefaultConfig()), &fakeChannel{}, WithPeerFactory(peer.factory()))
	if err := c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background(), "ws://x", "s"); err == nil {
		t.Fatal("expected Start error")
	}
	if got := c.State(); got != Failed {
		t.Fatalf("state = %s", got)
	}
	if !src.stopped {
		t.Fatal("source not released")
	}
	if _, _, _, closed := peer.snapshot(); !closed {
		t.Fatal("peer not closed")
	}
}

func TestOfferFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.peer.offerErr = errors.New("no codecs")
	if err := h.c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.c.Start(context.Background(), "ws://x", "s"); err == nil {
		t.Fatal("expected Start error")
	}
	if got := h.c.State(); got != Failed {
		t.Fatalf("state = %s", got)
	}
}

func TestStopFromIdle(t *testing.T) {
	c := New(Config{}, &failingSource{}, encoder.New(encoder.DefaultConfig()), &fakeChannel{})
	c.Stop()
	if got := states(c); !equalStates(got, []State{Closed}) {
		t.Fatalf("history = %v", got)
	}
	if err := c.Init(context.Background()); err == nil {
		t.Fatal("Init accepted after Stop")
	}
}

func TestStopFromInitializing(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.c.Stop()
	want := []State{Initializing, Closing, Closed}
	if got := states(h.c); !equalStates(got, want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
}

func TestConcurrentStop(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.c.Stop()
			if got := h.c.State(); got != Closed {
				t.Errorf("state after Stop = %s", got)
			}
		}()
	}
	wg.Wait()
	if n := len(h.c.StateHistory()); n != 5 {
		t.Fatalf("history length = %d", n)
	}
}

func TestTransportFailureStopsSession(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.peer.handlers().OnStateChange(webrtc.PeerConnectionStateFailed)
	waitFor(t, "closed", func() bool { return h.c.State() == Closed })

	hist := states(h.c)
	if hist[len(hist)-2] != Closing {
		t.Fatalf("history = %v", hist)
	}
}

func TestWriteErrorsDropPackets(t *testing.T) {
	h := newHarness(t, Config{})
	h.peer.mu.Lock()
	h.peer.writeErr = errors.New("congested")
	h.peer.mu.Unlock()
	h.start(t)

	waitFor(t, "dropped frames", func() bool { return h.c.Metrics().FramesDropped >= 2 })
	if got := h.c.State(); got != Streaming {
		t.Fatalf("state = %s", got)
	}
	if m := h.c.Metrics(); m.FramesSent != 0 {
		t.Fatalf("sent = %d", m.FramesSent)
	}
}

func TestControlAndInputChannels(t *testing.T) {
	inj := &fakeInjector{}
	tone := audio.NewToneSource(8000, 1, 20)
	h := newHarness(t, Config{}, WithInjector(inj), WithAudioSource(tone))
	h.start(t)
	handlers := h.peer.handlers()

	handlers.OnDataMessage(labelInput, []byte(`{"type":"mouse_move","x":10,"y":20}`))
	handlers.OnDataMessage(labelInput, []byte(`{"type":"bogus"}`))
	handlers.OnDataMessage(labelInput, []byte(`not json`))
	if got := inj.count(); got != 1 {
		t.Fatalf("injected %d events, want 1", got)
	}

	handlers.OnDataMessage(labelControl, []byte(`{"type":"set_bitrate","value":1000000}`))
	handlers.OnDataMessage(labelControl, []byte(`{"type":"set_bitrate","value":999999999}`))
	handlers.OnDataMessage(labelControl, []byte(`{"type":"set_fps","value":15}`))
	handlers.OnDataMessage(labelControl, []byte(`{"type":"request_keyframe"}`))
	handlers.OnDataMessage(labelControl, []byte(`{"type":"unknown"}`))
	handlers.OnDataMessage(labelControl, []byte(`{`))

	if h.c.Metrics().AudioSent != 0 {
		t.Fatal("audio sent while muted")
	}
	handlers.OnDataMessage(labelControl, []byte(`{"type":"toggle_audio","value":1}`))
	waitFor(t, "audio frames", func() bool { return h.c.Metrics().AudioSent >= 2 })

	handlers.OnDataMessage(labelControl, []byte(`{"type":"toggle_audio","value":0}`))
	if got := h.c.State(); got != Streaming {
		t.Fatalf("state = %s", got)
	}
}

func TestKeyframeRequestFromTransport(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	waitFor(t, "first packet", func() bool {
		_, _, v, _ := h.peer.snapshot()
		return len(v) > 0
	})
	before := h.enc.Stats().KeyFrames
	h.peer.handlers().OnKeyframeRequest()
	waitFor(t, "forced key frame", func() bool { return h.enc.Stats().KeyFrames > before })
}

func TestRecordingFinalizedAndArchived(t *testing.T) {
	dir := t.TempDir()
	arch := &fakeArchiver{}
	h := newHarness(t, Config{
		Recording: RecordingConfig{
			Enabled:   true,
			VideoPath: filepath.Join(dir, "video.h264"),
			AudioPath: filepath.Join(dir, "audio.wav"),
		},
	}, WithArchiver(arch), WithAudioSource(audio.NewToneSource(8000, 1, 20)))
	h.start(t)

	base := h.enc.Stats().Frames
	waitFor(t, "recorded packets", func() bool { return h.enc.Stats().Frames >= base+3 })
	h.c.Stop()

	paths := arch.queued()
	if len(paths) != 2 {
		t.Fatalf("archived %v, want video and audio", paths)
	}
	for _, p := range paths {
		if !strings.Contains(filepath.Base(p), "stream-1") {
			t.Errorf("path %q lacks stream id", p)
		}
		info, err := os.Stat(p)
		if err != nil || info.Size() == 0 {
			t.Errorf("recording %q missing or empty: %v", p, err)
		}
	}

	var video string
	for _, p := range paths {
		if strings.HasSuffix(p, ".h264") {
			video = p
		}
	}
	var replayed int
	if err := encoder.Replay(context.Background(), video, 1000, nil, func(media.Packet) {
		replayed++
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed == 0 {
		t.Fatal("recording replayed no packets")
	}
}

func TestControlRecordingToggle(t *testing.T) {
	dir := t.TempDir()
	arch := &fakeArchiver{}
	h := newHarness(t, Config{
		Recording: RecordingConfig{
			VideoPath: filepath.Join(dir, "video.h264"),
			AudioPath: filepath.Join(dir, "audio.wav"),
		},
	}, WithArchiver(arch))
	h.start(t)
	if h.enc.IsRecording() {
		t.Fatal("recording started while disabled")
	}

	ctl := h.peer.handlers().OnDataMessage
	ctl(labelControl, []byte(`{"type":"start_recording"}`))
	if !h.enc.IsRecording() {
		t.Fatal("start_recording ignored")
	}
	base := h.enc.Stats().Frames
	waitFor(t, "frames", func() bool { return h.enc.Stats().Frames >= base+2 })
	ctl(labelControl, []byte(`{"type":"stop_recording"}`))
	if h.enc.IsRecording() {
		t.Fatal("stop_recording ignored")
	}
	if got := arch.queued(); len(got) != 1 || !strings.HasSuffix(got[0], ".h264") {
		t.Fatalf("archived = %v", got)
	}
}

func TestRecordingPath(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if got := recordingPath("/rec/session.h264", "abc", ts); got != "/rec/session-abc-20260304T050607.h264" {
		t.Fatalf("got %q", got)
	}
	if got := recordingPath("/rec/audio", "", ts); got != "/rec/audio-20260304T050607" {
		t.Fatalf("got %q", got)
	}
}
