package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/breeze-rmm/streamcore/internal/input"
	"github.com/breeze-rmm/streamcore/internal/media"
)

const testSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 H264/90000\r\n"

const testCandidate = "candidate:1 1 udp 2130706431 192.168.1.10 54400 typ host"

type fakePeer struct {
	mu         sync.Mutex
	h          PeerHandlers
	offerErr   error
	writeErr   error
	remote     []webrtc.SDPType
	candidates []webrtc.ICECandidateInit
	video      []media.Packet
	audio      int
	closed     bool
}

func (p *fakePeer) CreateOffer() (string, error) {
	if p.offerErr != nil {
		return "", p.offerErr
	}
	return testSDP, nil
}

func (p *fakePeer) CreateAnswer() (string, error) { return testSDP, nil }

func (p *fakePeer) SetRemoteDescription(t webrtc.SDPType, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, t)
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) WriteVideo(pkt media.Packet, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("write after close")
	}
	if p.writeErr != nil {
		return p.writeErr
	}
	p.video = append(p.video, pkt)
	return nil
}

func (p *fakePeer) WriteAudio([]byte, time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audio++
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) snapshot() (remote []webrtc.SDPType, cands []webrtc.ICECandidateInit, video []media.Packet, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.SDPType(nil), p.remote...),
		append([]webrtc.ICECandidateInit(nil), p.candidates...),
		append([]media.Packet(nil), p.video...),
		p.closed
}

func (p *fakePeer) handlers() PeerHandlers {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h
}

func (p *fakePeer) factory() PeerFactory {
	return func(cfg PeerConfig) (PeerConnection, error) {
		p.mu.Lock()
		p.h = cfg.Handlers
		p.mu.Unlock()
		return p, nil
	}
}

type fakeChannel struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	closed     bool
	url        string
	sent       []string
	cb         func(string)
}

func (f *fakeChannel) Connect(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.url = url
	return nil
}

func (f *fakeChannel) Send(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected && !f.closed {
		f.sent = append(f.sent, msg)
	}
}

func (f *fakeChannel) OnMessage(fn func(string)) {
	f.mu.Lock()
	f.cb = fn
	f.mu.Unlock()
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// deliver plays the role of the channel's read goroutine.
func (f *fakeChannel) deliver(msg string) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

func (f *fakeChannel) sentWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if strings.HasPrefix(m, prefix) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type failingSource struct {
	stopped bool
}

func (s *failingSource) Start(func(media.Frame)) error { return errors.New("no display") }
func (s *failingSource) Stop()                         { s.stopped = true }
func (s *failingSource) Bounds() (int, int)            { return 0, 0 }

type fakeInjector struct {
	mu     sync.Mutex
	events []input.Event
}

func (f *fakeInjector) Inject(_ context.Context, ev input.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeInjector) Name() string { return "fake" }

func (f *fakeInjector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeArchiver struct {
	mu    sync.Mutex
	paths []string
}

func (a *fakeArchiver) Enqueue(_, path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths = append(a.paths, path)
	return true
}

func (a *fakeArchiver) queued() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.paths...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
