package session

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/breeze-rmm/streamcore/internal/media"
)

// Data channel labels opened by the viewer (or by us when offering).
const (
	labelInput   = "input"
	labelControl = "control"
)

// PeerConnection is the negotiated real-time transport carrying one video
// and one audio track plus the input and control data channels.
type PeerConnection interface {
	// CreateOffer creates an offer, sets it as the local description and
	// returns its SDP.
	CreateOffer() (string, error)
	// CreateAnswer answers the applied remote offer, sets the answer as the
	// local description and returns its SDP.
	CreateAnswer() (string, error)
	SetRemoteDescription(sdpType webrtc.SDPType, sdp string) error
	AddICECandidate(c webrtc.ICECandidateInit) error

	WriteVideo(pkt media.Packet, duration time.Duration) error
	WriteAudio(frame []byte, duration time.Duration) error

	Close() error
}

// PeerHandlers receive transport events. They are called on transport-owned
// goroutines and must not block on controller teardown.
type PeerHandlers struct {
	OnICECandidate    func(webrtc.ICECandidateInit)
	OnStateChange     func(webrtc.PeerConnectionState)
	OnDataMessage     func(label string, data []byte)
	OnKeyframeRequest func()
}

// PeerConfig is passed to a PeerFactory.
type PeerConfig struct {
	ICEServers []webrtc.ICEServer
	// Offerer creates the data channels locally so they appear in the offer.
	Offerer  bool
	Handlers PeerHandlers
}

// PeerFactory builds a PeerConnection. NewPionPeer is the default.
type PeerFactory func(cfg PeerConfig) (PeerConnection, error)

// ICEServer is an ICE server entry from configuration.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// ParseICEServers converts configured servers, falling back to Google STUN
// when none are usable.
func ParseICEServers(raw []ICEServer) []webrtc.ICEServer {
	fallback := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	if len(raw) == 0 {
		return fallback
	}

	servers := make([]webrtc.ICEServer, 0, len(raw))
	for _, s := range raw {
		if len(s.URLs) == 0 {
			continue
		}
		server := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...)}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	if len(servers) == 0 {
		return fallback
	}
	return servers
}
