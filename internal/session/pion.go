package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/breeze-rmm/streamcore/internal/logging"
	"github.com/breeze-rmm/streamcore/internal/media"
)

const (
	playoutDelayURI     = "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay"
	keyframeMinInterval = 500 * time.Millisecond
)

var pionLog = logging.L("webrtc")

type pionPeer struct {
	pc    *webrtc.PeerConnection
	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample
	h     PeerHandlers

	closeOnce sync.Once
	rtcpWG    sync.WaitGroup
}

// NewPionPeer builds a pion peer connection with an H264 video track, a
// PCMU audio track and RTCP readers that turn PLI/FIR into key frame
// requests.
func NewPionPeer(cfg PeerConfig) (PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}
	if err := mediaEngine.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: playoutDelayURI},
		webrtc.RTPCodecTypeVideo,
	); err != nil {
		pionLog.Warn("failed to register playout-delay extension (non-fatal)", "error", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	p := &pionPeer{pc: pc, h: cfg.Handlers}

	if err := p.setup(cfg.Offerer); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *pionPeer) setup(offerer bool) error {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=4d001f",
		},
		"video",
		"streamcore",
	)
	if err != nil {
		return fmt.Errorf("failed to create video track: %w", err)
	}
	videoSender, err := p.pc.AddTrack(video)
	if err != nil {
		return fmt.Errorf("failed to add video track: %w", err)
	}
	p.video = video

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		"audio",
		"streamcore-audio",
	)
	if err != nil {
		return fmt.Errorf("failed to create audio track: %w", err)
	}
	audioSender, err := p.pc.AddTrack(audio)
	if err != nil {
		return fmt.Errorf("failed to add audio track: %w", err)
	}
	p.audio = audio

	p.rtcpWG.Add(2)
	go p.readRTCP(videoSender, true)
	go p.readRTCP(audioSender, false)

	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || p.h.OnICECandidate == nil {
			return
		}
		p.h.OnICECandidate(c.ToJSON())
	})
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		pionLog.Info("peer connection state", logging.KeyState, state.String())
		if p.h.OnStateChange != nil {
			p.h.OnStateChange(state)
		}
	})
	p.pc.OnDataChannel(p.attach)

	if offerer {
		for _, label := range []string{labelInput, labelControl} {
			dc, err := p.pc.CreateDataChannel(label, nil)
			if err != nil {
				return fmt.Errorf("failed to create %s data channel: %w", label, err)
			}
			p.attach(dc)
		}
	}
	return nil
}

func (p *pionPeer) attach(dc *webrtc.DataChannel) {
	label := dc.Label()
	switch label {
	case labelInput, labelControl:
	default:
		pionLog.Debug("ignoring data channel", "label", label)
		return
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.h.OnDataMessage != nil {
			p.h.OnDataMessage(label, msg.Data)
		}
	})
}

// readRTCP drains the sender so the interceptors never block. PLI and FIR on
// the video sender request a key frame, rate limited.
func (p *pionPeer) readRTCP(sender *webrtc.RTPSender, video bool) {
	defer p.rtcpWG.Done()
	buf := make([]byte, 1500)
	var lastKF time.Time
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		if !video || p.h.OnKeyframeRequest == nil {
			continue
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if time.Since(lastKF) < keyframeMinInterval {
					continue
				}
				lastKF = time.Now()
				p.h.OnKeyframeRequest()
			}
		}
	}
}

func (p *pionPeer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

func (p *pionPeer) CreateAnswer() (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return answer.SDP, nil
}

func (p *pionPeer) SetRemoteDescription(sdpType webrtc.SDPType, sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp})
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) WriteVideo(pkt media.Packet, duration time.Duration) error {
	return p.video.WriteSample(pionmedia.Sample{Data: pkt.Data, Duration: duration})
}

func (p *pionPeer) WriteAudio(frame []byte, duration time.Duration) error {
	return p.audio.WriteSample(pionmedia.Sample{Data: frame, Duration: duration})
}

// Close closes the peer connection and waits for the RTCP readers, which
// exit once their senders are stopped.
func (p *pionPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pc.Close()
		if errors.Is(err, webrtc.ErrConnectionClosed) {
			err = nil
		}
		p.rtcpWG.Wait()
	})
	return err
}
