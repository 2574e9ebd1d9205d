package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/streamcore/internal/archive"
	"github.com/breeze-rmm/streamcore/internal/audio"
	"github.com/breeze-rmm/streamcore/internal/capture"
	"github.com/breeze-rmm/streamcore/internal/config"
	"github.com/breeze-rmm/streamcore/internal/encoder"
	"github.com/breeze-rmm/streamcore/internal/health"
	"github.com/breeze-rmm/streamcore/internal/input"
	"github.com/breeze-rmm/streamcore/internal/media"
	"github.com/breeze-rmm/streamcore/internal/session"
	"github.com/breeze-rmm/streamcore/internal/signaling"
)

func replayRecording(ctx context.Context, path string, fps int, decode bool) int {
	var dec encoder.Decoder
	var packets, keys, bytes, bad int
	err := encoder.Replay(ctx, path, fps, nil, func(pkt media.Packet) {
		packets++
		bytes += len(pkt.Data)
		if pkt.KeyFrame {
			keys++
		}
		line := fmt.Sprintf("%6d  ts=%-12d key=%-5t size=%d", packets, pkt.Timestamp, pkt.KeyFrame, len(pkt.Data))
		if decode {
			pic, err := dec.Decode(pkt.Data)
			if err != nil {
				bad++
				line += fmt.Sprintf("  decode error: %v", err)
			} else {
				line += fmt.Sprintf("  %dx%d", pic.Width, pic.Height)
			}
		}
		fmt.Println(line)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Replay failed: %v\n", err)
		return 1
	}
	fmt.Printf("%d packets, %d key frames, %d bytes\n", packets, keys, bytes)
	if bad > 0 {
		fmt.Fprintf(os.Stderr, "%d packets failed to decode\n", bad)
		return 1
	}
	return 0
}

func playAudio(ctx context.Context, path string) int {
	cfg, ok := loadConfig()
	if !ok {
		return 1
	}
	a := cfg.Audio
	var peak int16
	n, err := audio.Play(ctx, path, a.SampleRate, a.Channels, a.FrameMs, func(samples []int16, _ uint64) {
		for _, s := range samples {
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Playback failed: %v\n", err)
		return 1
	}
	fmt.Printf("played %d blocks of %d ms, peak amplitude %d\n", n, a.FrameMs, peak)
	return 0
}

// startupProbes constructs each subsystem the way a session would and
// releases it again.
func startupProbes(cfg *config.Config) []health.Probe {
	return []health.Probe{
		{Name: "capture", Required: true, Check: func(context.Context) error {
			src, err := capture.New(cfg.CaptureConfig())
			if err != nil {
				return err
			}
			if err := src.Start(func(media.Frame) {}); err != nil {
				return err
			}
			src.Stop()
			return nil
		}},
		{Name: "encoder", Required: true, Check: func(context.Context) error {
			enc := encoder.New(cfg.EncoderConfig())
			if err := enc.Start(cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.FPS, func(media.Packet) {}); err != nil {
				return err
			}
			enc.Stop()
			return nil
		}},
		{Name: "input", Required: true, Check: func(context.Context) error {
			_, err := input.New(cfg.Input.Backend)
			return err
		}},
		{Name: "signaling", Required: true, Check: func(context.Context) error {
			_, err := signaling.StreamURL(cfg.Signaling.URL, cfg.Signaling.StreamID)
			return err
		}},
		{Name: "session", Required: true, Check: func(context.Context) error {
			servers := make([]session.ICEServer, 0, len(cfg.ICEServers))
			for _, s := range cfg.ICEServers {
				servers = append(servers, session.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
			}
			peer, err := session.NewPionPeer(session.PeerConfig{ICEServers: session.ParseICEServers(servers)})
			if err != nil {
				return err
			}
			return peer.Close()
		}},
		{Name: "audio", Check: func(context.Context) error {
			src, err := newAudioSource(cfg.Audio)
			if err != nil || src == nil {
				return err
			}
			if err := src.Start(func([]int16, uint64) {}); err != nil {
				return err
			}
			src.Stop()
			return nil
		}},
		{Name: "archive", Check: func(ctx context.Context) error {
			acfg := cfg.ArchiveConfig()
			if !acfg.Enabled() {
				return nil
			}
			p, err := archive.New(ctx, acfg)
			if err != nil {
				return err
			}
			if c, ok := p.(io.Closer); ok {
				c.Close()
			}
			return nil
		}},
	}
}

type healthReport struct {
	Overall health.Status       `yaml:"overall"`
	Checks  []health.Check      `yaml:"checks"`
	Host    health.HostSnapshot `yaml:"host"`
}

func checkHealth(ctx context.Context) int {
	cfg, ok := loadConfig()
	if !ok {
		return 1
	}
	closeLog := setupLogging(cfg)
	defer closeLog()

	mon := health.NewMonitor()
	probeErr := health.RunProbes(ctx, mon, startupProbes(cfg))

	host := health.CollectHost(recordingDir(cfg))
	health.ReportHost(mon, host)

	out, err := yaml.Marshal(healthReport{Overall: mon.Overall(), Checks: mon.All(), Host: host})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
		return 1
	}
	os.Stdout.Write(out)

	if probeErr != nil {
		fmt.Fprintf(os.Stderr, "Required subsystems failed: %v\n", probeErr)
		return 1
	}
	return 0
}

// recordingDir is the existing directory that will receive recordings, or
// empty when there is none.
func recordingDir(cfg *config.Config) string {
	for _, p := range []string{cfg.Recording.VideoPath, cfg.Recording.AudioPath} {
		if p == "" {
			continue
		}
		for dir := filepath.Dir(p); ; dir = filepath.Dir(dir) {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				return dir
			}
			if dir == filepath.Dir(dir) {
				break
			}
		}
	}
	return ""
}
