package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/breeze-rmm/streamcore/internal/archive"
	"github.com/breeze-rmm/streamcore/internal/audio"
	"github.com/breeze-rmm/streamcore/internal/capture"
	"github.com/breeze-rmm/streamcore/internal/config"
	"github.com/breeze-rmm/streamcore/internal/encoder"
	"github.com/breeze-rmm/streamcore/internal/input"
	"github.com/breeze-rmm/streamcore/internal/logging"
	"github.com/breeze-rmm/streamcore/internal/session"
	"github.com/breeze-rmm/streamcore/internal/signaling"
)

var log = logging.L("main")

const (
	logMaxSizeMB  = 50
	logMaxBackups = 3

	archiveDrainTimeout = 30 * time.Second
)

// setupLogging installs the configured log output. The returned func
// releases it.
func setupLogging(cfg *config.Config) func() {
	var w io.Writer = os.Stderr
	var file io.Closer
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, logMaxSizeMB, logMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file, logging to stderr: %v\n", err)
		} else {
			w = logging.TeeWriter(os.Stderr, rw)
			file = rw
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, w)
	return func() {
		logging.Close()
		if file != nil {
			file.Close()
		}
	}
}

func loadConfig() (*config.Config, bool) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, false
	}
	cfg.ValidateAndWarn()
	return cfg, true
}

// newAudioSource builds the configured source, or nil when audio is off.
// Source is "tone" or "file:<path>".
func newAudioSource(cfg config.AudioConfig) (audio.Source, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch {
	case cfg.Source == "" || cfg.Source == "tone":
		return audio.NewToneSource(cfg.SampleRate, cfg.Channels, cfg.FrameMs), nil
	case strings.HasPrefix(cfg.Source, "file:"):
		path := strings.TrimPrefix(cfg.Source, "file:")
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("audio source: %w", err)
		}
		return &audio.FileSource{
			Path:       path,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			FrameMs:    cfg.FrameMs,
		}, nil
	default:
		return nil, fmt.Errorf("audio source: unknown kind %q", cfg.Source)
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	servers := make([]session.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		servers = append(servers, session.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return session.Config{
		Role:       cfg.Signaling.Role,
		FPS:        cfg.Capture.FPS,
		ICEServers: servers,
		Recording: session.RecordingConfig{
			Enabled:   cfg.Recording.Enabled,
			VideoPath: cfg.Recording.VideoPath,
			AudioPath: cfg.Recording.AudioPath,
		},
	}
}

func runStream(ctx context.Context) int {
	cfg, ok := loadConfig()
	if !ok {
		return 1
	}
	closeLog := setupLogging(cfg)
	defer closeLog()

	log.Info("starting streamcore",
		"version", version,
		"stream", cfg.Signaling.StreamID,
		"role", cfg.Signaling.Role,
		"capture", cfg.Capture.Backend,
	)

	source, err := capture.New(cfg.CaptureConfig())
	if err != nil {
		log.Error("capture unavailable", "error", err)
		return 1
	}
	enc := encoder.New(cfg.EncoderConfig())
	injector, err := input.New(cfg.Input.Backend)
	if err != nil {
		log.Error("input injection unavailable", "error", err)
		return 1
	}
	sig := signaling.NewWebSocket()

	opts := []session.Option{session.WithInjector(injector)}

	src, err := newAudioSource(cfg.Audio)
	if err != nil {
		log.Warn("audio disabled", "error", err)
	} else if src != nil {
		opts = append(opts, session.WithAudioSource(src))
	}

	var uploader *archive.Uploader
	if acfg := cfg.ArchiveConfig(); acfg.Enabled() {
		provider, err := archive.New(ctx, acfg)
		if err != nil {
			log.Warn("recording archive disabled", "provider", acfg.Provider, "error", err)
		} else {
			uploader = archive.NewUploader(provider, acfg.Prefix, acfg.Workers)
			opts = append(opts, session.WithArchiver(uploader))
		}
	}

	ctrl := session.New(sessionConfig(cfg), source, enc, sig, opts...)

	code := 0
	if err := ctrl.Init(ctx); err != nil {
		log.Error("session init failed", "error", err)
		code = 1
	} else if err := ctrl.Start(ctx, cfg.Signaling.URL, cfg.Signaling.StreamID); err != nil {
		log.Error("session start failed", "error", err)
		code = 1
	} else {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
		case <-ctrl.Done():
			if ctrl.State() == session.Failed {
				code = 1
			}
		}
	}
	ctrl.Stop()

	m := ctrl.Metrics()
	log.Info("session finished",
		"state", ctrl.State().String(),
		"framesSent", m.FramesSent,
		"framesDropped", m.FramesDropped,
		"uptime", m.Uptime.Round(time.Second).String(),
	)

	if uploader != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), archiveDrainTimeout)
		if err := uploader.Close(drainCtx); err != nil {
			log.Warn("recording archive did not drain", "error", err)
		}
		cancel()
	}
	return code
}
