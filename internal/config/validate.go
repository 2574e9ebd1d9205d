package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/breeze-rmm/streamcore/internal/archive"
	"github.com/breeze-rmm/streamcore/internal/capture"
	"github.com/breeze-rmm/streamcore/internal/encoder"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validRoles = map[string]bool{
	"offer":  true,
	"answer": true,
}

// Validate checks the config for invalid values and returns all errors found.
// Values that would break the pipeline (zero fps, odd sizes, empty stream
// id) are clamped or filled in; the remaining errors are warnings.
func (c *Config) Validate() []error {
	var errs []error

	if c.Capture.FPS < 1 {
		errs = append(errs, fmt.Errorf("capture.fps %d is below minimum 1, clamping", c.Capture.FPS))
		c.Capture.FPS = 1
	} else if c.Capture.FPS > 120 {
		errs = append(errs, fmt.Errorf("capture.fps %d exceeds maximum 120, clamping", c.Capture.FPS))
		c.Capture.FPS = 120
	}
	if c.Capture.Width < 16 || c.Capture.Height < 16 {
		errs = append(errs, fmt.Errorf("capture size %dx%d is too small, using 1280x720", c.Capture.Width, c.Capture.Height))
		c.Capture.Width, c.Capture.Height = 1280, 720
	}

	if c.Encoder.Bitrate < 100_000 {
		errs = append(errs, fmt.Errorf("encoder.bitrate %d is below minimum 100000, clamping", c.Encoder.Bitrate))
		c.Encoder.Bitrate = 100_000
	} else if c.Encoder.Bitrate > 50_000_000 {
		errs = append(errs, fmt.Errorf("encoder.bitrate %d exceeds maximum 50000000, clamping", c.Encoder.Bitrate))
		c.Encoder.Bitrate = 50_000_000
	}
	if c.Encoder.KeyframeInterval < 1 {
		errs = append(errs, fmt.Errorf("encoder.keyframe_interval %d is below minimum 1, clamping", c.Encoder.KeyframeInterval))
		c.Encoder.KeyframeInterval = 1
	}

	if c.Signaling.URL == "" {
		errs = append(errs, fmt.Errorf("signaling.url is empty"))
	} else if u, err := url.Parse(c.Signaling.URL); err != nil {
		errs = append(errs, fmt.Errorf("signaling.url %q is not a valid URL: %w", c.Signaling.URL, err))
	} else {
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			errs = append(errs, fmt.Errorf("signaling.url scheme must be ws, wss, http or https, got %q", u.Scheme))
		}
	}
	if c.Signaling.StreamID == "" {
		c.Signaling.StreamID = uuid.NewString()
	}
	c.Signaling.Role = strings.ToLower(strings.TrimSpace(c.Signaling.Role))
	if !validRoles[c.Signaling.Role] {
		errs = append(errs, fmt.Errorf("signaling.role %q must be offer or answer, defaulting to offer", c.Signaling.Role))
		c.Signaling.Role = "offer"
	}

	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice_servers[%d] has no urls", i))
		}
		for _, u := range s.URLs {
			if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
				errs = append(errs, fmt.Errorf("ice_servers[%d] url %q must start with stun:, turn: or turns:", i, u))
			}
		}
	}

	if c.Recording.Enabled && (c.Recording.VideoPath == "" || c.Recording.AudioPath == "") {
		errs = append(errs, fmt.Errorf("recording enabled without video_path and audio_path, disabling"))
		c.Recording.Enabled = false
	}

	if c.Audio.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is below minimum 8000, clamping", c.Audio.SampleRate))
		c.Audio.SampleRate = 8000
	} else if c.Audio.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d exceeds maximum 192000, clamping", c.Audio.SampleRate))
		c.Audio.SampleRate = 192000
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2, using 2", c.Audio.Channels))
		c.Audio.Channels = 2
	}
	if c.Audio.FrameMs < 5 || c.Audio.FrameMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d outside 5..100, using 20", c.Audio.FrameMs))
		c.Audio.FrameMs = 20
	}

	if c.Archive.Workers < 1 {
		errs = append(errs, fmt.Errorf("archive.workers %d is below minimum 1, clamping", c.Archive.Workers))
		c.Archive.Workers = 1
	} else if c.Archive.Workers > 16 {
		errs = append(errs, fmt.Errorf("archive.workers %d exceeds maximum 16, clamping", c.Archive.Workers))
		c.Archive.Workers = 16
	}
	if err := c.ArchiveConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}

	return errs
}

// ValidateAndWarn runs Validate and logs each problem as a warning.
func (c *Config) ValidateAndWarn() {
	for _, err := range c.Validate() {
		slog.Warn("config validation", "error", err.Error())
	}
}

func (c *Config) CaptureConfig() capture.Config {
	return capture.Config{
		Backend: c.Capture.Backend,
		Width:   c.Capture.Width,
		Height:  c.Capture.Height,
		FPS:     c.Capture.FPS,
	}
}

func (c *Config) EncoderConfig() encoder.Config {
	return encoder.Config{
		Bitrate:          c.Encoder.Bitrate,
		FPS:              c.Capture.FPS,
		KeyframeInterval: c.Encoder.KeyframeInterval,
		PreferHardware:   c.Encoder.PreferHardware,
	}
}

func (c *Config) ArchiveConfig() archive.Config {
	a := c.Archive
	return archive.Config{
		Provider:         a.Provider,
		LocalPath:        a.LocalPath,
		Bucket:           a.Bucket,
		Region:           a.Region,
		Prefix:           a.Prefix,
		Container:        a.Container,
		ConnectionString: a.ConnectionString,
		CredentialsFile:  a.CredentialsFile,
		AccountID:        a.AccountID,
		AccountKey:       a.AccountKey,
		Workers:          a.Workers,
	}
}
