package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type CaptureConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Width   int    `mapstructure:"width" yaml:"width"`
	Height  int    `mapstructure:"height" yaml:"height"`
	FPS     int    `mapstructure:"fps" yaml:"fps"`
}

type EncoderConfig struct {
	Bitrate          int  `mapstructure:"bitrate" yaml:"bitrate"`
	KeyframeInterval int  `mapstructure:"keyframe_interval" yaml:"keyframe_interval"`
	PreferHardware   bool `mapstructure:"prefer_hardware" yaml:"prefer_hardware"`
}

type SignalingConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	StreamID string `mapstructure:"stream_id" yaml:"stream_id"`
	Role     string `mapstructure:"role" yaml:"role"` // offer or answer
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls" yaml:"urls"`
	Username   string   `mapstructure:"username" yaml:"username,omitempty"`
	Credential string   `mapstructure:"credential" yaml:"credential,omitempty"`
}

type RecordingConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	VideoPath string `mapstructure:"video_path" yaml:"video_path"`
	AudioPath string `mapstructure:"audio_path" yaml:"audio_path"`
}

type AudioConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Source     string `mapstructure:"source" yaml:"source"` // tone, or file:<path>
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	FrameMs    int    `mapstructure:"frame_ms" yaml:"frame_ms"`
}

type InputConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

type ArchiveConfig struct {
	Provider         string `mapstructure:"provider" yaml:"provider"`
	LocalPath        string `mapstructure:"local_path" yaml:"local_path,omitempty"`
	Bucket           string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Region           string `mapstructure:"region" yaml:"region,omitempty"`
	Prefix           string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Container        string `mapstructure:"container" yaml:"container,omitempty"`
	ConnectionString string `mapstructure:"connection_string" yaml:"connection_string,omitempty"`
	CredentialsFile  string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
	AccountID        string `mapstructure:"account_id" yaml:"account_id,omitempty"`
	AccountKey       string `mapstructure:"account_key" yaml:"account_key,omitempty"`
	Workers          int    `mapstructure:"workers" yaml:"workers"`
}

type Config struct {
	Capture    CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Encoder    EncoderConfig   `mapstructure:"encoder" yaml:"encoder"`
	Signaling  SignalingConfig `mapstructure:"signaling" yaml:"signaling"`
	ICEServers []ICEServer     `mapstructure:"ice_servers" yaml:"ice_servers"`
	Recording  RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Audio      AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Input      InputConfig     `mapstructure:"input" yaml:"input"`
	Archive    ArchiveConfig   `mapstructure:"archive" yaml:"archive"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file,omitempty"`
}

func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Backend: "testpattern",
			Width:   1280,
			Height:  720,
			FPS:     30,
		},
		Encoder: EncoderConfig{
			Bitrate:          2_500_000,
			KeyframeInterval: 60,
		},
		Signaling: SignalingConfig{
			URL:  "ws://localhost:8080/signal",
			Role: "offer",
		},
		ICEServers: []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		Recording: RecordingConfig{
			VideoPath: filepath.Join(dataDir(), "recordings", "session.h264"),
			AudioPath: filepath.Join(dataDir(), "recordings", "session.wav"),
		},
		Audio: AudioConfig{
			Source:     "tone",
			SampleRate: 48000,
			Channels:   2,
			FrameMs:    20,
		},
		Archive: ArchiveConfig{
			Prefix:  "recordings",
			Workers: 2,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads cfgFile, or streamcore.yaml from the usual directories, over
// the defaults. A missing config file is not an error. Environment variables
// prefixed STREAMCORE_ override file values (STREAMCORE_CAPTURE_FPS).
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("streamcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STREAMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("capture.backend", d.Capture.Backend)
	v.SetDefault("capture.width", d.Capture.Width)
	v.SetDefault("capture.height", d.Capture.Height)
	v.SetDefault("capture.fps", d.Capture.FPS)

	v.SetDefault("encoder.bitrate", d.Encoder.Bitrate)
	v.SetDefault("encoder.keyframe_interval", d.Encoder.KeyframeInterval)
	v.SetDefault("encoder.prefer_hardware", d.Encoder.PreferHardware)

	v.SetDefault("signaling.url", d.Signaling.URL)
	v.SetDefault("signaling.stream_id", d.Signaling.StreamID)
	v.SetDefault("signaling.role", d.Signaling.Role)

	servers := make([]map[string]any, 0, len(d.ICEServers))
	for _, s := range d.ICEServers {
		servers = append(servers, map[string]any{"urls": s.URLs})
	}
	v.SetDefault("ice_servers", servers)

	v.SetDefault("recording.enabled", d.Recording.Enabled)
	v.SetDefault("recording.video_path", d.Recording.VideoPath)
	v.SetDefault("recording.audio_path", d.Recording.AudioPath)

	v.SetDefault("audio.enabled", d.Audio.Enabled)
	v.SetDefault("audio.source", d.Audio.Source)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.frame_ms", d.Audio.FrameMs)

	v.SetDefault("input.backend", d.Input.Backend)

	v.SetDefault("archive.provider", d.Archive.Provider)
	v.SetDefault("archive.local_path", d.Archive.LocalPath)
	v.SetDefault("archive.bucket", d.Archive.Bucket)
	v.SetDefault("archive.region", d.Archive.Region)
	v.SetDefault("archive.prefix", d.Archive.Prefix)
	v.SetDefault("archive.container", d.Archive.Container)
	v.SetDefault("archive.connection_string", d.Archive.ConnectionString)
	v.SetDefault("archive.credentials_file", d.Archive.CredentialsFile)
	v.SetDefault("archive.account_id", d.Archive.AccountID)
	v.SetDefault("archive.account_key", d.Archive.AccountKey)
	v.SetDefault("archive.workers", d.Archive.Workers)

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)
}

const redacted = "[redacted]"

// Render returns the effective configuration as YAML with secrets masked.
func Render(cfg *Config) ([]byte, error) {
	c := *cfg
	c.ICEServers = make([]ICEServer, len(cfg.ICEServers))
	for i, s := range cfg.ICEServers {
		if s.Credential != "" {
			s.Credential = redacted
		}
		c.ICEServers[i] = s
	}
	if c.Archive.AccountKey != "" {
		c.Archive.AccountKey = redacted
	}
	if c.Archive.ConnectionString != "" {
		c.Archive.ConnectionString = redacted
	}
	return yaml.Marshal(&c)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze")
	case "darwin":
		return "/Library/Application Support/Breeze"
	default:
		return "/etc/breeze"
	}
}

func dataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze", "streamcore")
	case "darwin":
		return "/Library/Application Support/Breeze/streamcore"
	default:
		return "/var/lib/breeze/streamcore"
	}
}
