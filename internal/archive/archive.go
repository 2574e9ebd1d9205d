// Package archive ships finished recordings to long-term storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/breeze-rmm/streamcore/internal/logging"
)

var log = logging.L("archive")

// ErrUnknownProvider is returned for an unrecognized provider name.
var ErrUnknownProvider = errors.New("unknown archive provider")

// Provider stores a local file under a remote key.
type Provider interface {
	Upload(ctx context.Context, localPath, key string) error
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Provider         string // local, s3, gcs, azure, b2; empty disables archiving
	LocalPath        string
	Bucket           string
	Region           string
	Prefix           string
	Container        string
	ConnectionString string
	CredentialsFile  string
	AccountID        string
	AccountKey       string
	Workers          int
}

// Enabled reports whether a provider is configured.
func (c Config) Enabled() bool {
	return c.Provider != "" && c.Provider != "none"
}

// Validate checks the fields the selected provider needs.
func (c Config) Validate() error {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("archive provider %s requires %s", c.Provider, field)
		}
		return nil
	}
	switch c.Provider {
	case "", "none":
		return nil
	case "local":
		return need("local_path", c.LocalPath)
	case "s3":
		return errors.Join(need("bucket", c.Bucket), need("region", c.Region))
	case "gcs":
		return need("bucket", c.Bucket)
	case "azure":
		return errors.Join(need("connection_string", c.ConnectionString), need("container", c.Container))
	case "b2":
		return errors.Join(need("bucket", c.Bucket), need("account_id", c.AccountID), need("account_key", c.AccountKey))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
}

// New builds the configured provider. Cloud clients are created eagerly so
// credential problems surface at startup.
func New(ctx context.Context, cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "local":
		return NewLocal(cfg.LocalPath), nil
	case "s3":
		return NewS3(ctx, cfg.Bucket, cfg.Region, cfg.AccountID, cfg.AccountKey)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile)
	case "azure":
		return NewAzure(cfg.ConnectionString, cfg.Container)
	case "b2":
		return NewB2(ctx, cfg.Bucket, cfg.AccountID, cfg.AccountKey)
	default:
		return nil, fmt.Errorf("%w: archiving disabled", ErrUnknownProvider)
	}
}

// Key builds the remote key for a recording: prefix/streamID/basename.
func Key(prefix, streamID, localPath string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if streamID != "" {
		parts = append(parts, streamID)
	}
	parts = append(parts, filepath.Base(localPath))
	return path.Join(parts...)
}

// contentType guesses a MIME type from the key's extension.
func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".h264", ".264":
		return "video/h264"
	case ".wav":
		return "audio/wav"
	case ".gz":
		return "application/gzip"
	}
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}
