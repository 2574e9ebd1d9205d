package archive

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// containedPath resolves key under base and rejects keys that escape it.
func containedPath(base, key string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve archive root: %w", err)
	}
	target := filepath.Join(absBase, filepath.FromSlash(key))
	if target != absBase && !strings.HasPrefix(target, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("archive key %q resolves outside %q", key, absBase)
	}
	return target, nil
}

// Local stores recordings on a local or mounted filesystem. Keys ending in
// .gz are gzip-compressed on the way in.
type Local struct {
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: filepath.Clean(root)}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Upload(ctx context.Context, localPath, key string) error {
	if l.Root == "" || l.Root == "." {
		return errors.New("local archive root is required")
	}
	if localPath == "" || key == "" {
		return errors.New("local path and key are required")
	}
	dest, err := containedPath(l.Root, key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	return copyInto(ctx, localPath, dest, strings.HasSuffix(key, ".gz"))
}

// List returns the keys stored under prefix.
func (l *Local) List(prefix string) ([]string, error) {
	root := l.Root
	if prefix != "" {
		var err error
		if root, err = containedPath(l.Root, prefix); err != nil {
			return nil, err
		}
	}
	var keys []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.Root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	return keys, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func copyInto(ctx context.Context, src, dest string, compress bool) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat recording: %w", err)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	var w io.Writer = out
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(out)
		gz.Name = filepath.Base(src)
		gz.ModTime = info.ModTime()
		w = gz
	}

	_, err = io.Copy(w, ctxReader{ctx: ctx, r: in})
	if gz != nil {
		err = errors.Join(err, gz.Close())
	}
	err = errors.Join(err, out.Close())
	if err != nil {
		return fmt.Errorf("copy recording: %w", err)
	}
	if err = os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("finalize archive file: %w", err)
	}
	return os.Chtimes(dest, info.ModTime(), info.ModTime())
}
