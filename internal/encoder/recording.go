package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/breeze-rmm/streamcore/internal/media"
)

var (
	ErrAlreadyRecording = errors.New("recording already active")
	ErrNotRecording     = errors.New("no active recording")
)

// recording appends packets to a file as start-code-delimited segments.
type recording struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	started time.Time
	packets int
	bytes   int64
	dropped int
	log     *slog.Logger
}

func openRecording(path string, log *slog.Logger) (*recording, error) {
	if path == "" {
		return nil, errors.New("recording path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create recording directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &recording{f: f, path: path, started: time.Now(), log: log}, nil
}

// write appends one packet. Failures are logged and the packet is skipped;
// the recording stays open.
func (r *recording) write(pkt media.Packet) {
	buf := pkt.Data
	if !HasStartCode(buf) {
		buf = make([]byte, 0, len(StartCode)+len(pkt.Data))
		buf = append(buf, StartCode...)
		buf = append(buf, pkt.Data...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return
	}
	n, err := r.f.Write(buf)
	r.bytes += int64(n)
	if err != nil {
		r.dropped++
		r.log.Warn("recording write failed, packet skipped", "path", r.path, "error", err)
		return
	}
	r.packets++
}

func (r *recording) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	syncErr := r.f.Sync()
	closeErr := r.f.Close()
	r.f = nil
	r.log.Info("recording finalized",
		"path", r.path,
		"packets", r.packets,
		"bytes", r.bytes,
		"dropped", r.dropped,
		"duration", time.Since(r.started).Round(time.Millisecond),
	)
	return errors.Join(syncErr, closeErr)
}

// StartRecording begins appending every produced packet to path. The file
// is truncated if it exists.
func (e *Encoder) StartRecording(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec != nil {
		return ErrAlreadyRecording
	}
	rec, err := openRecording(path, e.log)
	if err != nil {
		return err
	}
	e.rec = rec
	e.log.Info("recording started", "path", path)
	if e.backend != nil {
		// A recording must start on a decodable frame.
		e.forceKey.Store(true)
	}
	return nil
}

// StopRecording flushes and closes the active recording.
func (e *Encoder) StopRecording() error {
	e.mu.Lock()
	rec := e.rec
	e.rec = nil
	e.mu.Unlock()
	if rec == nil {
		return ErrNotRecording
	}
	return rec.close()
}

// IsRecording reports whether a recording is active.
func (e *Encoder) IsRecording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec != nil
}

// RecordingPath returns the active recording's path, or "".
func (e *Encoder) RecordingPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return ""
	}
	return e.rec.path
}
