// Package audio records PCM16 audio to WAV files, plays them back at real
// time and encodes samples to G.711 μ-law for the transport.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/breeze-rmm/streamcore/internal/logging"
)

var log = logging.L("audio")

// HeaderSize is the size of the canonical RIFF/WAVE header.
const HeaderSize = 44

const (
	riffSizeOffset = 4
	dataSizeOffset = 40
	bitsPerSample  = 16
)

// ErrNotRecording is returned by StopRecording when nothing is recording.
var ErrNotRecording = errors.New("audio: no active recording")

// Recorder writes interleaved PCM16 frames to a WAV file.
type Recorder struct {
	sampleRate int
	channels   int

	mu        sync.Mutex
	f         *os.File
	path      string
	dataBytes uint32
	lastTS    uint64
}

// NewRecorder creates a recorder for the given format.
func NewRecorder(sampleRate, channels int) *Recorder {
	return &Recorder{sampleRate: sampleRate, channels: channels}
}

// StartRecording creates path and writes a header with zero size fields.
// An active recording is finalized first.
func (r *Recorder) StartRecording(path string) error {
	if r.sampleRate <= 0 || r.channels <= 0 {
		return fmt.Errorf("audio: invalid format %d Hz x %d ch", r.sampleRate, r.channels)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f != nil {
		if err := r.finalizeLocked(); err != nil {
			log.Warn("previous recording finalize failed", "path", r.path, "error", err)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create recording directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := writeHeader(f, r.sampleRate, r.channels); err != nil {
		f.Close()
		return fmt.Errorf("write wav header: %w", err)
	}
	r.f = f
	r.path = path
	r.dataBytes = 0
	r.lastTS = 0
	log.Info("audio recording started", "path", path, "sampleRate", r.sampleRate, "channels", r.channels)
	return nil
}

// RecordFrame appends samples as little-endian PCM16. It is a no-op when
// no recording is active.
func (r *Recorder) RecordFrame(samples []int16, timestamp uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	n, err := r.f.Write(buf)
	r.dataBytes += uint32(n)
	r.lastTS = timestamp
	if err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	return nil
}

// StopRecording patches the RIFF and data chunk sizes and closes the file.
// The file is not a valid WAV until this runs.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return ErrNotRecording
	}
	return r.finalizeLocked()
}

// IsRecording reports whether a recording is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f != nil
}

// Path returns the file of the active or last recording.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *Recorder) finalizeLocked() error {
	f := r.f
	r.f = nil

	var errs []error
	if err := putUint32At(f, riffSizeOffset, 36+r.dataBytes); err != nil {
		errs = append(errs, err)
	}
	if err := putUint32At(f, dataSizeOffset, r.dataBytes); err != nil {
		errs = append(errs, err)
	}
	if err := f.Close(); err != nil {
		errs = append(errs, err)
	}
	log.Info("audio recording finalized", "path", r.path, "dataBytes", r.dataBytes)
	return errors.Join(errs...)
}

func putUint32At(w io.WriterAt, off int64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.WriteAt(b[:], off)
	return err
}

func writeHeader(w io.Writer, sampleRate, channels int) error {
	blockAlign := channels * bitsPerSample / 8
	h := make([]byte, 0, HeaderSize)
	h = append(h, "RIFF"...)
	h = binary.LittleEndian.AppendUint32(h, 0)
	h = append(h, "WAVEfmt "...)
	h = binary.LittleEndian.AppendUint32(h, 16)
	h = binary.LittleEndian.AppendUint16(h, 1) // PCM
	h = binary.LittleEndian.AppendUint16(h, uint16(channels))
	h = binary.LittleEndian.AppendUint32(h, uint32(sampleRate))
	h = binary.LittleEndian.AppendUint32(h, uint32(sampleRate*blockAlign))
	h = binary.LittleEndian.AppendUint16(h, uint16(blockAlign))
	h = binary.LittleEndian.AppendUint16(h, bitsPerSample)
	h = append(h, "data"...)
	h = binary.LittleEndian.AppendUint32(h, 0)
	_, err := w.Write(h)
	return err
}
