package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// FrameFunc receives one block of interleaved samples and its offset from
// the start of the file in milliseconds. samples is reused between calls.
type FrameFunc func(samples []int16, timestampMs uint64)

// Play delivers the samples of a WAV file in blocks of frameMs, sleeping
// frameMs between blocks. The header is skipped without being parsed, so
// sampleRate and channels must describe the file. A trailing partial block
// is delivered short, without a pause after it. It returns the number of
// blocks delivered.
func Play(ctx context.Context, path string, sampleRate, channels, frameMs int, cb FrameFunc) (int, error) {
	perFrame := sampleRate * channels * frameMs / 1000
	if perFrame <= 0 {
		return 0, fmt.Errorf("audio: invalid block size for %d Hz x %d ch x %d ms", sampleRate, channels, frameMs)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(HeaderSize, io.SeekStart); err != nil {
		return 0, fmt.Errorf("skip wav header: %w", err)
	}

	r := bufio.NewReader(f)
	raw := make([]byte, 2*perFrame)
	samples := make([]int16, perFrame)
	frameDur := time.Duration(frameMs) * time.Millisecond
	timer := time.NewTimer(frameDur)
	defer timer.Stop()

	var ts uint64
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		n, err := io.ReadFull(r, raw)
		switch {
		case errors.Is(err, io.EOF):
			return delivered, nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			if tail := n / 2; tail > 0 {
				decodePCM(samples[:tail], raw)
				cb(samples[:tail], ts)
				delivered++
			}
			return delivered, nil
		case err != nil:
			return delivered, fmt.Errorf("read samples: %w", err)
		}
		decodePCM(samples, raw)
		cb(samples, ts)
		delivered++

		timer.Reset(frameDur)
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case <-timer.C:
		}
		ts += uint64(frameMs)
	}
}

func decodePCM(dst []int16, raw []byte) {
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
}
