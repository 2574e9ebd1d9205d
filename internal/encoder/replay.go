package encoder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/breeze-rmm/streamcore/internal/media"
)

// maxSegment bounds a single replayed packet.
const maxSegment = 64 << 20

// Replay reads a recording and delivers one packet per start-code-delimited
// segment, sleeping 1/fps between deliveries. Timestamps are synthesized as
// i*1e6/fps microseconds. It returns nil once the file is exhausted, or the
// context error if ctx ends first. A nil isKey uses H264KeyFrame.
//
// The format has no length prefix or checksum, so a corrupt file misframes
// rather than failing.
func Replay(ctx context.Context, path string, fps int, isKey KeyFramePredicate, deliver func(media.Packet)) error {
	if fps <= 0 {
		return ErrInvalidFPS
	}
	if isKey == nil {
		isKey = H264KeyFrame
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 256<<10), maxSegment)
	sc.Split(splitAnnexB)

	interval := media.FrameInterval(fps)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	var i uint64
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			timer.Reset(interval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}

		seg := append([]byte(nil), sc.Bytes()...)
		deliver(media.Packet{
			Data:      seg,
			KeyFrame:  isKey(seg),
			Timestamp: i * 1_000_000 / uint64(fps),
		})
		i++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read recording: %w", err)
	}
	return nil
}
