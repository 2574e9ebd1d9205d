package archive

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/breeze-rmm/streamcore/internal/workerpool"
)

const uploadTimeout = 10 * time.Minute

// Uploader queues recordings for upload on a worker pool.
type Uploader struct {
	provider Provider
	pool     *workerpool.Pool
	prefix   string
}

// NewUploader uploads through provider with the given number of workers.
func NewUploader(provider Provider, prefix string, workers int) *Uploader {
	if workers < 1 {
		workers = 2
	}
	return &Uploader{
		provider: provider,
		pool:     workerpool.New(workers, 64),
		prefix:   prefix,
	}
}

// Enqueue schedules localPath for upload under prefix/streamID. It returns
// false if the file does not exist or the queue rejected it.
func (u *Uploader) Enqueue(streamID, localPath string) bool {
	info, err := os.Stat(localPath)
	if err != nil {
		log.Warn("recording not archived", "path", localPath, "error", err)
		return false
	}
	if info.Size() == 0 {
		log.Info("skipping empty recording", "path", localPath)
		return false
	}

	key := Key(u.prefix, streamID, localPath)
	return u.pool.Submit(workerpool.Task{
		Name: fmt.Sprintf("%s:%s", u.provider.Name(), key),
		Run: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
			defer cancel()
			start := time.Now()
			if err := u.provider.Upload(ctx, localPath, key); err != nil {
				return err
			}
			log.Info("recording archived",
				"provider", u.provider.Name(),
				"key", key,
				"bytes", info.Size(),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return nil
		},
	})
}

// Close waits for pending uploads until ctx ends.
func (u *Uploader) Close(ctx context.Context) error {
	return u.pool.Drain(ctx)
}

// Stats reports the upload counters.
func (u *Uploader) Stats() workerpool.Stats {
	return u.pool.Stats()
}
