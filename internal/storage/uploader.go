package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// AsyncUploader handles background remote uploads without blocking the
// orchestration pipeline. Objects are already saved locally before being
// enqueued here.
type AsyncUploader struct {
	remote   Store
	ch       chan uploadJob
	workers  int
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	uploaded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

type uploadJob struct {
	key         string
	data        []byte
	contentType string
}

// UploaderStats is a snapshot of uploader counters.
type UploaderStats struct {
	Uploaded int64
	Failed   int64
	Dropped  int64
	Queued   int
}

// NewAsyncUploader creates an async uploader with the given buffer size and
// worker count.
func NewAsyncUploader(remote Store, bufferSize, workers int, log zerolog.Logger) *AsyncUploader {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if workers <= 0 {
		workers = 1
	}
	return &AsyncUploader{
		remote:  remote,
		ch:      make(chan uploadJob, bufferSize),
		workers: workers,
		log:     log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an upload job. Non-blocking: drops with a warning if full or
// stopped. Returns false when the job was dropped.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) bool {
	if u.stopped.Load() {
		u.dropped.Add(1)
		return false
	}
	job := uploadJob{key: key, data: data, contentType: contentType}
	select {
	case u.ch <- job:
		return true
	default:
		u.dropped.Add(1)
		u.log.Warn().Str("key", key).Msg("async upload queue full, skipping (object safe on disk)")
		return false
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop stops accepting jobs and waits for workers to drain the queue.
func (u *AsyncUploader) Stop() {
	u.stopped.Store(true)
	u.stopOnce.Do(func() { close(u.ch) })
	u.wg.Wait()
}

// Stats returns the uploader counters.
func (u *AsyncUploader) Stats() UploaderStats {
	return UploaderStats{
		Uploaded: u.uploaded.Load(),
		Failed:   u.failed.Load(),
		Dropped:  u.dropped.Load(),
		Queued:   len(u.ch),
	}
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.remote.Save(ctx, job.key, job.data, job.contentType); err != nil {
			u.failed.Add(1)
			u.log.Error().Err(err).Str("key", job.key).Msg("async upload failed (object safe on disk)")
		} else {
			u.uploaded.Add(1)
		}
		cancel()
	}
}
