package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meeting-copilot/internal/config"
)

// ErrNotExist is returned by Open when no backend holds the key.
var ErrNotExist = errors.New("object does not exist")

// Store abstracts object storage backends for archived records.
type Store interface {
	// Save stores data under key. Keys are slash-separated relative paths.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for the object. Missing keys yield ErrNotExist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists in any backend.
	Exists(ctx context.Context, key string) bool

	// List returns every key starting with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// New creates a Store based on config. Returns the store and optional
// background services (uploader, reconciler) that the caller must Start/Stop.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, dir string, log zerolog.Logger) (Store, []BackgroundService, error) {
	if !cfg.Enabled() {
		return NewLocalStore(dir), nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary + async S3 backup
	local := NewLocalStore(dir)
	uploader := NewAsyncUploader(s3store, cfg.UploadBuffer, cfg.UploadWorkers, log)
	tiered := NewTieredStore(s3store, local, uploader, log)
	reconciler := NewUploadReconciler(local, s3store, log)

	return tiered, []BackgroundService{uploader, reconciler}, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
