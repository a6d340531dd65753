package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/rs/zerolog"
)

// TieredStore combines local disk (source of truth) with a remote backup.
// Write path: save locally first (never block on the remote), then enqueue
// the remote upload. Read path: local first, remote fallback with cache-on-read.
type TieredStore struct {
	remote   Store
	local    *LocalStore
	uploader *AsyncUploader
	log      zerolog.Logger
}

// NewTieredStore creates a tiered local-primary + remote-backup store. With a
// nil uploader the remote write happens inline.
func NewTieredStore(remote Store, local *LocalStore, uploader *AsyncUploader, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		remote:   remote,
		local:    local,
		uploader: uploader,
		log:      log.With().Str("component", "tiered-store").Logger(),
	}
}

// Save writes to local disk first (fatal on failure), then the remote
// (warning on failure). Remote failures are non-fatal; the upload
// reconciler will catch them.
func (s *TieredStore) Save(ctx context.Context, key string, data []byte, ct string) error {
	if err := s.local.Save(ctx, key, data, ct); err != nil {
		return err
	}
	if s.uploader != nil {
		s.uploader.Enqueue(key, data, ct)
		return nil
	}
	if err := s.remote.Save(ctx, key, data, ct); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("remote backup write failed, reconciler will retry")
	}
	return nil
}

// Open checks local disk first, then falls back to the remote. On a remote
// hit, the object is cached locally for future reads.
func (s *TieredStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if r, err := s.local.Open(ctx, key); err == nil {
		return r, nil
	}
	r, err := s.remote.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, err
	}
	// Best-effort local cache write
	if cacheErr := s.local.Save(ctx, key, data, ""); cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("key", key).Msg("failed to cache remote object locally")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	if s.local.Exists(ctx, key) {
		return true
	}
	return s.remote.Exists(ctx, key)
}

// List merges local and remote keys. A remote listing failure is logged and
// the local keys are returned.
func (s *TieredStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.local.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	remote, err := s.remote.List(ctx, prefix)
	if err != nil {
		s.log.Warn().Err(err).Str("prefix", prefix).Msg("remote listing failed, using local keys only")
		return keys, nil
	}

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	for _, k := range remote {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
			seen[k] = struct{}{}
		}
	}
	return keys, nil
}

func (s *TieredStore) Type() string { return "tiered" }
