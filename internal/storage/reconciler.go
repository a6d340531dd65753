package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans the local store for objects missing from the remote
// and re-uploads them. Handles failed/dropped async uploads and crash recovery.
type UploadReconciler struct {
	local    *LocalStore
	remote   Store
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
}

// NewUploadReconciler creates a reconciler that checks for missing uploads.
func NewUploadReconciler(local *LocalStore, remote Store, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		local:    local,
		remote:   remote,
		interval: 5 * time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { close(r.stop) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.Reconcile(context.Background())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Reconcile(context.Background())
		case <-r.stop:
			return
		}
	}
}

// ReconcileResult summarizes one reconcile pass.
type ReconcileResult struct {
	Checked  int
	Uploaded int
	Failed   int
}

// Reconcile uploads every local object modified within the window that the
// remote does not have.
func (r *UploadReconciler) Reconcile(ctx context.Context) ReconcileResult {
	var res ReconcileResult
	cutoff := time.Now().Add(-r.window)
	root := r.local.Dir()

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || isTempFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		res.Checked++

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		exists := r.remote.Exists(checkCtx, key)
		cancel()
		if exists {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}

		saveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if saveErr := r.remote.Save(saveCtx, key, data, contentTypeFromExt(filepath.Ext(key))); saveErr != nil {
			r.log.Warn().Err(saveErr).Str("key", key).Msg("reconcile upload failed")
			res.Failed++
		} else {
			res.Uploaded++
		}
		cancel()
		return nil
	})

	if res.Uploaded > 0 || res.Failed > 0 {
		r.log.Info().
			Int("uploaded", res.Uploaded).
			Int("failed", res.Failed).
			Int("checked", res.Checked).
			Msg("reconcile complete")
	}
	return res
}

// contentTypeFromExt returns the MIME type for an archived object extension.
func contentTypeFromExt(ext string) string {
	switch ext {
	case ".json":
		return "application/json"
	case ".mp3":
		return "audio/mpeg"
	case ".txt", ".log":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
