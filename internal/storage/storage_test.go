package storage

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func readAll(t *testing.T, s Store, key string) string {
	t.Helper()
	r, err := s.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Open(%q): %v", key, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(b)
}

// ── LocalStore ───────────────────────────────────────────────────────

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	t.Run("save_open_exists", func(t *testing.T) {
		if err := s.Save(ctx, "analysis_1.json", []byte(`{"a":1}`), "application/json"); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if !s.Exists(ctx, "analysis_1.json") {
			t.Error("Exists = false after Save")
		}
		if got := readAll(t, s, "analysis_1.json"); got != `{"a":1}` {
			t.Errorf("content = %q", got)
		}
	})

	t.Run("missing_key_is_not_exist", func(t *testing.T) {
		_, err := s.Open(ctx, "nope.json")
		if !errors.Is(err, ErrNotExist) {
			t.Errorf("err = %v, want ErrNotExist", err)
		}
	})

	t.Run("list_filters_prefix", func(t *testing.T) {
		s.Save(ctx, "analysis_2.json", []byte("{}"), "")
		s.Save(ctx, "other/notes.txt", []byte("x"), "")
		keys, err := s.List(ctx, "analysis_")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		sort.Strings(keys)
		if len(keys) != 2 || keys[0] != "analysis_1.json" || keys[1] != "analysis_2.json" {
			t.Errorf("keys = %v", keys)
		}
	})

	t.Run("list_missing_dir_is_empty", func(t *testing.T) {
		keys, err := NewLocalStore(t.TempDir()+"/absent").List(ctx, "")
		if err != nil || len(keys) != 0 {
			t.Errorf("List = %v, %v; want empty, nil", keys, err)
		}
	})
}

// ── TieredStore ──────────────────────────────────────────────────────

func TestTieredStore(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	t.Run("inline_save_writes_both", func(t *testing.T) {
		local, remote := NewLocalStore(t.TempDir()), NewLocalStore(t.TempDir())
		ts := NewTieredStore(remote, local, nil, log)
		if err := ts.Save(ctx, "k.json", []byte("v"), ""); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if !local.Exists(ctx, "k.json") || !remote.Exists(ctx, "k.json") {
			t.Error("object missing from a tier")
		}
	})

	t.Run("remote_fallback_caches_locally", func(t *testing.T) {
		local, remote := NewLocalStore(t.TempDir()), NewLocalStore(t.TempDir())
		remote.Save(ctx, "old.json", []byte("from remote"), "")
		ts := NewTieredStore(remote, local, nil, log)

		if got := readAll(t, ts, "old.json"); got != "from remote" {
			t.Errorf("content = %q", got)
		}
		if !local.Exists(ctx, "old.json") {
			t.Error("remote hit was not cached locally")
		}
	})

	t.Run("list_merges_tiers", func(t *testing.T) {
		local, remote := NewLocalStore(t.TempDir()), NewLocalStore(t.TempDir())
		local.Save(ctx, "a.json", nil, "")
		local.Save(ctx, "b.json", nil, "")
		remote.Save(ctx, "b.json", nil, "")
		remote.Save(ctx, "c.json", nil, "")
		keys, err := NewTieredStore(remote, local, nil, log).List(ctx, "")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		sort.Strings(keys)
		if len(keys) != 3 {
			t.Errorf("keys = %v, want [a b c]", keys)
		}
	})

	t.Run("async_upload", func(t *testing.T) {
		local, remote := NewLocalStore(t.TempDir()), NewLocalStore(t.TempDir())
		up := NewAsyncUploader(remote, 4, 1, log)
		up.Start()
		ts := NewTieredStore(remote, local, up, log)
		if err := ts.Save(ctx, "k.json", []byte("v"), ""); err != nil {
			t.Fatalf("Save: %v", err)
		}
		up.Stop()
		if !remote.Exists(ctx, "k.json") {
			t.Error("upload not drained on Stop")
		}
		if st := up.Stats(); st.Uploaded != 1 {
			t.Errorf("Uploaded = %d, want 1", st.Uploaded)
		}
		if up.Enqueue("late.json", nil, "") {
			t.Error("Enqueue after Stop accepted a job")
		}
	})
}

// ── UploadReconciler ─────────────────────────────────────────────────

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	local, remote := NewLocalStore(t.TempDir()), NewLocalStore(t.TempDir())
	local.Save(ctx, "a.json", []byte("1"), "")
	local.Save(ctx, "b.json", []byte("2"), "")
	remote.Save(ctx, "a.json", []byte("1"), "")

	r := NewUploadReconciler(local, remote, zerolog.Nop())
	r.window = time.Hour
	res := r.Reconcile(ctx)
	if res.Checked != 2 || res.Uploaded != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want checked 2 uploaded 1", res)
	}
	if !remote.Exists(ctx, "b.json") {
		t.Error("missing object was not uploaded")
	}
}
