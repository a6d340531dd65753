// Package archive persists orchestration results as immutable JSON records.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/meeting-copilot/internal/classify"
	"github.com/snarg/meeting-copilot/internal/storage"
)

var (
	// ErrCorruptRecord is returned by List and Get when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt analysis record")
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("analysis record not found")
	// ErrInvalidRecord is returned by Save for a record missing required fields.
	ErrInvalidRecord = errors.New("invalid analysis record")
)

const (
	keyPrefix = "analysis_"
	keySuffix = ".json"
)

// Record is one archived analysis. ID is derived from the storage key and is
// not part of the stored body.
type Record struct {
	ID               string        `json:"id,omitempty"`
	Timestamp        string        `json:"timestamp"`
	Transcript       string        `json:"transcript"`
	Context          *string       `json:"context"`
	Analysis         string        `json:"analysis"`
	ConversationType classify.Type `json:"conversationType"`
}

// Archive stores records through a storage backend.
type Archive struct {
	store storage.Store
	seq   atomic.Uint64
	log   zerolog.Logger

	// Now is the clock used for record timestamps.
	Now func() time.Time
}

// New creates an archive on top of store.
func New(store storage.Store, log zerolog.Logger) *Archive {
	return &Archive{
		store: store,
		log:   log.With().Str("component", "archive").Logger(),
		Now:   time.Now,
	}
}

// Save writes rec as a new record and returns its id. An empty Timestamp is
// set to the current time.
func (a *Archive) Save(ctx context.Context, rec Record) (string, error) {
	if strings.TrimSpace(rec.Transcript) == "" || strings.TrimSpace(rec.Analysis) == "" {
		return "", fmt.Errorf("%w: transcript and analysis are required", ErrInvalidRecord)
	}
	if rec.ConversationType != classify.Technical && rec.ConversationType != classify.Casual {
		return "", fmt.Errorf("%w: conversation type %q", ErrInvalidRecord, rec.ConversationType)
	}

	now := a.Now().UTC()
	if rec.Timestamp == "" {
		rec.Timestamp = now.Format(time.RFC3339Nano)
	}
	id := fmt.Sprintf("%s%s_%06d_%s",
		keyPrefix,
		now.Format("20060102T150405.000000000Z"),
		a.seq.Add(1),
		uuid.NewString()[:8],
	)

	rec.ID = ""
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	if err := a.store.Save(ctx, id+keySuffix, body, "application/json"); err != nil {
		return "", fmt.Errorf("save record %s: %w", id, err)
	}

	a.log.Info().
		Str("id", id).
		Str("type", string(rec.ConversationType)).
		Bool("has_context", rec.Context != nil).
		Msg("analysis archived")
	return id, nil
}

// List returns every record, newest first. Records with equal timestamps are
// ordered by id, descending.
func (a *Archive) List(ctx context.Context) ([]Record, error) {
	keys, err := a.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, keySuffix) || strings.Contains(key, "/") {
			continue
		}
		rec, err := a.load(ctx, key)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool {
		ti, tj := parseTime(records[i].Timestamp), parseTime(records[j].Timestamp)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return records[i].ID > records[j].ID
	})
	return records, nil
}

// Get returns the record with the given id.
func (a *Archive) Get(ctx context.Context, id string) (*Record, error) {
	if !strings.HasPrefix(id, keyPrefix) || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a.load(ctx, id+keySuffix)
}

func (a *Archive) load(ctx context.Context, key string) (*Record, error) {
	id := strings.TrimSuffix(key, keySuffix)

	r, err := a.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("open record %s: %w", id, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	if rec.Timestamp == "" || rec.Analysis == "" {
		return nil, fmt.Errorf("%w: %s: missing timestamp or analysis", ErrCorruptRecord, key)
	}
	rec.ID = id
	return &rec, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
