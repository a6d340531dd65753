package transcript

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the append-only transcript log. Writers only append whole entries
// or truncate the whole file, so readers can consume it incrementally by byte
// offset without locking.
type Store struct {
	path string
	mu   sync.Mutex // serializes in-process writers
}

// Delta is the result of an incremental read.
type Delta struct {
	Data      []byte
	Size      int64 // size snapshot the read was bounded by
	Truncated bool  // the log shrank below the caller's offset; Data starts at 0
}

// NewStore returns a store backed by the file at path. The parent directory
// is created if needed; the file itself is created on first append.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	return &Store{path: path}, nil
}

// Path returns the log file path.
func (s *Store) Path() string { return s.path }

// Append serializes u and appends it with a single write on an O_APPEND
// descriptor.
func (s *Store) Append(u Utterance) error {
	u.Text = collapseBlankLines(u.Text)
	if err := u.Validate(); err != nil {
		return err
	}
	entry := []byte(FormatEntry(u))

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	if _, err := f.Write(entry); err != nil {
		f.Close()
		return fmt.Errorf("append transcript: %w", err)
	}
	return f.Close()
}

// Size returns the current size of the log. A missing log has size 0.
func (s *Store) Size() (int64, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadSince returns the bytes appended after offset, bounded by a size
// snapshot taken before reading. If the log is smaller than offset it was
// truncated externally: the whole current content is returned with
// Truncated set, and the caller must restart from 0.
func (s *Store) ReadSince(offset int64) (Delta, error) {
	size, err := s.Size()
	if err != nil {
		return Delta{}, fmt.Errorf("stat transcript: %w", err)
	}

	d := Delta{Size: size}
	start := offset
	if size < offset {
		d.Truncated = true
		start = 0
	}
	if size == start {
		return d, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return Delta{}, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	buf := make([]byte, size-start)
	n, err := f.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return Delta{}, fmt.Errorf("read transcript: %w", err)
	}
	// A concurrent reset can shrink the file between stat and read.
	d.Data = buf[:n]
	d.Size = start + int64(n)
	return d, nil
}

// Reset truncates the log to empty, creating it if missing.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("reset transcript: %w", err)
	}
	return f.Close()
}

// collapseBlankLines keeps text from containing the entry separator.
func collapseBlankLines(text string) string {
	lines := nonEmptyLines(strings.TrimSpace(text))
	return strings.Join(lines, "\n")
}
