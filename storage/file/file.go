// Package file implements storage.Store on a single JSON document on local
// disk. The whole document is read, modified and rewritten on every
// mutation under a per-instance mutex, so a file store is safe for
// concurrent use within one process but must not be shared between
// processes or hosts.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/extendhq/extend-mcp-server-go/storage"
)

// Store keeps records of type R in a JSON object keyed by StoreKey.
type Store[R storage.Record] struct {
	path string
	opts storage.Options

	mu sync.Mutex
}

// New returns a store backed by the document at path. The parent directory
// is created if needed; the document itself is created on first write.
func New[R storage.Record](path string, opts ...storage.Option) (*Store[R], error) {
	if path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, &storage.Error{Op: "open", Err: err}
		}
	}
	return &Store[R]{path: path, opts: storage.ApplyOptions(opts...)}, nil
}

// Path returns the location of the backing document.
func (s *Store[R]) Path() string { return s.path }

// Store inserts or replaces rec.
func (s *Store[R]) Store(ctx context.Context, rec R) error {
	key := rec.StoreKey()
	raw, err := json.Marshal(rec)
	if err != nil {
		return &storage.Error{Op: "store", Key: key, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return &storage.Error{Op: "store", Key: key, Err: err}
	}
	doc[key] = raw
	if err := s.save(doc); err != nil {
		return &storage.Error{Op: "store", Key: key, Err: err}
	}
	return nil
}

// Get returns the record under key. An expired record is removed from the
// document and reported absent.
func (s *Store[R]) Get(ctx context.Context, key string) (R, bool, error) {
	return storage.GetFromLookup(s.Lookup(ctx, key))
}

func (s *Store[R]) Lookup(ctx context.Context, key string) (R, storage.Status, error) {
	var zero R

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return zero, storage.Absent, &storage.Error{Op: "get", Key: key, Err: err}
	}
	raw, ok := doc[key]
	if !ok {
		return zero, storage.Absent, nil
	}
	rec, err := decode[R](raw)
	if err != nil {
		return zero, storage.Absent, &storage.Error{Op: "get", Key: key, Err: err}
	}
	if storage.IsExpired(rec, s.opts.Clock()) {
		delete(doc, key)
		if err := s.save(doc); err != nil {
			return zero, storage.Absent, &storage.Error{Op: "get", Key: key, Err: err}
		}
		return rec, storage.Expired, nil
	}
	return rec, storage.Present, nil
}

// Delete removes key and reports whether it was present.
func (s *Store[R]) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, &storage.Error{Op: "delete", Key: key, Err: err}
	}
	if _, ok := doc[key]; !ok {
		return false, nil
	}
	delete(doc, key)
	if err := s.save(doc); err != nil {
		return false, &storage.Error{Op: "delete", Key: key, Err: err}
	}
	return true, nil
}

// CleanupExpired removes expired and undecodable rows in one rewrite.
func (s *Store[R]) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return 0, &storage.Error{Op: "cleanup", Err: err}
	}

	now := s.opts.Clock()
	removed := 0
	for key, raw := range doc {
		rec, err := decode[R](raw)
		if err != nil {
			s.opts.Logger.Warn("storage.file.cleanup.undecodable",
				slog.String("path", s.path),
				slog.String("key", storage.Redact(key)),
				slog.String("err", err.Error()),
			)
			delete(doc, key)
			removed++
			continue
		}
		if storage.IsExpired(rec, now) {
			delete(doc, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.save(doc); err != nil {
		return 0, &storage.Error{Op: "cleanup", Err: err}
	}
	return removed, nil
}

// Close is a no-op; the document is not held open between operations.
func (s *Store[R]) Close() error { return nil }

// load reads the document. A missing, empty or malformed document is
// treated as empty; a malformed one is logged.
func (s *Store[R]) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.opts.Logger.Warn("storage.file.load.malformed",
			slog.String("path", s.path),
			slog.String("err", err.Error()),
		)
		return map[string]json.RawMessage{}, nil
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	return doc, nil
}

// save writes doc to a sibling temp file and renames it over the document
// so readers never observe a partial write.
func (s *Store[R]) save(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func decode[R storage.Record](raw json.RawMessage) (R, error) {
	rec := storage.NewRecord[R]()
	if err := json.Unmarshal(raw, rec); err != nil {
		var zero R
		return zero, err
	}
	return rec, nil
}
