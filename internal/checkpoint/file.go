// File: internal/checkpoint/file.go
// Brief: File-backed checkpoint store with atomic replace-on-write.

package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWriteTimeout bounds a single Save when the caller does not set one.
const DefaultWriteTimeout = 10 * time.Second

// FileStore keeps one JSON document per environment under Dir, named
// <Prefix>-<env>.json.
type FileStore struct {
	Dir          string
	Prefix       string
	WriteTimeout time.Duration

	// serializes writers; a timed-out write may still be finishing when the
	// next Save starts.
	mu       sync.Mutex
	inflight sync.WaitGroup
}

// NewFileStore returns a store rooted at dir. prefix names the task, e.g. "CoreOutput".
func NewFileStore(dir, prefix string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	prefix = strings.TrimSpace(prefix)
	if dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if prefix == "" {
		return nil, errors.New("checkpoint prefix is required")
	}
	return &FileStore{Dir: dir, Prefix: prefix, WriteTimeout: DefaultWriteTimeout}, nil
}

// Path returns the checkpoint file for env.
func (s *FileStore) Path(env string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s-%s.json", s.Prefix, strings.TrimSpace(env)))
}

// Load reads the record for env. A missing file is created with an empty
// mapping first; unreadable or malformed content is an error.
func (s *FileStore) Load(ctx context.Context, env string) (Record, error) {
	if strings.TrimSpace(env) == "" {
		return nil, errors.New("environment key is required")
	}
	path := s.Path(env)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.Save(ctx, env, Record{}); err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		return Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rec := Record{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rec, nil
}

// Peek reads the record for env without creating it. ok is false when no
// checkpoint has been written yet.
func (s *FileStore) Peek(env string) (rec Record, ok bool, err error) {
	path := s.Path(env)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	rec = Record{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, false, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return rec, true, nil
}

// Save writes rec as the full content of the env document. The write goes to a
// temp file that is synced, closed and renamed over the target, so readers see
// either the old or the new document. It fails with ErrTimeout if the write
// does not complete within WriteTimeout.
func (s *FileStore) Save(ctx context.Context, env string, rec Record) error {
	if strings.TrimSpace(env) == "" {
		return errors.New("environment key is required")
	}
	if rec == nil {
		rec = Record{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	data = append(data, '\n')

	timeout := s.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	path := s.Path(env)
	// An abandoned write is dropped before its rename, so it can never replace
	// a record saved after it.
	var abandoned atomic.Bool
	done := make(chan error, 1)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		done <- writeFileAtomic(path, data, func() bool { return !abandoned.Load() })
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		abandoned.Store(true)
		return fmt.Errorf("write %s: exceeded %s: %w", path, timeout, ErrTimeout)
	case <-ctx.Done():
		abandoned.Store(true)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("write %s: %w: %w", path, ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	}
}

var errWriteAbandoned = errors.New("checkpoint write abandoned")

// writeFileAtomic replaces path with data through a synced temp file. commit
// is checked just before the rename; false discards the temp file.
func writeFileAtomic(path string, data []byte, commit func() bool) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if commit != nil && !commit() {
		return errWriteAbandoned
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	// Directory fsync is unsupported on some platforms; the rename already happened.
	_ = d.Sync()
	return nil
}
