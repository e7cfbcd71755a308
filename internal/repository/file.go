package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/Shivanand-hulikatti/teamsignups/internal/fileutil"
	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
)

// FileStore keeps the snapshot in a single JSON document on disk.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileStore opens the document at path, creating an empty one if it does
// not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is required")
	}
	s := &FileStore{path: path}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.writeLocked(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, unavailable("stat snapshot", err)
	}
	return s, nil
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) ReadAll(ctx context.Context) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked()
}

func (s *FileStore) WriteAll(ctx context.Context, events []model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(events)
}

func (s *FileStore) Update(ctx context.Context, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readLocked()
	if err != nil {
		return err
	}
	next, err := fn(events)
	if err != nil {
		return err
	}
	return s.writeLocked(next)
}

func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := os.Stat(s.path); err != nil {
		return unavailable("stat snapshot", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) readLocked() ([]model.Event, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Event{}, nil
		}
		return nil, unavailable("read snapshot", err)
	}
	return decodeSnapshot(b)
}

func (s *FileStore) writeLocked(events []model.Event) error {
	b, err := encodeSnapshot(events)
	if err != nil {
		return err
	}
	if err := fileutil.WriteAtomic(s.path, b, 0o644); err != nil {
		return unavailable("write snapshot", err)
	}
	return nil
}
