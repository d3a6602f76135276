package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoSnapshot is returned by Backend.Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Backend persists encoded layout snapshots.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, snapshot []byte) error
}

// MemoryBackend keeps the latest snapshot in memory.
type MemoryBackend struct {
	mu   sync.Mutex
	data []byte
	// FailSave makes the next Save calls fail. Used to exercise rollback.
	FailSave error
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (b *MemoryBackend) Load(context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), b.data...), nil
}

func (b *MemoryBackend) Save(_ context.Context, snapshot []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailSave != nil {
		return b.FailSave
	}
	b.data = append([]byte(nil), snapshot...)
	return nil
}

// FileBackend stores the snapshot in a single file, replaced atomically on each save.
type FileBackend struct {
	Path string
}

func NewFileBackend(path string) *FileBackend { return &FileBackend{Path: path} }

func (b *FileBackend) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", b.Path, err)
	}
	return data, nil
}

func (b *FileBackend) Save(_ context.Context, snapshot []byte) error {
	dir := filepath.Dir(b.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(b.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(snapshot); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, b.Path); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", b.Path, err)
	}
	return nil
}
