// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package resume remembers where a viewer left each episode.
package resume

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/reelplay/internal/source"
)

// Store persists playback positions per episode.
type Store interface {
	Load(ctx context.Context, key source.Key) (time.Duration, bool, error)
	Save(ctx context.Context, key source.Key, pos time.Duration) error
	Delete(ctx context.Context, key source.Key) error
	Close() error
}

// Pruner is implemented by stores that can expire stale positions.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

const dbName = "resume.sqlite"

// NewStore creates a store for backend. An empty backend means sqlite; a
// sqlite backend without a data directory falls back to memory.
func NewStore(backend, dir string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "sqlite":
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewSqliteStore(filepath.Join(dir, dbName))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown resume store backend: %s (supported: sqlite, memory)", backend)
	}
}

// MemoryStore keeps positions for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[source.Key]time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[source.Key]time.Duration)}
}

func (m *MemoryStore) Load(_ context.Context, key source.Key) (time.Duration, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.data[key]
	return pos, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, key source.Key, pos time.Duration) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if pos < 0 {
		pos = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = pos
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key source.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
