// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package resume

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/reelplay/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = source.Key{SeriesCode: "abc", Lang: "en", Number: 3}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, key, 95*time.Second))
	pos, ok, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 95*time.Second, pos)

	require.NoError(t, s.Save(ctx, key, 0))
	pos, ok, err = s.Load(ctx, key)
	require.NoError(t, err)
	require.True(t, ok, "a finished episode keeps its zero entry")
	assert.Zero(t, pos)

	other := key.Next()
	_, ok, err = s.Load(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, key))
	_, ok, err = s.Load(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.Save(ctx, source.Key{Lang: "en", Number: 1}, time.Second))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSqliteStore(t *testing.T) {
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "resume.sqlite"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSqliteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "resume.sqlite")
	s, err := NewSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), key, 1500*time.Millisecond))
	require.NoError(t, s.Close())

	s, err = NewSqliteStore(path)
	require.NoError(t, err)
	defer s.Close()
	pos, ok, err := s.Load(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, pos)
}

func TestSqliteStore_Prune(t *testing.T) {
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "resume.sqlite"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return base }
	require.NoError(t, s.Save(context.Background(), key, time.Second))
	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	require.NoError(t, s.Save(context.Background(), key.Next(), time.Second))

	n, err := s.Prune(context.Background(), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, ok, err := s.Load(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Load(context.Background(), key.Next())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore("", dir)
	require.NoError(t, err)
	assert.IsType(t, &SqliteStore{}, s)
	require.NoError(t, s.Close())
	_, err = os.Stat(filepath.Join(dir, dbName))
	assert.NoError(t, err)

	s, err = NewStore("sqlite", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore("memory", dir)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore("bolt", dir)
	assert.ErrorContains(t, err, "unknown resume store backend")
}
