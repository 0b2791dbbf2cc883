package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "layouts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestSaveAndGetLayout(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d, ok := layout.Builtin("russian")
	require.True(t, ok)
	require.NoError(t, s.SaveLayout(ctx, d, "builtin"))

	got, err := s.GetLayout(ctx, "russian")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.Keys, got.Layout.Keys)
	assert.Equal(t, d.IndicativeWords, got.Layout.IndicativeWords)
	assert.Equal(t, "ru", got.Layout.Language)
	assert.Equal(t, "builtin", got.Source)
	assert.False(t, got.CreatedAt.IsZero())

	// Saving again replaces the key table.
	d.Keys = map[int]string{1: "ф"}
	d.IndicativeWords = nil
	require.NoError(t, s.SaveLayout(ctx, d, "edited"))
	got, err = s.GetLayout(ctx, "russian")
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "ф"}, got.Layout.Keys)
	assert.Empty(t, got.Layout.IndicativeWords)
	assert.Equal(t, "edited", got.Source)
}

func TestGetLayoutNotFound(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetLayout(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveRejectsInvalidLayout(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveLayout(context.Background(), layout.Descriptor{ID: "x"}, "")
	assert.ErrorIs(t, err, layout.ErrMissingField)

	list, err := s.ListLayouts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListDeleteAndLoadAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, d := range layout.Builtins() {
		require.NoError(t, s.SaveLayout(ctx, d, "builtin"))
	}

	list, err := s.ListLayouts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 6)
	assert.Equal(t, "colemak", list[0].Layout.ID)
	assert.Len(t, list[0].Layout.Keys, 26)

	deleted, err := s.DeleteLayout(ctx, "colemak")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteLayout(ctx, "colemak")
	require.NoError(t, err)
	assert.False(t, deleted)

	reg := registry.New()
	ids, err := s.LoadAll(ctx, reg)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
	assert.Equal(t, 5, reg.Len())

	def, ok := reg.Get("workman")
	require.True(t, ok)
	ch, _ := def.CharAt(8)
	assert.Equal(t, "y", ch)
}

func TestRollbackMigration(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, RollbackMigration(s.db))
	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, MigrateDB(s.db))
	v, err = SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
