package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	sq, err := NewSQLite("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		fs.Close()
		sq.Close()
	})
	return map[string]Backend{"fs": fs, "sqlite": sq}
}

func TestBackendRoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.ReadObjects("s1")
			require.ErrorIs(t, err, ErrNotFound)
			_, err = b.ReadMeta("s1")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.WriteMeta("s1", []byte(`{"id":"s1"}`)))
			require.NoError(t, b.WriteObjects("s1", []byte(`[{"id":"o1"}]`)))

			meta, err := b.ReadMeta("s1")
			require.NoError(t, err)
			require.JSONEq(t, `{"id":"s1"}`, string(meta))

			objs, err := b.ReadObjects("s1")
			require.NoError(t, err)
			require.JSONEq(t, `[{"id":"o1"}]`, string(objs))

			// Whole-value replace.
			require.NoError(t, b.WriteObjects("s1", []byte(`[]`)))
			objs, err = b.ReadObjects("s1")
			require.NoError(t, err)
			require.JSONEq(t, `[]`, string(objs))
		})
	}
}

func TestBackendList(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ids, err := b.List()
			require.NoError(t, err)
			require.Empty(t, ids)

			require.NoError(t, b.WriteMeta("a", []byte(`{}`)))
			require.NoError(t, b.WriteMeta("b", []byte(`{}`)))

			ids, err = b.List()
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"a", "b"}, ids)
		})
	}
}

func TestBackendArchive(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.WriteMeta("s1", []byte(`{}`)))
			require.NoError(t, b.WriteObjects("s1", []byte(`[{"id":"o1"}]`)))

			require.NoError(t, b.Archive("s1"))

			// Archived sessions leave the live set but the data survives.
			_, err := b.ReadObjects("s1")
			require.ErrorIs(t, err, ErrNotFound)
			ids, err := b.List()
			require.NoError(t, err)
			require.Empty(t, ids)

			require.ErrorIs(t, b.Archive("s1"), ErrNotFound)
			require.ErrorIs(t, b.Archive("never"), ErrNotFound)
		})
	}
}

func TestBackendDeleteIdempotent(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.WriteMeta("s1", []byte(`{}`)))
			require.NoError(t, b.Delete("s1"))
			_, err := b.ReadMeta("s1")
			require.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, b.Delete("s1"))
			require.NoError(t, b.Delete("never"))
		})
	}
}

func TestFSArchivePreservesData(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFS(root)
	require.NoError(t, err)

	require.NoError(t, fs.WriteObjects("s1", []byte(`[{"id":"o1"}]`)))
	require.NoError(t, fs.WriteMeta("s1", []byte(`{"id":"s1"}`)))
	require.NoError(t, fs.Archive("s1"))

	data, err := os.ReadFile(filepath.Join(root, "archive", "s1", "objects.json"))
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"o1"}]`, string(data))
}

func TestFSWriteLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFS(root)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, fs.WriteObjects("s1", []byte(`[]`)))
	}
	entries, err := os.ReadDir(filepath.Join(root, "sessions", "s1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "objects.json", entries[0].Name())
}
