package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/easel/internal/storage"
)

// The contract suite runs against every backend that needs no external
// service. The Postgres, S3 and Redis implementations share the same
// contract but require live infrastructure.
func TestCollaboratorContract(t *testing.T) {
	backends := []struct {
		name string
		make func(t *testing.T) storage.Collaborator
	}{
		{"memory", func(t *testing.T) storage.Collaborator {
			return storage.NewMemoryCollaborator()
		}},
		{"filesystem", func(t *testing.T) storage.Collaborator {
			c, err := storage.NewFileCollaborator(t.TempDir())
			require.NoError(t, err)
			return c
		}},
		{"sqlite", func(t *testing.T) storage.Collaborator {
			c, err := storage.NewSQLiteCollaborator(filepath.Join(t.TempDir(), "easel.db"))
			require.NoError(t, err)
			return c
		}},
	}

	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			runCollaboratorContract(t, backend.make(t))
		})
	}
}

func runCollaboratorContract(t *testing.T, c storage.Collaborator) {
	ctx := context.Background()
	id := uuid.New()
	blob := []byte(`{"name":"alpha","items":[],"selectedIds":[]}`)

	assert.False(t, c.Remote(), "local backends must be excluded from polling")

	t.Run("absent scene", func(t *testing.T) {
		_, _, ok, err := c.FetchScene(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = c.FetchSceneToken(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = c.FetchHistory(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("persist and fetch", func(t *testing.T) {
		token, err := c.PersistScene(ctx, id, blob)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		got, gotToken, ok, err := c.FetchScene(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, string(blob), string(got))
		assert.Equal(t, token, gotToken)

		onlyToken, ok, err := c.FetchSceneToken(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, token, onlyToken)
	})

	t.Run("rewrites move the token", func(t *testing.T) {
		before, ok, err := c.FetchSceneToken(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)

		// Time-derived tokens need a measurable gap between writes. The gap
		// must exceed the kernel's coarse-clock tick (up to ~10ms), or two
		// writes can be stamped with an identical multigrain mtime.
		time.Sleep(25 * time.Millisecond)

		next := []byte(`{"name":"alpha mk2","items":[],"selectedIds":[]}`)
		after, err := c.PersistScene(ctx, id, next)
		require.NoError(t, err)
		assert.NotEqual(t, before, after, "a write must produce a distinguishable token")
	})

	t.Run("batch fetch returns present subset", func(t *testing.T) {
		missing := uuid.New()
		records, err := c.FetchScenes(ctx, []uuid.UUID{id, missing})
		require.NoError(t, err)
		require.Contains(t, records, id)
		assert.NotContains(t, records, missing)
		assert.NotEmpty(t, records[id].Blob)
		assert.NotEmpty(t, records[id].Token)
	})

	t.Run("listing carries payload names", func(t *testing.T) {
		refs, err := c.ListScenes(ctx)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, id, refs[0].ID)
		assert.Equal(t, "alpha mk2", refs[0].Name)
		assert.NotEmpty(t, refs[0].Token)
	})

	t.Run("history round trip", func(t *testing.T) {
		historyBlob := []byte(`{"records":[],"currentIndex":-1}`)
		require.NoError(t, c.PersistHistory(ctx, id, historyBlob))

		got, ok, err := c.FetchHistory(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, string(historyBlob), string(got))
	})

	t.Run("delete removes scene and history", func(t *testing.T) {
		require.NoError(t, c.DeleteScene(ctx, id))

		_, _, ok, err := c.FetchScene(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = c.FetchHistory(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		// Deleting an absent scene stays quiet.
		assert.NoError(t, c.DeleteScene(ctx, id))
	})
}
