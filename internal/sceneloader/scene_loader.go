// Package sceneloader batches individual scene reads into one storage call
// per window, so a request that resolves many scenes does not issue one
// fetch per scene.
package sceneloader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/easel/internal/storage"
)

type SceneLoader struct {
	Loader *dataloader.Loader
}

func NewSceneLoader(collab storage.Collaborator) *SceneLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		// Convert keys to []uuid.UUID
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return []*dataloader.Result{{Error: fmt.Errorf("invalid UUID: %w", err)}}
			}
			ids[i] = id
		}

		// Fetch scenes in batch
		records, err := collab.FetchScenes(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Build results in the same order as keys
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if rec, ok := records[id]; ok {
				results[i] = &dataloader.Result{Data: rec}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}

		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &SceneLoader{Loader: loader}
}

// Load fetches one scene through the batch. ok is false when the scene does
// not exist in storage.
func (l *SceneLoader) Load(ctx context.Context, id uuid.UUID) (storage.SceneRecord, bool, error) {
	thunk := l.Loader.Load(ctx, dataloader.StringKey(id.String()))
	data, err := thunk()
	if err != nil {
		return storage.SceneRecord{}, false, err
	}
	if rec, ok := data.(storage.SceneRecord); ok {
		return rec, true, nil
	}
	return storage.SceneRecord{}, false, nil
}
