package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/easel/internal/sceneloader"
	"github.com/rpattn/easel/internal/storage"
)

type ctxKey string

const sceneLoaderKey ctxKey = "sceneLoader"

// DataLoaderMiddleware attaches a per-request scene loader to the request
// context, so handlers resolving many scenes share one batched fetch.
func DataLoaderMiddleware(collab storage.Collaborator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := sceneloader.NewSceneLoader(collab)

			ctx := context.WithValue(r.Context(), sceneLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SceneLoaderFromContext retrieves the scene loader from context.
func SceneLoaderFromContext(ctx context.Context) *sceneloader.SceneLoader {
	if l, ok := ctx.Value(sceneLoaderKey).(*sceneloader.SceneLoader); ok {
		return l
	}
	return nil
}
