// Package storage defines the persistence contract the scene session engine
// collaborates with, plus one implementation per supported backend. The
// engine never interprets tokens: it only compares them for equality to
// detect writes it did not make.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Token is an opaque last-modified marker for a persisted scene. Two tokens
// are either equal (no remote change) or not (someone else wrote). Backends
// derive it from whatever modification signal they have: a row timestamp,
// an object's LastModified, a file mtime, a counter.
type Token string

// TokenFromTime builds a token from a time-based modification signal.
func TokenFromTime(t time.Time) Token {
	return Token(t.UTC().Format(time.RFC3339Nano))
}

// SceneRecord is a batch-fetched scene blob with its token.
type SceneRecord struct {
	Blob  []byte
	Token Token
}

// SceneRef is a listing entry: enough to render a scene picker without
// loading payloads.
type SceneRef struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Token Token     `json:"token"`
}

// Collaborator is the storage contract for scene persistence.
//
// Scene blobs are canonical JSON payloads; history blobs are the wire form
// of a serialized stack. The two are stored and fetched independently: a
// history blob must never be written for a scene that has not had at least
// one successful scene write.
type Collaborator interface {
	// Remote reports whether the backend is subject to concurrent writers
	// outside this process. Local backends return false and are excluded
	// from remote-change polling.
	Remote() bool

	// PersistScene overwrites the scene blob and returns the new token.
	PersistScene(ctx context.Context, id uuid.UUID, blob []byte) (Token, error)

	// FetchScene loads the scene blob and its current token. ok is false
	// when the scene does not exist.
	FetchScene(ctx context.Context, id uuid.UUID) ([]byte, Token, bool, error)

	// FetchScenes batch-loads scenes by id. Absent ids are simply missing
	// from the result map.
	FetchScenes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SceneRecord, error)

	// FetchSceneToken reads only the scene's current token. ok is false
	// when the scene does not exist.
	FetchSceneToken(ctx context.Context, id uuid.UUID) (Token, bool, error)

	// DeleteScene removes the scene and any history blob stored for it.
	// Deleting an absent scene is not an error.
	DeleteScene(ctx context.Context, id uuid.UUID) error

	// ListScenes enumerates stored scenes.
	ListScenes(ctx context.Context) ([]SceneRef, error)

	// PersistHistory overwrites the history blob for a scene.
	PersistHistory(ctx context.Context, id uuid.UUID, blob []byte) error

	// FetchHistory loads the history blob. ok is false when none exists.
	FetchHistory(ctx context.Context, id uuid.UUID) ([]byte, bool, error)
}

// payloadName extracts the scene name from a stored payload for listings.
func payloadName(blob []byte) string {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(blob, &payload); err != nil {
		return ""
	}
	return payload.Name
}
