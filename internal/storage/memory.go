package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// memoryCollaborator keeps scenes and history blobs in process memory.
// Used for development and tests; tokens are a monotonic counter so every
// write is distinguishable even within one clock tick.
type memoryCollaborator struct {
	mu      sync.Mutex
	scenes  map[uuid.UUID][]byte
	tokens  map[uuid.UUID]Token
	history map[uuid.UUID][]byte
	seq     uint64
}

// NewMemoryCollaborator creates an empty in-memory backend.
func NewMemoryCollaborator() Collaborator {
	return &memoryCollaborator{
		scenes:  make(map[uuid.UUID][]byte),
		tokens:  make(map[uuid.UUID]Token),
		history: make(map[uuid.UUID][]byte),
	}
}

func (m *memoryCollaborator) Remote() bool { return false }

func (m *memoryCollaborator) PersistScene(ctx context.Context, id uuid.UUID, blob []byte) (Token, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("failed to persist scene: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	token := Token(fmt.Sprintf("mem-%d", m.seq))
	m.scenes[id] = append([]byte{}, blob...)
	m.tokens[id] = token
	return token, nil
}

func (m *memoryCollaborator) FetchScene(ctx context.Context, id uuid.UUID) ([]byte, Token, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", false, fmt.Errorf("failed to fetch scene: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok := m.scenes[id]
	if !ok {
		return nil, "", false, nil
	}
	return append([]byte{}, blob...), m.tokens[id], true, nil
}

func (m *memoryCollaborator) FetchScenes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SceneRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch scenes: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[uuid.UUID]SceneRecord, len(ids))
	for _, id := range ids {
		blob, ok := m.scenes[id]
		if !ok {
			continue
		}
		out[id] = SceneRecord{Blob: append([]byte{}, blob...), Token: m.tokens[id]}
	}
	return out, nil
}

func (m *memoryCollaborator) FetchSceneToken(ctx context.Context, id uuid.UUID) (Token, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("failed to fetch scene token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[id]
	return token, ok, nil
}

func (m *memoryCollaborator) DeleteScene(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to delete scene: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.scenes, id)
	delete(m.tokens, id)
	delete(m.history, id)
	return nil
}

func (m *memoryCollaborator) ListScenes(ctx context.Context) ([]SceneRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	refs := make([]SceneRef, 0, len(m.scenes))
	for id, blob := range m.scenes {
		refs = append(refs, SceneRef{ID: id, Name: payloadName(blob), Token: m.tokens[id]})
	}
	return refs, nil
}

func (m *memoryCollaborator) PersistHistory(ctx context.Context, id uuid.UUID, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to persist history: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[id] = append([]byte{}, blob...)
	return nil
}

func (m *memoryCollaborator) FetchHistory(ctx context.Context, id uuid.UUID) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to fetch history: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok := m.history[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, blob...), true, nil
}
