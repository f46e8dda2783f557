package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// fileCollaborator stores each scene and history blob as a JSON file under
// a root directory. Writes go to a temp file in the same directory and are
// promoted with an atomic rename, so a crash never leaves a torn blob. The
// scene file's mtime is the token source.
type fileCollaborator struct {
	root string
}

// NewFileCollaborator creates a filesystem backend rooted at dir.
func NewFileCollaborator(dir string) (Collaborator, error) {
	for _, sub := range []string{"scenes", "history"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &fileCollaborator{root: dir}, nil
}

func (f *fileCollaborator) Remote() bool { return false }

func (f *fileCollaborator) scenePath(id uuid.UUID) string {
	return filepath.Join(f.root, "scenes", id.String()+".json")
}

func (f *fileCollaborator) historyPath(id uuid.UUID) string {
	return filepath.Join(f.root, "history", id.String()+".json")
}

func (f *fileCollaborator) PersistScene(ctx context.Context, id uuid.UUID, blob []byte) (Token, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("failed to persist scene: %w", err)
	}

	path := f.scenePath(id)
	if err := writeAtomic(path, blob); err != nil {
		return "", fmt.Errorf("failed to persist scene %s: %w", id, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat persisted scene %s: %w", id, err)
	}
	return TokenFromTime(info.ModTime()), nil
}

func (f *fileCollaborator) FetchScene(ctx context.Context, id uuid.UUID) ([]byte, Token, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", false, fmt.Errorf("failed to fetch scene: %w", err)
	}

	path := f.scenePath(id)
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to fetch scene %s: %w", id, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to stat scene %s: %w", id, err)
	}
	return blob, TokenFromTime(info.ModTime()), true, nil
}

func (f *fileCollaborator) FetchScenes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SceneRecord, error) {
	out := make(map[uuid.UUID]SceneRecord, len(ids))
	for _, id := range ids {
		blob, token, ok, err := f.FetchScene(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out[id] = SceneRecord{Blob: blob, Token: token}
	}
	return out, nil
}

func (f *fileCollaborator) FetchSceneToken(ctx context.Context, id uuid.UUID) (Token, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("failed to fetch scene token: %w", err)
	}

	info, err := os.Stat(f.scenePath(id))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch scene token %s: %w", id, err)
	}
	return TokenFromTime(info.ModTime()), true, nil
}

func (f *fileCollaborator) DeleteScene(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to delete scene: %w", err)
	}

	for _, path := range []string{f.scenePath(id), f.historyPath(id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete scene %s: %w", id, err)
		}
	}
	return nil
}

func (f *fileCollaborator) ListScenes(ctx context.Context) ([]SceneRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}

	entries, err := os.ReadDir(filepath.Join(f.root, "scenes"))
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}

	refs := make([]SceneRef, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		blob, token, ok, err := f.FetchScene(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		refs = append(refs, SceneRef{ID: id, Name: payloadName(blob), Token: token})
	}
	return refs, nil
}

func (f *fileCollaborator) PersistHistory(ctx context.Context, id uuid.UUID, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to persist history: %w", err)
	}

	if err := writeAtomic(f.historyPath(id), blob); err != nil {
		return fmt.Errorf("failed to persist history %s: %w", id, err)
	}
	return nil
}

func (f *fileCollaborator) FetchHistory(ctx context.Context, id uuid.UUID) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to fetch history: %w", err)
	}

	blob, err := os.ReadFile(f.historyPath(id))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch history %s: %w", id, err)
	}
	return blob, true, nil
}

// writeAtomic writes to a sibling temp file and renames it over the target.
func writeAtomic(path string, blob []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
