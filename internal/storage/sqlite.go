package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// sqliteTimeFormat is RFC3339 with fixed-width nanoseconds, so the stored
// strings sort lexicographically in write order.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteCollaborator stores scenes in a local SQLite file. Timestamps are
// fixed-width RFC3339 strings written by this process; the updated_at
// column is the token source. A local single-writer backend, so Remote is
// false.
type sqliteCollaborator struct {
	db *sql.DB
}

// NewSQLiteCollaborator opens (creating if needed) a SQLite backend at path.
func NewSQLiteCollaborator(path string) (Collaborator, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	s := &sqliteCollaborator{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteCollaborator) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scenes (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS scene_history (
		scene_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *sqliteCollaborator) Close() error {
	return s.db.Close()
}

func (s *sqliteCollaborator) Remote() bool { return false }

func (s *sqliteCollaborator) PersistScene(ctx context.Context, id uuid.UUID, blob []byte) (Token, error) {
	now := time.Now().UTC().Format(sqliteTimeFormat)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scenes (id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		id.String(), string(blob), now)
	if err != nil {
		return "", fmt.Errorf("failed to persist scene %s: %w", id, err)
	}
	return Token(now), nil
}

func (s *sqliteCollaborator) FetchScene(ctx context.Context, id uuid.UUID) ([]byte, Token, bool, error) {
	var payload, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, updated_at FROM scenes WHERE id = ?`, id.String()).
		Scan(&payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to fetch scene %s: %w", id, err)
	}
	return []byte(payload), Token(updatedAt), true, nil
}

func (s *sqliteCollaborator) FetchScenes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SceneRecord, error) {
	out := make(map[uuid.UUID]SceneRecord, len(ids))
	for _, id := range ids {
		blob, token, ok, err := s.FetchScene(ctx, id)
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

func (s *sqliteCollaborator) FetchSceneToken(ctx context.Context, id uuid.UUID) (Token, bool, error) {
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM scenes WHERE id = ?`, id.String()).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch scene token %s: %w", id, err)
	}
	return Token(updatedAt), true, nil
}

func (s *sqliteCollaborator) DeleteScene(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scene_history WHERE scene_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete history %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scenes WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete scene %s: %w", id, err)
	}
	return nil
}

func (s *sqliteCollaborator) ListScenes(ctx context.Context) ([]SceneRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, updated_at FROM scenes ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	defer rows.Close()

	refs := []SceneRef{}
	for rows.Next() {
		var rawID, payload, updatedAt string
		if err := rows.Scan(&rawID, &payload, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scene listing: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse scene id %q: %w", rawID, err)
		}
		refs = append(refs, SceneRef{ID: id, Name: payloadName([]byte(payload)), Token: Token(updatedAt)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	return refs, nil
}

func (s *sqliteCollaborator) PersistHistory(ctx context.Context, id uuid.UUID, blob []byte) error {
	now := time.Now().UTC().Format(sqliteTimeFormat)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scene_history (scene_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(scene_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		id.String(), string(blob), now)
	if err != nil {
		return fmt.Errorf("failed to persist history %s: %w", id, err)
	}
	return nil
}

func (s *sqliteCollaborator) FetchHistory(ctx context.Context, id uuid.UUID) ([]byte, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM scene_history WHERE scene_id = ?`, id.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch history %s: %w", id, err)
	}
	return []byte(payload), true, nil
}
