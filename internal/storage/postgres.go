package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresCollaborator stores scenes and history blobs as JSONB rows. The
// scenes.updated_at column, refreshed on every write, is the token source.
// The scene_history table references scenes with ON DELETE CASCADE, so the
// invariant that history never outlives its scene holds at the database
// level too.
type postgresCollaborator struct {
	pool *pgxpool.Pool
}

// NewPostgresCollaborator creates a PostgreSQL backend over the given pool.
func NewPostgresCollaborator(pool *pgxpool.Pool) Collaborator {
	return &postgresCollaborator{pool: pool}
}

func (p *postgresCollaborator) Remote() bool { return true }

func (p *postgresCollaborator) PersistScene(ctx context.Context, id uuid.UUID, blob []byte) (Token, error) {
	var updatedAt time.Time
	err := p.pool.QueryRow(ctx, `
		INSERT INTO scenes (id, payload, updated_at)
		VALUES ($1::uuid, $2::jsonb, clock_timestamp())
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = clock_timestamp()
		RETURNING updated_at`,
		id.String(), blob).Scan(&updatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to persist scene %s: %w", id, err)
	}
	return TokenFromTime(updatedAt), nil
}

func (p *postgresCollaborator) FetchScene(ctx context.Context, id uuid.UUID) ([]byte, Token, bool, error) {
	var (
		blob      []byte
		updatedAt time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT payload, updated_at FROM scenes WHERE id = $1::uuid`,
		id.String()).Scan(&blob, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to fetch scene %s: %w", id, err)
	}
	return blob, TokenFromTime(updatedAt), true, nil
}

func (p *postgresCollaborator) FetchScenes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SceneRecord, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]SceneRecord{}, nil
	}

	textIDs := make([]string, len(ids))
	for i, id := range ids {
		textIDs[i] = id.String()
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id::text, payload, updated_at FROM scenes WHERE id = ANY($1::uuid[])`,
		textIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch scenes: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]SceneRecord, len(ids))
	for rows.Next() {
		var (
			rawID     string
			blob      []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&rawID, &blob, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scene row: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse scene id %q: %w", rawID, err)
		}
		out[id] = SceneRecord{Blob: blob, Token: TokenFromTime(updatedAt)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch scenes: %w", err)
	}
	return out, nil
}

func (p *postgresCollaborator) FetchSceneToken(ctx context.Context, id uuid.UUID) (Token, bool, error) {
	var updatedAt time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT updated_at FROM scenes WHERE id = $1::uuid`,
		id.String()).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch scene token %s: %w", id, err)
	}
	return TokenFromTime(updatedAt), true, nil
}

func (p *postgresCollaborator) DeleteScene(ctx context.Context, id uuid.UUID) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM scenes WHERE id = $1::uuid`, id.String()); err != nil {
		return fmt.Errorf("failed to delete scene %s: %w", id, err)
	}
	return nil
}

func (p *postgresCollaborator) ListScenes(ctx context.Context) ([]SceneRef, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, COALESCE(payload->>'name', ''), updated_at FROM scenes ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	defer rows.Close()

	refs := []SceneRef{}
	for rows.Next() {
		var (
			rawID     string
			name      string
			updatedAt time.Time
		)
		if err := rows.Scan(&rawID, &name, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scene listing: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse scene id %q: %w", rawID, err)
		}
		refs = append(refs, SceneRef{ID: id, Name: name, Token: TokenFromTime(updatedAt)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	return refs, nil
}

func (p *postgresCollaborator) PersistHistory(ctx context.Context, id uuid.UUID, blob []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO scene_history (scene_id, payload, updated_at)
		VALUES ($1::uuid, $2::jsonb, clock_timestamp())
		ON CONFLICT (scene_id) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = clock_timestamp()`,
		id.String(), blob)
	if err != nil {
		return fmt.Errorf("failed to persist history %s: %w", id, err)
	}
	return nil
}

func (p *postgresCollaborator) FetchHistory(ctx context.Context, id uuid.UUID) ([]byte, bool, error) {
	var blob []byte
	err := p.pool.QueryRow(ctx,
		`SELECT payload FROM scene_history WHERE scene_id = $1::uuid`,
		id.String()).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch history %s: %w", id, err)
	}
	return blob, true, nil
}
