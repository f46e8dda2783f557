package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisCollaborator stores blobs in Redis. The token lives in its own key,
// written in the same transaction as the payload, so a reader never sees a
// new payload with an old token.
type redisCollaborator struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds configuration for the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisCollaborator creates a Redis backend and verifies connectivity.
func NewRedisCollaborator(ctx context.Context, cfg RedisConfig) (Collaborator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "easel:"
	}
	return &redisCollaborator{client: client, prefix: prefix}, nil
}

func (r *redisCollaborator) Remote() bool { return true }

// Close releases the underlying client.
func (r *redisCollaborator) Close() error { return r.client.Close() }

func (r *redisCollaborator) sceneKey(id uuid.UUID) string {
	return r.prefix + "scene:" + id.String()
}

func (r *redisCollaborator) tokenKey(id uuid.UUID) string {
	return r.prefix + "token:" + id.String()
}

func (r *redisCollaborator) historyKey(id uuid.UUID) string {
	return r.prefix + "history:" + id.String()
}

func (r *redisCollaborator) PersistScene(ctx context.Context, id uuid.UUID, blob []byte) (Token, error) {
	token := TokenFromTime(time.Now())
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sceneKey(id), blob, 0)
		pipe.Set(ctx, r.tokenKey(id), string(token), 0)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist scene %s: %w", id, err)
	}
	return token, nil
}

func (r *redisCollaborator) FetchScene(ctx context.Context, id uuid.UUID) ([]byte, Token, bool, error) {
	blob, err := r.client.Get(ctx, r.sceneKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to fetch scene %s: %w", id, err)
	}

	token, err := r.client.Get(ctx, r.tokenKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, "", false, fmt.Errorf("failed to fetch scene token %s: %w", id, err)
	}
	return blob, Token(token), true, nil
}

func (r *redisCollaborator) FetchScenes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SceneRecord, error) {
	out := make(map[uuid.UUID]SceneRecord, len(ids))
	for _, id := range ids {
		blob, token, ok, err := r.FetchScene(ctx, id)
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

func (r *redisCollaborator) FetchSceneToken(ctx context.Context, id uuid.UUID) (Token, bool, error) {
	token, err := r.client.Get(ctx, r.tokenKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch scene token %s: %w", id, err)
	}
	return Token(token), true, nil
}

func (r *redisCollaborator) DeleteScene(ctx context.Context, id uuid.UUID) error {
	err := r.client.Del(ctx, r.sceneKey(id), r.tokenKey(id), r.historyKey(id)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete scene %s: %w", id, err)
	}
	return nil
}

func (r *redisCollaborator) ListScenes(ctx context.Context) ([]SceneRef, error) {
	refs := []SceneRef{}
	iter := r.client.Scan(ctx, 0, r.prefix+"scene:*", 0).Iterator()
	for iter.Next(ctx) {
		rawID := strings.TrimPrefix(iter.Val(), r.prefix+"scene:")
		id, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}
		blob, token, ok, err := r.FetchScene(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		refs = append(refs, SceneRef{ID: id, Name: payloadName(blob), Token: token})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	return refs, nil
}

func (r *redisCollaborator) PersistHistory(ctx context.Context, id uuid.UUID, blob []byte) error {
	if err := r.client.Set(ctx, r.historyKey(id), blob, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist history %s: %w", id, err)
	}
	return nil
}

func (r *redisCollaborator) FetchHistory(ctx context.Context, id uuid.UUID) ([]byte, bool, error) {
	blob, err := r.client.Get(ctx, r.historyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch history %s: %w", id, err)
	}
	return blob, true, nil
}
