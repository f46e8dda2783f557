package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// s3Collaborator stores scene and history blobs as S3 objects. The scene
// object's LastModified is the token source, which is exactly the signal a
// concurrent writer moves.
type s3Collaborator struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// NewS3Collaborator creates an S3 backend.
func NewS3Collaborator(ctx context.Context, cfg S3Config) (Collaborator, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &s3Collaborator{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *s3Collaborator) Remote() bool { return true }

func (s *s3Collaborator) sceneKey(id uuid.UUID) string {
	return s.prefix + "scenes/" + id.String() + ".json"
}

func (s *s3Collaborator) historyKey(id uuid.UUID) string {
	return s.prefix + "history/" + id.String() + ".json"
}

func (s *s3Collaborator) PersistScene(ctx context.Context, id uuid.UUID, blob []byte) (Token, error) {
	key := s.sceneKey(id)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist scene %s: %w", id, err)
	}

	// PutObject does not return LastModified; read it back.
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read back scene token %s: %w", id, err)
	}
	return TokenFromTime(aws.ToTime(head.LastModified)), nil
}

func (s *s3Collaborator) FetchScene(ctx context.Context, id uuid.UUID) ([]byte, Token, bool, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.sceneKey(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", false, nil
		}
		return nil, "", false, fmt.Errorf("failed to fetch scene %s: %w", id, err)
	}
	defer result.Body.Close()

	blob, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to read scene body %s: %w", id, err)
	}
	return blob, TokenFromTime(aws.ToTime(result.LastModified)), true, nil
}

func (s *s3Collaborator) FetchScenes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SceneRecord, error) {
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

func (s *s3Collaborator) FetchSceneToken(ctx context.Context, id uuid.UUID) (Token, bool, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.sceneKey(id)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to fetch scene token %s: %w", id, err)
	}
	return TokenFromTime(aws.ToTime(head.LastModified)), true, nil
}

func (s *s3Collaborator) DeleteScene(ctx context.Context, id uuid.UUID) error {
	for _, key := range []string{s.sceneKey(id), s.historyKey(id)} {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete scene %s: %w", id, err)
		}
	}
	return nil
}

func (s *s3Collaborator) ListScenes(ctx context.Context) ([]SceneRef, error) {
	refs := []SceneRef{}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "scenes/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list scenes: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimSuffix(strings.TrimPrefix(key, s.prefix+"scenes/"), ".json")
			id, err := uuid.Parse(name)
			if err != nil {
				continue
			}
			blob, _, ok, err := s.FetchScene(ctx, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			refs = append(refs, SceneRef{
				ID:    id,
				Name:  payloadName(blob),
				Token: TokenFromTime(aws.ToTime(obj.LastModified)),
			})
		}
	}
	return refs, nil
}

func (s *s3Collaborator) PersistHistory(ctx context.Context, id uuid.UUID, blob []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.historyKey(id)),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to persist history %s: %w", id, err)
	}
	return nil
}

func (s *s3Collaborator) FetchHistory(ctx context.Context, id uuid.UUID) ([]byte, bool, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.historyKey(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to fetch history %s: %w", id, err)
	}
	defer result.Body.Close()

	blob, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read history body %s: %w", id, err)
	}
	return blob, true, nil
}
