package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/model"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const noSuchKey = "NoSuchKey"

// MinioStore keeps each analysis as a JSON object named <prefix><id>.json
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioStore(cfg *config.MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	slog.Info("analysis store initialized", "backend", "minio", "bucket", s.bucket, "prefix", s.prefix)
	return nil
}

func (s *MinioStore) objectName(id string) string {
	return s.prefix + id + ".json"
}

// isAnalysisObject reports whether key was written by objectName
func (s *MinioStore) isAnalysisObject(key string) bool {
	return strings.HasPrefix(key, s.prefix) && strings.HasSuffix(key, ".json")
}

func (s *MinioStore) Put(ctx context.Context, a *model.DocumentAnalysis) error {
	name := s.objectName(a.ID)
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err == nil {
		return fmt.Errorf("%w: analysis %s already exists", ErrStorage, a.ID)
	} else if minio.ToErrorResponse(err).Code != noSuchKey {
		return fmt.Errorf("%w: failed to stat object: %w", ErrStorage, err)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal analysis: %w", ErrStorage, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload analysis: %w", ErrStorage, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, id string) (*model.DocumentAnalysis, error) {
	return s.fetch(ctx, s.objectName(id))
}

func (s *MinioStore) fetch(ctx context.Context, name string) (*model.DocumentAnalysis, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateMinioError(err)
	}
	return decodeAnalysis(data)
}

func (s *MinioStore) List(ctx context.Context, limit int) ([]*model.DocumentAnalysis, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	result := make([]*model.DocumentAnalysis, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("%w: failed to list objects: %w", ErrStorage, info.Err)
		}
		if !s.isAnalysisObject(info.Key) {
			continue
		}
		a, err := s.fetch(ctx, info.Key)
		if err != nil {
			// removed between list and fetch
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, a)
	}

	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MinioStore) Delete(ctx context.Context, id string) error {
	name := s.objectName(id)
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		return translateMinioError(err)
	}
	err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("%w: failed to delete analysis: %w", ErrStorage, err)
	}
	return nil
}

func translateMinioError(err error) error {
	if minio.ToErrorResponse(err).Code == noSuchKey {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

func decodeAnalysis(data []byte) (*model.DocumentAnalysis, error) {
	var a model.DocumentAnalysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: failed to decode analysis: %w", ErrStorage, err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}
