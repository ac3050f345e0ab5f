package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures an S3-compatible backend
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PathPrefix string
}

// MinioStore implements Store on any S3-compatible object storage
type MinioStore struct {
	client     *minio.Client
	bucket     string
	pathPrefix string
}

// NewMinioStore connects to the endpoint and ensures the bucket exists
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
	}

	prefix := strings.TrimRight(cfg.PathPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, pathPrefix: prefix}, nil
}

func (s *MinioStore) Type() StoreType { return StoreTypeMinio }

func (s *MinioStore) objectKey(category Category, name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return s.pathPrefix + string(category) + "/" + name, nil
}

func (s *MinioStore) Put(ctx context.Context, category Category, name string, src io.Reader, size int64) (bool, error) {
	exists, err := s.Exists(ctx, category, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	key, err := s.objectKey(category, name)
	if err != nil {
		return false, err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, src, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return false, fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return true, nil
}

func (s *MinioStore) Open(ctx context.Context, category Category, name string) (io.ReadCloser, error) {
	key, err := s.objectKey(category, name)
	if err != nil {
		return nil, err
	}
	exists, err := s.Exists(ctx, category, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return obj, nil
}

func (s *MinioStore) Exists(ctx context.Context, category Category, name string) (bool, error) {
	key, err := s.objectKey(category, name)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}
