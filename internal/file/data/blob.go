package data

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/lk2023060901/filedepot/internal/file/biz"
	"github.com/lk2023060901/filedepot/internal/pkg/minio"
)

// BlobStore implements biz.BlobStore on MinIO. All objects live in a single
// bucket; keys are derived from the content hash.
type BlobStore struct {
	client *minio.Client
	bucket string
}

func NewBlobStore(client *minio.Client, bucket string) biz.BlobStore {
	return &BlobStore{client: client, bucket: bucket}
}

func (s *BlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *BlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; surface a missing object now instead of on first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if minio.IsNotFound(err) {
			return nil, biz.ErrContentNotFound
		}
		return nil, err
	}
	return obj, nil
}

func (s *BlobStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key)
}

func (s *BlobStore) URL(ctx context.Context, key string, expiry time.Duration, downloadName string) (string, error) {
	params := url.Values{}
	if downloadName != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
