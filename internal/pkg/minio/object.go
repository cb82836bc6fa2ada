package minio

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// PutObjectOptions represents options for uploading an object
type PutObjectOptions struct {
	// ContentType is the content type of the object
	ContentType string
	// UserMetadata is custom metadata for the object
	UserMetadata map[string]string
}

// ObjectInfo represents metadata about a stored object
type ObjectInfo struct {
	Bucket       string
	Key          string
	ETag         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// UploadInfo represents information about an uploaded object
type UploadInfo struct {
	Bucket string
	Key    string
	ETag   string
	Size   int64
}

// PutObject uploads an object to a bucket
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts PutObjectOptions) (UploadInfo, error) {
	if err := c.checkClosed(); err != nil {
		return UploadInfo{}, err
	}

	if bucketName == "" {
		return UploadInfo{}, WrapError("PutObject", ErrInvalidBucketName, bucketName, objectName)
	}

	if objectName == "" {
		return UploadInfo{}, WrapError("PutObject", ErrInvalidObjectName, bucketName, objectName)
	}

	info, err := c.client.PutObject(ctx, bucketName, objectName, reader, objectSize, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.UserMetadata,
	})
	if err != nil {
		return UploadInfo{}, WrapError("PutObject", err, bucketName, objectName)
	}

	if c.logger != nil {
		c.logger.Debug("object uploaded",
			zap.String("bucket", bucketName),
			zap.String("object", objectName),
			zap.Int64("size", info.Size),
			zap.String("etag", info.ETag),
		)
	}

	return UploadInfo{
		Bucket: info.Bucket,
		Key:    info.Key,
		ETag:   info.ETag,
		Size:   info.Size,
	}, nil
}

// GetObject downloads an object from a bucket. The returned object is a
// stream; the caller owns closing it.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string) (*minio.Object, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	if bucketName == "" {
		return nil, WrapError("GetObject", ErrInvalidBucketName, bucketName, objectName)
	}

	if objectName == "" {
		return nil, WrapError("GetObject", ErrInvalidObjectName, bucketName, objectName)
	}

	object, err := c.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, WrapError("GetObject", err, bucketName, objectName)
	}

	return object, nil
}

// StatObject gets object metadata
func (c *Client) StatObject(ctx context.Context, bucketName, objectName string) (ObjectInfo, error) {
	if err := c.checkClosed(); err != nil {
		return ObjectInfo{}, err
	}

	if bucketName == "" {
		return ObjectInfo{}, WrapError("StatObject", ErrInvalidBucketName, bucketName, objectName)
	}

	if objectName == "" {
		return ObjectInfo{}, WrapError("StatObject", ErrInvalidObjectName, bucketName, objectName)
	}

	info, err := c.client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, WrapError("StatObject", err, bucketName, objectName)
	}

	return ObjectInfo{
		Bucket:       bucketName,
		Key:          info.Key,
		ETag:         info.ETag,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// RemoveObject removes an object from a bucket. Removing a missing object
// is not an error (the operation is idempotent).
func (c *Client) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	if bucketName == "" {
		return WrapError("RemoveObject", ErrInvalidBucketName, bucketName, objectName)
	}

	if objectName == "" {
		return WrapError("RemoveObject", ErrInvalidObjectName, bucketName, objectName)
	}

	err := c.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil && !IsNotFound(err) {
		return WrapError("RemoveObject", err, bucketName, objectName)
	}

	if c.logger != nil {
		c.logger.Debug("object removed",
			zap.String("bucket", bucketName),
			zap.String("object", objectName),
		)
	}

	return nil
}
