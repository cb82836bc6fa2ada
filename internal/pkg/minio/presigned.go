package minio

import (
	"context"
	"net/url"
	"time"
)

// PresignedGetObject generates a presigned URL for HTTP GET operations
func (c *Client) PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	if bucketName == "" {
		return nil, WrapError("PresignedGetObject", ErrInvalidBucketName, bucketName, objectName)
	}

	if objectName == "" {
		return nil, WrapError("PresignedGetObject", ErrInvalidObjectName, bucketName, objectName)
	}

	if expiry <= 0 {
		return nil, WrapErrorWithMessage("PresignedGetObject", ErrInvalidArgument, "expiry must be greater than 0")
	}

	presignedURL, err := c.client.PresignedGetObject(ctx, bucketName, objectName, expiry, reqParams)
	if err != nil {
		return nil, WrapError("PresignedGetObject", err, bucketName, objectName)
	}

	return presignedURL, nil
}
