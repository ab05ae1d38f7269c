package core

import (
	"context"
)

// Archive stores immutable blobs, such as impression batches, in object storage.
type Archive interface {
	// Put writes data under key.
	Put(ctx context.Context, key, contentType string, data []byte) error

	// CheckBucket ensures the target bucket exists.
	CheckBucket(ctx context.Context) error
}
