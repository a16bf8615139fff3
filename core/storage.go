package core

import (
	"context"
	"io"
	"time"
)

type (
	ObjectInfo struct {
		Key          string
		Size         int64
		LastModified time.Time
	}

	// ObjectStore is implemented by services/objstore.
	ObjectStore interface {
		Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
		Delete(ctx context.Context, keys ...string) error
		// List returns every object whose key starts with prefix.
		List(ctx context.Context, prefix string) ([]ObjectInfo, error)
		// PresignGet returns a temporary download URL for key.
		PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	}
)
