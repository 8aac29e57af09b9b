package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

// ContentTypeParquet is the media type staged datasets are written with.
const ContentTypeParquet = "application/vnd.apache.parquet"

type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

type PutOptions struct {
	ContentType string
	// Metadata is stored alongside the object where the backend supports it.
	Metadata map[string]string
}

// ObjectStore holds staged session datasets between ingestion and the load
// into the session's query engine.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}
