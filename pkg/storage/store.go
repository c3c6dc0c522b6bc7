package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("object not found")

// ObjectStore is a bucket/key blob store. It holds environment details and
// any files uploaded for a deployment.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Close() error
}

// Config selects and configures a backend
type Config struct {
	// Backend is "s3" or "bolt"
	Backend  string
	Endpoint string
	BoltPath string
	S3       S3Credentials
}

// Open creates the configured backend
func Open(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch cfg.Backend {
	case "", "s3":
		return NewS3Store(ctx, cfg.Endpoint, cfg.S3)
	case "bolt":
		if cfg.BoltPath == "" {
			return nil, errors.New("storage.bolt_path must be set for the bolt backend")
		}
		return NewBoltStore(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
