package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/frahmantamala/expense-approval/internal"
)

const (
	DriverMemory = "memory"
	DriverS3     = "s3"
)

var ErrNotFound = stderrors.New("blob not found")

// Store keeps receipt attachments referenced by line items.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	PresignGet(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Open builds the store selected by cfg.Driver, defaulting to memory.
func Open(ctx context.Context, cfg internal.StorageConfig) (Store, error) {
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore("memory://attachments"), nil
	case DriverS3:
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			PathStyle:       cfg.PathStyle,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			URLExpiry:       expiry,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
