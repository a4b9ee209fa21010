package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// ObjectStore persists report documents.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	Bucket  string
	Prefix  string
	S3      S3Config
	GCS     GCSConfig
	FSRoot  string
}

// New creates the backend named by cfg.Backend: "s3" (also "wasabi"),
// "gcs" or "fs".
func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "s3", "wasabi":
		return NewS3(ctx, cfg.Bucket, cfg.Prefix, cfg.S3)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.Prefix, cfg.GCS)
	case "fs", "":
		return NewFS(cfg.FSRoot, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// objectName applies a backend prefix to a report key.
func objectName(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}
