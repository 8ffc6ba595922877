package storage

import (
	"context"
	"fmt"

	"stickerpack/internal/infra"
)

// FromConfig builds the configured store. Missing S3 credentials yield an
// Unconfigured store rather than an error so the API can still serve
// status polls.
func FromConfig(ctx context.Context, cfg *infra.Config) (Store, error) {
	switch cfg.StorageDriver {
	case "filesystem", "local":
		return NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	case "s3", "minio", "":
		if !cfg.ObjectStorageConfigured() {
			return Unconfigured{Reason: "S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY and S3_BUCKET are required"}, nil
		}
		return NewMinioStore(ctx, MinioOptions{
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			UseSSL:        cfg.S3UseSSL,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.StorageDriver)
	}
}
