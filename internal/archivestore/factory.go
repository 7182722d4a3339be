package archivestore

import (
	"context"
	"fmt"

	"github.com/iangow/db2pq/internal/config"
	"github.com/iangow/db2pq/internal/core"
)

// NewStoreFromConfig creates an ArchiveStore based on the archive
// config type. dataDir is the default root for the filesystem store, so
// archives land next to the snapshots they supersede.
func NewStoreFromConfig(ctx context.Context, cfg config.ArchiveConfig, dataDir string) (core.ArchiveStore, error) {
	switch cfg.Type {
	case "", "filesystem":
		root := cfg.FSRoot
		if root == "" {
			root = dataDir
		}
		return NewFileStore(root)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
