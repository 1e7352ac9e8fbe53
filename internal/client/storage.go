package client

import (
	"context"
	"fmt"

	"github.com/matrixai/api/internal/config"
)

// NewStorageClient builds the artifact store selected by storage.driver
func NewStorageClient(ctx context.Context, cfg *config.Config) (StorageClient, error) {
	switch cfg.Storage.Driver {
	case "r2":
		return NewR2Client(&cfg.R2)
	case "minio":
		return NewMinioClient(ctx, &cfg.Minio)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
