package responses

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/toolrun/internal/config"
)

// OpenStore builds the Store selected by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.ResponsesConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return OpenSQLStore(ctx, DialectSQLite, cfg.DSN, nil)
	case "postgres":
		return OpenSQLStore(ctx, DialectPostgres, cfg.DSN, nil)
	case "s3":
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown responses backend %q", cfg.Backend)
	}
}
