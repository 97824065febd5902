// Package runstore opens the run history backend selected in the configuration.
package runstore

import (
	"context"
	"fmt"

	"github.com/yegors/aemet-connector/internal/config"
	"github.com/yegors/aemet-connector/internal/storage"
	"github.com/yegors/aemet-connector/internal/storage/postgres"
	"github.com/yegors/aemet-connector/internal/storage/sqlite"
	"github.com/yegors/aemet-connector/pkg/logger"
)

// Open returns the configured backend. It returns nil when storage is disabled.
func Open(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (storage.RunStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case "postgres":
		store, err := postgres.NewRunStorage(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, err
		}
		log.Info("Using PostgreSQL run history")
		return store, nil
	case "", "sqlite":
		store, err := sqlite.NewRunStorage(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		log.Info("Using SQLite run history", logger.String("path", cfg.SQLitePath))
		return store, nil
	}
	return nil, fmt.Errorf("invalid storage type: %s", cfg.Type)
}
