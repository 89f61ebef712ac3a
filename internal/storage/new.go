package storage

import (
	"context"
	"fmt"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// New builds the configured backend wrapped in a ValidatingStore.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*ValidatingStore, error) {
	var (
		backend Store
		err     error
	)
	switch cfg.Store.Backend {
	case config.StoreBackendFS:
		backend, err = NewFileStore(cfg.Store.Path, cfg.Store.Pattern)
	case config.StoreBackendMinio:
		backend, err = NewMinioStore(ctx, cfg.Minio, cfg.Store.Pattern, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Datastream store ready",
		logger.String("backend", cfg.Store.Backend),
		logger.String("pattern", cfg.Store.Pattern))
	return NewValidatingStore(backend), nil
}
