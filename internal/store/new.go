package store

import (
	"context"
	"fmt"

	"github.com/dylantcon/countertrak-ingest/internal/config"
)

// New opens the Store backend selected by cfg.DBEngine.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.DBEngine {
	case config.EnginePostgres:
		return NewPostgresStore(ctx, cfg.PostgresURL)
	case config.EngineSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("store: unrecognized engine %q", cfg.DBEngine)
	}
}
