package storage

import (
	"context"
	"database/sql"
	"fmt"

	"meal-plan-service/internal/config"
)

// Open returns the store selected by cfg.StorageBackend. db backs the
// sqlite backend and may be nil for the others.
func Open(ctx context.Context, cfg *config.Config, db *sql.DB) (Store, error) {
	switch cfg.StorageBackend {
	case config.StorageFirestore:
		fs, err := NewFirestoreStore(ctx, cfg.FirestoreProjectID, cfg.FirestoreDatabaseID, cfg.FirestoreCollection)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.StorageSQLite:
		if db == nil {
			return nil, fmt.Errorf("sqlite storage requires a database connection")
		}
		return NewSQLiteStore(db), nil
	case config.StorageMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}
