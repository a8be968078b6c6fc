package store

import (
	"fmt"

	"github.com/vovakirdan/pulse-server/internal/config"
	"github.com/vovakirdan/pulse-server/internal/core"
	"github.com/vovakirdan/pulse-server/internal/store/badgerdb"
	"github.com/vovakirdan/pulse-server/internal/store/sqlite"
)

// Store is a durable channel table store.
type Store interface {
	core.TableStore

	// Close releases the underlying database.
	Close() error
}

// Open returns the store selected by cfg.StorageDriver.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite, "":
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return st, nil
	case config.DriverBadger:
		st, err := badgerdb.New(cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("init badger store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// Location returns the path of the store selected by cfg, for logging.
func Location(cfg *config.Config) string {
	if cfg.StorageDriver == config.DriverBadger {
		return cfg.BadgerPath
	}
	return cfg.DatabasePath
}
