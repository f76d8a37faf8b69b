package core

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"crmcore/internal/infra/persistence/memory"
	"crmcore/internal/infra/persistence/postgres"
	"crmcore/internal/infra/persistence/sqlite"
	"crmcore/pkg/domain"
)

// StorageDriver identifies a concrete persistence backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects a persistence backend from the environment.
type StorageConfig struct {
	Driver      string `env:"CRMCORE_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"CRMCORE_SQLITE_PATH" envDefault:"crmcore.db"`
	PostgresDSN string `env:"CRMCORE_POSTGRES_DSN"`
}

// OpenPersistentStore selects and opens a persistence adapter for the
// service using environment variables. Defaults to sqlite when unset.
func OpenPersistentStore(svc *Service, log *logrus.Logger) (domain.PersistentStore, error) {
	cfg, err := env.ParseAs[StorageConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse storage config: %w", err)
	}
	return OpenPersistentStoreWith(svc, cfg, log)
}

// OpenPersistentStoreWith opens a persistence adapter from an explicit
// configuration.
func OpenPersistentStoreWith(svc *Service, cfg StorageConfig, log *logrus.Logger) (domain.PersistentStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	switch StorageDriver(cfg.Driver) {
	case StorageMemory:
		log.WithField("driver", cfg.Driver).Info("opening persistent store")
		return memory.NewStore(svc), nil
	case StorageSQLite:
		log.WithFields(logrus.Fields{"driver": cfg.Driver, "path": cfg.SQLitePath}).Info("opening persistent store")
		return sqlite.NewStore(cfg.SQLitePath, svc)
	case StoragePostgres:
		log.WithField("driver", cfg.Driver).Info("opening persistent store")
		return postgres.NewStore(cfg.PostgresDSN, svc)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
