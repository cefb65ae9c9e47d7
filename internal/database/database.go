// Package database opens the configured backend, applies migrations and
// hands back the repositories built on it.
package database

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"yetti-auth/internal/config"
	"yetti-auth/internal/repository"
	"yetti-auth/internal/repository/migrations"
	"yetti-auth/internal/repository/postgres"
	"yetti-auth/internal/repository/sqlite"
)

// Repositories bundles the repositories of one open database.
type Repositories struct {
	Users    repository.UserRepository
	Sessions repository.SessionRepository

	closers []func()
}

// Close releases every connection opened by Open.
func (r *Repositories) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Open connects to cfg.Driver, migrates the schema to the latest version and
// builds the repositories.
func Open(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*Repositories, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		return openSQLite(ctx, cfg.Database.Path, logger)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg.Database.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func openSQLite(ctx context.Context, path string, logger logrus.FieldLogger) (*Repositories, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(ctx, db, migrations.DialectSQLite, logger); err != nil {
		db.Close()
		return nil, err
	}
	logger.WithField("path", path).Info("using sqlite database")
	return &Repositories{
		Users:    sqlite.NewUserRepository(db),
		Sessions: sqlite.NewSessionRepository(db),
		closers:  []func(){func() { db.Close() }},
	}, nil
}

func openPostgres(ctx context.Context, dsn string, logger logrus.FieldLogger) (*Repositories, error) {
	sqlDB, err := postgres.OpenSQL(dsn)
	if err != nil {
		return nil, err
	}
	err = migrations.Up(ctx, sqlDB, migrations.DialectPostgres, logger)
	sqlDB.Close()
	if err != nil {
		return nil, err
	}

	pool, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	logger.Info("using postgres database")
	return &Repositories{
		Users:    postgres.NewUserRepository(pool),
		Sessions: postgres.NewSessionRepository(pool),
		closers:  []func(){pool.Close},
	}, nil
}
