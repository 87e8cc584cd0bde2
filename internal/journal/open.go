package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/skillcheck/migrations"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// ErrDisabled is returned by Open for DriverNone.
var ErrDisabled = errors.New("journal: disabled")

// StoreConfig selects and locates a store.
type StoreConfig struct {
	Driver string
	Path   string // sqlite file
	DSN    string // postgres
}

// Open returns the store for cfg.Driver. Postgres stores are migrated
// before they are returned.
func Open(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, cfg.Path)
	case DriverPostgres:
		s, err := OpenPostgres(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(ctx, migrations.FS); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case DriverNone:
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", cfg.Driver)
	}
}
