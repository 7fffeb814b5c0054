package cmd

import (
	"fmt"
	"log/slog"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/config"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store/pg"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store/sqlite"
)

// openStores opens the configured backend. Postgres is gated on the schema
// check (or auto-upgraded when SUPPORTBOT_AUTO_UPGRADE=true); SQLite applies
// its own schema on open.
func openStores(cfg *config.Config) (*store.Stores, error) {
	storeCfg := store.StoreConfig{
		Mode:        cfg.Database.Mode,
		PostgresDSN: cfg.Database.PostgresDSN,
		SQLitePath:  cfg.Database.SQLitePath,
	}

	if cfg.IsPostgres() {
		if err := checkSchemaOrAutoUpgrade(cfg.Database.PostgresDSN); err != nil {
			return nil, err
		}
		stores, err := pg.NewPGStores(storeCfg)
		if err != nil {
			return nil, fmt.Errorf("postgres stores: %w", err)
		}
		slog.Info("store opened", "mode", "postgres")
		return stores, nil
	}

	stores, err := sqlite.NewSQLiteStores(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("sqlite stores: %w", err)
	}
	slog.Info("store opened", "mode", "sqlite", "path", storeCfg.SQLitePath)
	return stores, nil
}

// loadConfig loads and validates config, reporting every violation at once.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
