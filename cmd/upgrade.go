package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/config"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store/sqlite"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/upgrade"
	"github.com/mFahadNoor/whop-ai-support-sub000/pkg/protocol"
)

// ErrUpgradeFailed is returned when upgrade cannot proceed.
var ErrUpgradeFailed = errors.New("upgrade cannot proceed")

const upgradeTimeout = 5 * time.Minute

func upgradeCmd() *cobra.Command {
	var dryRun, status bool
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Bring the tenant database up to date",
		Long: "Applies pending Postgres migrations, then tenant data hooks for either backend. " +
			"Running it again is a no-op.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, dialect, err := openUpgradeTarget(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), upgradeTimeout)
			defer cancel()

			fmt.Printf("  App version:     %s (protocol %d)\n", Version, protocol.ProtocolVersion)
			fmt.Printf("  Backend:         %s\n", dialect)
			if status {
				return printUpgradeStatus(ctx, db, dialect)
			}
			return runUpgrade(ctx, db, dialect, cfg.Database.PostgresDSN, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without applying changes")
	cmd.Flags().BoolVar(&status, "status", false, "show schema, pending hooks and tenant table state")
	return cmd
}

// openUpgradeTarget opens the configured database without applying hooks,
// so status output reflects what is actually pending.
func openUpgradeTarget(cfg *config.Config) (*sql.DB, upgrade.Dialect, error) {
	if !cfg.IsPostgres() {
		db, err := sqlite.OpenDB(cfg.Database.SQLitePath)
		if err != nil {
			return nil, upgrade.SQLite, fmt.Errorf("open sqlite: %w", err)
		}
		return db, upgrade.SQLite, nil
	}
	db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
	if err != nil {
		return nil, upgrade.Postgres, fmt.Errorf("connect: %w", err)
	}
	return db, upgrade.Postgres, nil
}

func printUpgradeStatus(ctx context.Context, db *sql.DB, dialect upgrade.Dialect) error {
	if dialect == upgrade.Postgres {
		s, err := upgrade.CheckSchema(ctx, db)
		if err != nil {
			return fmt.Errorf("check schema: %w", err)
		}
		fmt.Printf("  Schema:          v%d (requires v%d) %s\n", s.CurrentVersion, s.RequiredVersion, schemaLabel(s))
		if s.NeedsMigration || s.Dirty {
			// Hooks and stats need the current schema.
			fmt.Println()
			fmt.Print(upgrade.FormatError(s))
			return nil
		}
	}

	pending, err := upgrade.NewRunner(db, dialect).Pending(ctx)
	if err != nil {
		return fmt.Errorf("check data hooks: %w", err)
	}
	fmt.Printf("  Data hooks:      %d pending\n", len(pending))
	for _, name := range pending {
		fmt.Printf("    - %s\n", name)
	}

	stats, err := upgrade.CollectStats(ctx, db)
	if err != nil {
		return fmt.Errorf("collect stats: %w", err)
	}
	printTableStats(stats)

	if len(pending) > 0 {
		fmt.Println()
		fmt.Println("  Run 'supportbot upgrade' to apply pending changes.")
	}
	return nil
}

func printTableStats(s upgrade.TableStats) {
	fmt.Printf("  Tenants:         %d (%d enabled, %d without a mapping)\n", s.Tenants, s.EnabledTenants, s.UnmappedTenants)
	fmt.Printf("  Mappings:        %d (%d point at a tenant with no config)\n", s.Mappings, s.OrphanMappings)
}

func schemaLabel(s *upgrade.SchemaStatus) string {
	switch {
	case s.Dirty:
		return "DIRTY"
	case s.Compatible:
		return "up to date"
	case s.CurrentVersion > s.RequiredVersion:
		return "BINARY TOO OLD"
	default:
		return "UPGRADE NEEDED"
	}
}

func runUpgrade(ctx context.Context, db *sql.DB, dialect upgrade.Dialect, dsn string, dryRun bool) error {
	runner := upgrade.NewRunner(db, dialect)

	if dialect == upgrade.Postgres {
		s, err := upgrade.CheckSchema(ctx, db)
		if err != nil {
			return fmt.Errorf("check schema: %w", err)
		}
		if s.Dirty || s.CurrentVersion > s.RequiredVersion {
			fmt.Print(upgrade.FormatError(s))
			return ErrUpgradeFailed
		}
		switch {
		case !s.NeedsMigration:
			fmt.Println("  SQL schema is up to date.")
		case dryRun:
			fmt.Printf("  Would apply SQL migrations: v%d -> v%d\n", s.CurrentVersion, s.RequiredVersion)
		default:
			v, err := applyMigrations(dsn)
			if err != nil {
				return err
			}
			fmt.Printf("  SQL migrations applied (v%d -> v%d)\n", s.CurrentVersion, v)
		}
		if dryRun && s.NeedsMigration {
			// data_migrations bookkeeping may not exist before the schema does.
			fmt.Println("  Data hooks run after migrations.")
			return nil
		}
	}

	if dryRun {
		pending, err := runner.Pending(ctx)
		if err != nil {
			return fmt.Errorf("check data hooks: %w", err)
		}
		fmt.Printf("  Would run %d data hook(s)\n", len(pending))
		for _, name := range pending {
			fmt.Printf("    - %s\n", name)
		}
		return nil
	}

	count, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("data hooks: %w", err)
	}
	fmt.Printf("  Data hooks applied: %d\n", count)

	if stats, err := upgrade.CollectStats(ctx, db); err == nil {
		printTableStats(stats)
	}
	fmt.Println()
	fmt.Println("  Upgrade complete.")
	return nil
}

// applyMigrations runs pending SQL migrations and returns the new version.
func applyMigrations(dsn string) (uint, error) {
	m, err := newMigrator(dsn)
	if err != nil {
		return 0, err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	v, _, err := m.Version()
	return v, err
}

// checkSchemaOrAutoUpgrade gates gateway startup on a compatible Postgres
// schema. With SUPPORTBOT_AUTO_UPGRADE=true an outdated schema is migrated
// and its data hooks applied inline.
func checkSchemaOrAutoUpgrade(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("schema check: connect: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), upgradeTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("schema check: ping: %w", err)
	}

	s, err := upgrade.CheckSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	runner := upgrade.NewRunner(db, upgrade.Postgres)

	switch {
	case s.Compatible:
		slog.Info("schema check passed", "current", s.CurrentVersion, "required", s.RequiredVersion)
	case s.NeedsMigration && !s.Dirty && os.Getenv("SUPPORTBOT_AUTO_UPGRADE") == "true":
		slog.Info("auto-upgrade: applying migrations", "from", s.CurrentVersion, "to", s.RequiredVersion)
		v, err := applyMigrations(dsn)
		if err != nil {
			return fmt.Errorf("auto-upgrade: %w", err)
		}
		slog.Info("auto-upgrade: migrations applied", "version", v)
	default:
		return errors.New(upgrade.FormatError(s))
	}

	count, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("data hooks: %w", err)
	}
	if count > 0 {
		slog.Info("tenant data hooks applied", "count", count)
	}
	return nil
}
