package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/config"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store/sqlite"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/upgrade"
	"github.com/mFahadNoor/whop-ai-support-sub000/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, secrets and database health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("supportbot doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid:\n    %s\n", err)
	}

	fmt.Println()
	fmt.Println("  Secrets:")
	checkSecret("Platform token", cfg.Platform.Token)
	checkSecret("Bot user id", cfg.Platform.BotUserID)
	checkSecret("AI API key", cfg.Provider.APIKey)
	checkSecret("Admin token", cfg.Gateway.Token)

	fmt.Println()
	fmt.Println("  Provider:")
	fmt.Printf("    %-12s %s\n", "Name:", cfg.Provider.Name)
	fmt.Printf("    %-12s %s\n", "Model:", cfg.Provider.Model)
	if cfg.Provider.APIBase != "" {
		fmt.Printf("    %-12s %s\n", "API base:", cfg.Provider.APIBase)
	}

	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-12s %s\n", "Mode:", cfg.Database.Mode)
	if cfg.IsPostgres() {
		checkPostgres(cfg.Database.PostgresDSN)
	} else {
		checkSQLite(cfg.Database.SQLitePath)
	}

	if dir := cfg.Tenants.OverridesDir; dir != "" {
		fmt.Println()
		fmt.Printf("  Overrides: %s", dir)
		if _, err := os.Stat(dir); err != nil {
			fmt.Println(" (NOT FOUND)")
		} else {
			fmt.Println(" (OK)")
		}
	}
	fmt.Println()
}

func checkSecret(name, value string) {
	status := "set"
	if value == "" {
		status = "NOT SET"
	}
	fmt.Printf("    %-16s %s\n", name+":", status)
}

func checkPostgres(dsn string) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}

	s, err := upgrade.CheckSchema(ctx, db)
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	case s.Dirty:
		fmt.Printf("    %-12s v%d (DIRTY, run: supportbot migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
	default:
		fmt.Printf("    %-12s v%d (upgrade needed, run: supportbot upgrade)\n", "Schema:", s.CurrentVersion)
	}

	pending, err := upgrade.NewRunner(db, upgrade.Postgres).Pending(ctx)
	if err == nil && len(pending) > 0 {
		fmt.Printf("    %-12s %d pending\n", "Data hooks:", len(pending))
	} else if err == nil {
		fmt.Printf("    %-12s all applied\n", "Data hooks:")
	}

	printDoctorStats(ctx, db)
}

func checkSQLite(path string) {
	fmt.Printf("    %-12s %s\n", "Path:", path)
	db, err := sqlite.OpenDB(path)
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pending, err := upgrade.NewRunner(db, upgrade.SQLite).Pending(ctx)
	if err == nil {
		fmt.Printf("    %-12s %d pending (applied on next start)\n", "Data hooks:", len(pending))
	}
	printDoctorStats(ctx, db)
}

func printDoctorStats(ctx context.Context, db *sql.DB) {
	s, err := upgrade.CollectStats(ctx, db)
	if err != nil {
		fmt.Printf("    %-12s unavailable (%s)\n", "Rows:", err)
		return
	}
	fmt.Printf("    %-12s %d tenants (%d enabled), %d mappings\n", "Rows:", s.Tenants, s.EnabledTenants, s.Mappings)
	if s.OrphanMappings > 0 {
		fmt.Printf("    %-12s %d mappings point at a tenant with no config\n", "Warning:", s.OrphanMappings)
	}
}
