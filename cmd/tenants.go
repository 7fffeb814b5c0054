package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/titanous/json5"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

const cliTimeout = 15 * time.Second

// withStores opens the configured store for a one-shot CLI command.
func withStores(fn func(ctx context.Context, stores *store.Stores) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging("warn")
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()
	return fn(ctx, stores)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func tenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Inspect and edit tenant configuration",
		Long: "Reads and writes tenant configs in the store. A running bot picks up " +
			"CLI writes when its config cache entry expires; use the admin API for an immediate refresh.",
	}
	cmd.AddCommand(tenantsListCmd())
	cmd.AddCommand(tenantsGetCmd())
	cmd.AddCommand(tenantsPutCmd())
	return cmd
}

func tenantsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenant ids with a stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(ctx context.Context, stores *store.Stores) error {
				ids, err := stores.Tenants.ListTenantIDs(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Println(id)
				}
				return nil
			})
		},
	}
}

func tenantsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant_id>",
		Short: "Print a tenant's config with defaults applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(ctx context.Context, stores *store.Stores) error {
				cfg, err := stores.Tenants.GetTenantConfig(ctx, args[0])
				if errors.Is(err, store.ErrNotFound) {
					return printJSON(store.DefaultTenantConfig(args[0]))
				}
				if err != nil {
					return err
				}
				return printJSON(cfg.WithDefaults())
			})
		},
	}
}

func tenantsPutCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "put <tenant_id>",
		Short: "Replace a tenant's config from a JSON5 file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			var cfg store.TenantConfig
			if err := json5.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			if cfg.TenantID != "" && cfg.TenantID != args[0] {
				return fmt.Errorf("file is for tenant %q, not %q", cfg.TenantID, args[0])
			}
			cfg.TenantID = args[0]
			cfg = cfg.WithDefaults()

			return withStores(func(ctx context.Context, stores *store.Stores) error {
				if err := stores.Tenants.PutTenantConfig(ctx, &cfg); err != nil {
					return err
				}
				fmt.Printf("tenant %s updated (%d presets, knowledge base %d chars)\n",
					cfg.TenantID, len(cfg.PresetQA), len(cfg.KnowledgeBase))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON5 file holding the tenant config")
	cmd.MarkFlagRequired("file")
	return cmd
}

func mappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect channel-group to tenant mappings",
	}
	cmd.AddCommand(mappingsListCmd())
	return cmd
}

func mappingsListCmd() *cobra.Command {
	var tenantFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored mappings, optionally for a comma-separated set of tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(ctx context.Context, stores *store.Stores) error {
				var (
					list []store.Mapping
					err  error
				)
				if tenantFilter != "" {
					list, err = stores.Mappings.ListMappingsForTenants(ctx, splitCSV(tenantFilter))
				} else {
					list, err = stores.Mappings.ListMappings(ctx)
				}
				if err != nil {
					return err
				}
				for _, m := range list {
					fmt.Printf("%s\t%s\n", m.ChannelGroupID, m.TenantID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantFilter, "tenant", "", "only mappings for these tenant ids (comma-separated)")
	return cmd
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
