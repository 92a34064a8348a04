package cmd

import (
	"context"
	"fmt"
	"io"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tapwise/internal/cache"
	"github.com/xkilldash9x/tapwise/internal/config"
	"github.com/xkilldash9x/tapwise/internal/observability"
	"github.com/xkilldash9x/tapwise/internal/service"
)

// openCache is replaced in tests.
var openCache = func(ctx context.Context, cfg config.Interface) (*cache.PositionCache, error) {
	return service.InitializeCache(ctx, cfg, observability.GetLogger())
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the persistent position cache",
	}
	cacheCmd.AddCommand(newCacheStatsCmd(), newCacheCleanupCmd(), newCacheInvalidateCmd())
	return cacheCmd
}

// withCache opens the configured cache for the duration of fn.
func withCache(cmd *cobra.Command, fn func(ctx context.Context, c *cache.PositionCache, cfg *config.Config) error) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	c, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c, cfg)
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print a summary of the persistent cache as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c *cache.PositionCache, cfg *config.Config) error {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"driver": cfg.Store().Driver,
					"cache":  c.Export(ctx),
				})
			})
		},
	}
}

func newCacheCleanupCmd() *cobra.Command {
	var maxAgeDays int
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete cached positions older than --max-age-days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c *cache.PositionCache, cfg *config.Config) error {
				days := maxAgeDays
				if !cmd.Flags().Changed("max-age-days") {
					days = cfg.Cache().MaxAgeDays
				}
				if days < 0 {
					return fmt.Errorf("--max-age-days must not be negative")
				}
				before := c.Export(ctx)
				c.Cleanup(ctx, days)
				after := c.Export(ctx)

				removed := int64(0)
				if before.Persistent != nil && after.Persistent != nil {
					removed = before.Persistent.Entries - after.Persistent.Entries
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached positions older than %d days.\n", removed, days)
				return nil
			})
		},
	}
	cleanupCmd.Flags().IntVar(&maxAgeDays, "max-age-days", 7, "maximum age of kept entries (default from cache.max_age_days)")
	return cleanupCmd
}

func newCacheInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate",
		Short: "Delete every cached position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c *cache.PositionCache, _ *config.Config) error {
				n, err := c.Purge(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %d cached positions.\n", n)
				return nil
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
