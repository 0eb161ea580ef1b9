package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allaspectsdev/transgate/internal/store"
)

var (
	cleanupDays   int
	cleanupDryRun bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache maintenance commands",
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete cache entries not accessed within the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		days := cleanupDays
		if days < 0 {
			days = cfg.CacheExpireDays
		}

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		if cleanupDryRun {
			n, err := st.CountExpired(ctx, days)
			if err != nil {
				return err
			}
			fmt.Printf("would delete %d entries older than %d days\n", n, days)
			return nil
		}

		n, err := st.DeleteExpired(ctx, days)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d entries older than %d days\n", n, days)
		return nil
	},
}

func init() {
	cacheCleanupCmd.Flags().IntVar(&cleanupDays, "days", -1,
		"retention window in days (default: CACHE_EXPIRE_DAYS)")
	cacheCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false,
		"report what would be deleted without deleting")
	cacheCmd.AddCommand(cacheCleanupCmd)
}
