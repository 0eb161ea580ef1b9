package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allaspectsdev/transgate/internal/store"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance commands",
}

var dbVacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Reclaim unused space and refresh planner statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Vacuum(context.Background()); err != nil {
			return err
		}
		fmt.Println("vacuum complete")
		return nil
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Open runs migrations as part of startup.
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		v, err := st.SchemaVersion()
		if err != nil {
			return err
		}
		fmt.Printf("schema at version %d\n", v)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbVacuumCmd)
	dbCmd.AddCommand(dbMigrateCmd)
}
