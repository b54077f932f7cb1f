package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrygo/mnemo/store"
	"github.com/hrygo/mnemo/store/db"
)

func migrateCMD(cfgPath func() string) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the durable store schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openUnmigratedStore(cfgPath())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Migrate(cmd.Context())
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openUnmigratedStore(cfgPath())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.RollbackMigrations(cmd.Context(), steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openUnmigratedStore(cfgPath())
			if err != nil {
				return err
			}
			defer s.Close()
			v, dirty, err := s.MigrationVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	}

	migrate.AddCommand(up, down, version)
	return migrate
}

// openUnmigratedStore opens the durable store without applying migrations.
func openUnmigratedStore(cfgPath string) (*store.Store, error) {
	p, err := loadProfile(cfgPath)
	if err != nil {
		return nil, err
	}
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	return store.New(driver, p), nil
}
