package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/capmatch/capmatch/config"
	"github.com/capmatch/capmatch/internal/server"
)

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate [up|down|force|version] [version]",
		Short: "Apply database migrations",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			version := 0
			if len(args) == 2 {
				if version, err = strconv.Atoi(args[1]); err != nil {
					return err
				}
			}
			return server.Migrate(dir, dsn, args[0], version)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migration source URL")
	return cmd
}
