package main

import (
	"github.com/spf13/cobra"

	"github.com/capmatch/capmatch/config"
	"github.com/capmatch/capmatch/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			return server.Run(cfg)
		},
	}
}
