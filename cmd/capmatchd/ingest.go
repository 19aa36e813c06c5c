package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capmatch/capmatch/config"
	"github.com/capmatch/capmatch/internal/ingest"
	"github.com/capmatch/capmatch/internal/store"
	openai "github.com/capmatch/capmatch/provider/openai"
)

func ingestCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed and store chunks for investors that have none yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			if cfg.Providers.OpenAI.APIKey == "" {
				return fmt.Errorf("providers.openai.api_key required for ingestion")
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			embedder := openai.NewClient(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.EmbeddingModel, cfg.Providers.OpenAI.Timeout)
			ing := ingest.NewIngestor(st, embedder, nil)
			n, err := ing.Run(ctx, batchSize)
			if err != nil {
				return err
			}
			fmt.Printf("ingested chunks for %d investors\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 50, "max investors to process per run")
	return cmd
}
