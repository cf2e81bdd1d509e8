package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/minerva/colocmap/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and job scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		server, err := api.Open(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer server.Close()

		return server.Run(cmd.Context())
	},
}
