package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/supplier-discovery/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the run workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return server.New(a).Run(cmd.Context())
		},
	}
}
