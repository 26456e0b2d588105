package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "Lists the configured supplier sites",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, site := range a.Config().Sites {
				fmt.Fprintf(out, "%s\t%s\t%s\n", site.Name, site.Domain, strings.Join(site.StartURLs, ","))
			}
			return nil
		},
	}
}
