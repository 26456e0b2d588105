package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

type crawlFlags struct {
	sites        []string
	maxPages     int
	minDelayMs   int
	maxDelayMs   int
	sequential   bool
	skipCooldown bool
	batchSize    int
	jsonOut      bool
}

// newCrawlCmd runs one crawl in the foreground and prints its report.
func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the configured sites once",
		Long: `Crawls the configured supplier sites once, persists the discoveries and
prints the new products and offers found. Flags override the configured
crawl defaults for this run only.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			params := f.params(cmd)
			report, runErr := a.RunOnce(cmd.Context(), params)
			if report.RunID == "" {
				return runErr
			}
			if f.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("encode report: %w", err)
				}
			} else {
				printReport(cmd, report.RunID, report.Counters.Visited, report.NewProducts, len(report.NewOffers), report.SiteErrors)
			}
			if runErr != nil {
				a.Logger().Warn("crawl failed", zap.String("run_id", report.RunID), zap.Error(runErr))
				return fmt.Errorf("run %s: %w", report.RunID, runErr)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&f.sites, "site", nil, "site name to crawl (repeatable, default all)")
	flags.IntVar(&f.maxPages, "max-pages", 0, "page ceiling per site")
	flags.IntVar(&f.minDelayMs, "min-delay-ms", 0, "minimum delay between requests")
	flags.IntVar(&f.maxDelayMs, "max-delay-ms", 0, "maximum delay between requests")
	flags.BoolVar(&f.sequential, "sequential", false, "crawl one site at a time")
	flags.BoolVar(&f.skipCooldown, "skip-cooldown", false, "skip the pause between sequential sites")
	flags.IntVar(&f.batchSize, "batch-size", 0, "discoveries per persisted batch")
	flags.BoolVar(&f.jsonOut, "json", false, "print the full report as JSON")
	return cmd
}

// params sets only the overrides the user passed.
func (f crawlFlags) params(cmd *cobra.Command) crawler.RunParameters {
	p := crawler.RunParameters{Sites: f.sites}
	flags := cmd.Flags()
	if flags.Changed("max-pages") {
		p.MaxPagesPerSite = &f.maxPages
	}
	if flags.Changed("min-delay-ms") {
		p.MinDelayMs = &f.minDelayMs
	}
	if flags.Changed("max-delay-ms") {
		p.MaxDelayMs = &f.maxDelayMs
	}
	if flags.Changed("sequential") {
		p.Sequential = &f.sequential
	}
	if flags.Changed("skip-cooldown") {
		p.SkipCooldown = &f.skipCooldown
	}
	if flags.Changed("batch-size") {
		p.BatchSize = &f.batchSize
	}
	return p
}

func printReport(cmd *cobra.Command, runID string, visited int, products []crawler.DiscoveredURL, offers int, siteErrs []crawler.SiteError) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: visited %d pages, %d new products, %d new offers\n", runID, visited, len(products), offers)
	for _, p := range products {
		fmt.Fprintf(out, "  %s  %s\n", p.CanonicalURL, p.Title)
	}
	for _, se := range siteErrs {
		fmt.Fprintf(out, "  site %s failed (%s): %s\n", se.Site, se.Kind, se.Message)
	}
}
