package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"marketpulse/internal/bootstrap"
	"marketpulse/internal/workers/news"
)

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Run one news ingestion pass and exit",
	Long: "Queries GDELT for every configured keyword, stores and scores new " +
		"articles, then prints the pass counters. Scores are stored but not " +
		"fed to a live pipeline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := bootstrap.NewContainer()
		c.MustInitConfig()
		c.MustInitInfrastructure()
		c.MustInitRepositories()
		c.MustInitAdapters()
		defer c.Shutdown()

		cfg := news.Config{
			Searcher:       c.Adapters.GDELT,
			Articles:       c.Repos.Articles,
			Sentiments:     c.Repos.Sentiments,
			Cache:          c.Adapters.Cache,
			Scorer:         c.Adapters.Scorer,
			Keywords:       c.Config.News.Keywords,
			Lookback:       c.Config.News.Lookback,
			FingerprintTTL: c.Config.News.FingerprintTTL,
			Enabled:        true,
			Clock:          c.Clock,
		}
		if c.Adapters.KafkaProducer != nil {
			cfg.Events = c.Adapters.KafkaProducer
		}

		stats, err := news.NewIngestor(cfg, c.Log).RunOnce(c.Context)
		fmt.Fprintf(cmd.OutOrStdout(),
			"keywords: %d (failed %d)\nfetched: %d\nstored: %d\nduplicates: %d\nerrors: %d\n",
			stats.Keywords, stats.Failed, stats.Fetched, stats.Stored, stats.Duplicates, stats.Errors,
		)
		return err
	},
}
