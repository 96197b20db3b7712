package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"marketpulse/internal/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run sources, pipeline, news ingestion and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := bootstrap.NewContainer()
		c.MustInit()

		if err := c.Start(); err != nil {
			c.Log.Errorw("Startup failed", "error", err)
			c.Shutdown()
			return err
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			c.Log.Infow("Shutdown signal received", "signal", sig.String())
		case <-c.Context.Done():
			c.Log.Warn("Application context cancelled")
		}

		c.Shutdown()
		return nil
	},
}
