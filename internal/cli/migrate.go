package cli

import (
	"github.com/spf13/cobra"

	"marketpulse/internal/bootstrap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres and ClickHouse schemas and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := bootstrap.NewContainer()
		c.MustInitConfig()
		// Schemas are applied while connecting
		c.MustInitInfrastructure()
		c.MustInitRepositories()
		c.Log.Info("✓ Schemas applied")
		c.Shutdown()
		return nil
	},
}
