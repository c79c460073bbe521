package main

import (
	"github.com/spf13/cobra"

	"github.com/credix/creditgate/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the creditgate server.

The server will:
  - Load configuration from creditgate.yaml (or --config)
  - Or load configuration from CREDITGATE_* environment variables
  - Open the ledger database and apply migrations
  - Meter and proxy requests to the SSI backend

Environment variables (for Docker deployments):
  CREDITGATE_UPSTREAM_URL   - SSI backend URL (required)
  CREDITGATE_JWT_SECRET     - Recharge token secret (required)
  CREDITGATE_DATABASE_DSN   - Ledger database path (default: creditgate.db)
  CREDITGATE_SERVER_PORT    - Server port (default: 8080)
  CREDITGATE_REDIS_ADDR     - Redis address for recharge sessions
  CREDITGATE_LOG_LEVEL      - Log level: debug, info, warn, error

Examples:
  creditgate serve
  creditgate serve --config /etc/creditgate/config.yaml

  # Docker (env vars only):
  CREDITGATE_UPSTREAM_URL=http://studio:3000 creditgate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return err
	}
	return app.Run()
}
