package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "creditgate",
	Short: "Credit-metering gateway for SSI infrastructure APIs",
	Long: `Creditgate sits in front of an SSI backend and meters every
request against prepaid credit plans.

Requests are admitted only when the calling service holds a usable
plan; consumed cost is settled against the plan after the upstream
responds.

Quick start:
  creditgate serve     # Start the gateway

Management:
  creditgate plans     # Inspect and activate credit plans
  creditgate validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "creditgate.yaml", "config file path")
}
