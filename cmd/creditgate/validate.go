package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/credix/creditgate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithFallback(cfgFile)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		fmt.Println("Configuration valid")
		fmt.Printf("  Upstream:  %s\n", cfg.Upstream.URL)
		fmt.Printf("  Database:  %s\n", cfg.Database.DSN)
		if cfg.Redis.Addr != "" {
			fmt.Printf("  Redis:     %s\n", cfg.Redis.Addr)
		}
		if cfg.Metering.ExemptOrigin != "" {
			fmt.Printf("  Exempt:    %s\n", cfg.Metering.ExemptOrigin)
		}
		fmt.Println()
		fmt.Printf("Hot-reloadable (SIGHUP or file change):\n  %s\n",
			strings.Join(config.ReloadableFields(), ", "))
		fmt.Printf("Restart required:\n  %s\n",
			strings.Join(config.NonReloadableFields(), ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
