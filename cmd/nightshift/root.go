package main

import (
	"github.com/spf13/cobra"

	"github.com/nightshift-run/nightshift/internal/version"
)

var configPath string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "nightshift",
	Short: "Nightshift - scheduled background AI agents",
	Long: `Nightshift runs AI agents on a schedule: one-shot, interval, or cron.
Agents work unattended through a policy-gated tool loop, retry transient
failures, and report their outcomes through hooks and notifications.`,
	Version: version.Get(),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./nightshift.toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(versionCmd)
}
