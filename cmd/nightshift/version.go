package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nightshift-run/nightshift/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Nightshift - scheduled background AI agents")
		fmt.Printf("Version: %s\n", version.Get())
		fmt.Printf("Go Version: %s\n", runtime.Version())
	},
}
