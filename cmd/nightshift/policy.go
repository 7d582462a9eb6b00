package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nightshift-run/nightshift/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the command policy",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <command>",
	Short: "Evaluate a command against the active policy",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pol, err := activePolicy()
		if err != nil {
			return err
		}

		command := args[0]
		for _, extra := range args[1:] {
			command += " " + extra
		}

		d := pol.Evaluate(command)
		switch d.Action {
		case policy.Allowed:
			color.Green("allowed")
		case policy.RequiresApproval:
			color.Yellow("requires approval")
		case policy.Blocked:
			color.Red("blocked")
		}
		if d.Pattern != "" {
			fmt.Printf("pattern: %s\n", d.Pattern)
		}
		if d.Reason != "" {
			fmt.Printf("reason:  %s\n", d.Reason)
		}
		return nil
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		pol, err := activePolicy()
		if err != nil {
			return err
		}

		fmt.Printf("default action:   %s\n", pol.DefaultAction)
		fmt.Printf("approval timeout: %s\n", pol.ApprovalTimeout.AsDuration())
		printPatterns("blocklist", pol.Blocklist)
		printPatterns("approval", pol.ApprovalList)
		printPatterns("allowlist", pol.Allowlist)
		return nil
	},
}

func activePolicy() (*policy.Policy, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Policy.Path == "" {
		return policy.Default(), nil
	}
	return policy.LoadFile(cfg.Policy.Path)
}

func printPatterns(name string, patterns []string) {
	if len(patterns) == 0 {
		return
	}
	fmt.Printf("%s:\n", name)
	for _, p := range patterns {
		fmt.Printf("  %s\n", p)
	}
}

func init() {
	policyCmd.AddCommand(policyCheckCmd)
	policyCmd.AddCommand(policyShowCmd)
}
