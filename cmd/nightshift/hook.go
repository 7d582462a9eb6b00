package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nightshift-run/nightshift/internal/hooks"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage lifecycle hooks",
}

var (
	hookName        string
	hookEvent       string
	hookAction      string
	hookURL         string
	hookHeaders     map[string]string
	hookCommand     string
	hookText        string
	hookChannel     string
	hookChatID      string
	hookTarget      string
	hookInput       string
	hookAgentFilter string
	hookNamePattern string
	hookSuccessOnly bool
)

var hookAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a hook",
	Long: `Add a hook that reacts to run lifecycle events. Actions:
  webhook       POST the run context to --url
  script        run --command through the sandbox
  send_message  deliver --text on a notification channel
  run_task      trigger another agent (--target), optionally with --input

Templates in --text, --command and --input may use {{event}}, {{task_id}},
{{task_name}}, {{agent_id}}, {{success}}, {{output}}, {{error}}, {{duration}}.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := hooks.New(hookName, hooks.Event(hookEvent), hooks.Action{
			Type:          hooks.ActionType(hookAction),
			URL:           hookURL,
			Headers:       hookHeaders,
			Command:       hookCommand,
			Text:          hookText,
			Channel:       hookChannel,
			ChatID:        hookChatID,
			TargetAgentID: hookTarget,
			Input:         hookInput,
		})
		h.Filter = hooks.Filter{
			TaskNamePattern: hookNamePattern,
			AgentID:         hookAgentFilter,
			SuccessOnly:     hookSuccessOnly,
		}

		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := svc.CreateHook(h); err != nil {
			return err
		}
		color.Green("created hook %s", h.ID)
		return nil
	},
}

var hookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		all, err := svc.ListHooks()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("no hooks")
			return nil
		}
		for _, h := range all {
			state := color.GreenString("enabled")
			if !h.Enabled {
				state = color.YellowString("disabled")
			}
			fmt.Printf("%s  %-24s on %-16s do %-12s %s\n",
				h.ID, h.Name, h.Event, h.Action.Type, state)
		}
		return nil
	},
}

func hookToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, st, err := openService()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := svc.SetHookEnabled(args[0], enabled); err != nil {
				return err
			}
			color.Green("%sd", use)
			return nil
		},
	}
}

var hookDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a hook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := svc.DeleteHook(args[0]); err != nil {
			return err
		}
		color.Green("deleted")
		return nil
	},
}

func init() {
	hookAddCmd.Flags().StringVar(&hookName, "name", "", "hook name (required)")
	hookAddCmd.Flags().StringVar(&hookEvent, "on", "task_completed", "event: task_started, task_completed, task_failed, task_cancelled")
	hookAddCmd.Flags().StringVar(&hookAction, "action", "", "action: webhook, script, send_message, run_task (required)")
	hookAddCmd.Flags().StringVar(&hookURL, "url", "", "webhook URL")
	hookAddCmd.Flags().StringToStringVar(&hookHeaders, "header", nil, "webhook header K=V (repeatable)")
	hookAddCmd.Flags().StringVar(&hookCommand, "command", "", "script command")
	hookAddCmd.Flags().StringVar(&hookText, "text", "", "message text")
	hookAddCmd.Flags().StringVar(&hookChannel, "channel", "", "notification channel")
	hookAddCmd.Flags().StringVar(&hookChatID, "chat", "", "notification chat id")
	hookAddCmd.Flags().StringVar(&hookTarget, "target", "", "agent to trigger for run_task")
	hookAddCmd.Flags().StringVar(&hookInput, "input", "", "input for the triggered agent")
	hookAddCmd.Flags().StringVar(&hookAgentFilter, "agent", "", "only fire for this agent id")
	hookAddCmd.Flags().StringVar(&hookNamePattern, "name-pattern", "", "only fire for agents whose name matches this glob")
	hookAddCmd.Flags().BoolVar(&hookSuccessOnly, "success-only", false, "only fire for successful runs")

	hookCmd.AddCommand(hookAddCmd)
	hookCmd.AddCommand(hookListCmd)
	hookCmd.AddCommand(hookDeleteCmd)
	hookCmd.AddCommand(hookToggleCmd("enable", "Enable a hook", true))
	hookCmd.AddCommand(hookToggleCmd("disable", "Disable a hook", false))
}
