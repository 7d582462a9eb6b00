package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nightshift-run/nightshift/internal/approval"
	"github.com/nightshift-run/nightshift/internal/background"
	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/schedule"
	"github.com/nightshift-run/nightshift/internal/service"
	"github.com/nightshift-run/nightshift/internal/store"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage background agents",
}

var (
	createName     string
	createDesc     string
	createAgentID  string
	createInput    string
	createTemplate string
	createAt       string
	createEvery    time.Duration
	createCron     string
	createTZ       string
	createMode     string
	createBinary   string
	createArgs     []string
)

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a background agent",
	Long: `Create a background agent with one of three schedules:
  --at      run once at an RFC3339 time
  --every   run repeatedly at a fixed interval
  --cron    run on a cron expression (5 or 6 fields), with optional --tz`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := buildSchedule()
		if err != nil {
			return err
		}

		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		params := service.CreateParams{
			Name:          createName,
			Description:   createDesc,
			AgentID:       createAgentID,
			Input:         createInput,
			InputTemplate: createTemplate,
			Schedule:      sched,
		}
		if createMode == "cli" {
			params.Mode = background.ModeCLI
			params.CLI = &background.CLIConfig{Binary: createBinary, Args: createArgs}
		}

		a, err := svc.CreateAgent(params)
		if err != nil {
			return err
		}
		color.Green("created agent %s", a.ID)
		printAgent(a)
		return nil
	},
}

var listStatus string

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List background agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		agents, err := svc.ListAgents(background.Status(listStatus))
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			fmt.Println("no agents")
			return nil
		}
		for _, a := range agents {
			fmt.Printf("%s  %-24s %-12s next=%s ok=%d fail=%d\n",
				a.ID, a.Name, statusColor(a.Status), formatMillis(a.NextRunAt),
				a.SuccessCount, a.FailureCount)
		}
		return nil
	},
}

var (
	updateName     string
	updateDesc     string
	updateInput    string
	updateTemplate string
)

var agentUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update an agent's configuration",
	Long: `Update an agent in place. Only the flags you pass are changed; passing
one of --at, --every, --cron replaces the schedule and recomputes the
next run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		var p service.UpdateParams
		if cmd.Flags().Changed("name") {
			p.Name = &updateName
		}
		if cmd.Flags().Changed("description") {
			p.Description = &updateDesc
		}
		if cmd.Flags().Changed("input") {
			p.Input = &updateInput
		}
		if cmd.Flags().Changed("template") {
			p.InputTemplate = &updateTemplate
		}
		if createAt != "" || createEvery > 0 || createCron != "" {
			sched, err := buildSchedule()
			if err != nil {
				return err
			}
			p.Schedule = &sched
		}

		a, err := svc.UpdateAgent(args[0], p)
		if err != nil {
			return err
		}
		color.Green("updated agent %s", a.ID)
		printAgent(a)
		return nil
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one agent and its recent runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		a, err := svc.GetAgent(args[0])
		if err != nil {
			return err
		}
		printAgent(a)

		events, err := svc.Progress(a.ID, 10)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			fmt.Println("\nrecent events:")
			for _, e := range events {
				line := fmt.Sprintf("  %s  %s", formatMillis(e.CreatedAt), e.Type)
				if e.Error != "" {
					line += "  " + e.Error
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

func controlCommand(use, short string, action service.ControlAction) *cobra.Command {
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

			if err := svc.Control(args[0], action); err != nil {
				return err
			}
			color.Green("%s: ok", use)
			return nil
		},
	}
}

var agentDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an agent and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := svc.DeleteAgent(args[0]); err != nil {
			return err
		}
		color.Green("deleted")
		return nil
	},
}

var agentMessageCmd = &cobra.Command{
	Use:   "message <id> <text>",
	Short: "Queue a message for the agent's next run",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		m, err := svc.SendMessage(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		color.Green("queued message %s", m.ID)
		return nil
	},
}

func init() {
	agentCreateCmd.Flags().StringVar(&createName, "name", "", "agent name (required)")
	agentCreateCmd.Flags().StringVar(&createDesc, "description", "", "agent description")
	agentCreateCmd.Flags().StringVar(&createAgentID, "agent", "default", "base agent id")
	agentCreateCmd.Flags().StringVar(&createInput, "input", "", "task input (required)")
	agentCreateCmd.Flags().StringVar(&createTemplate, "template", "", "input template with {{input}}, {{now}}, {{date}}")
	agentCreateCmd.Flags().StringVar(&createAt, "at", "", "one-shot run time, RFC3339")
	agentCreateCmd.Flags().DurationVar(&createEvery, "every", 0, "interval between runs")
	agentCreateCmd.Flags().StringVar(&createCron, "cron", "", "cron expression")
	agentCreateCmd.Flags().StringVar(&createTZ, "tz", "", "timezone for --cron (default UTC)")
	agentCreateCmd.Flags().StringVar(&createMode, "mode", "api", "execution mode: api or cli")
	agentCreateCmd.Flags().StringVar(&createBinary, "binary", "", "binary for cli mode")
	agentCreateCmd.Flags().StringSliceVar(&createArgs, "arg", nil, "argument for cli mode (repeatable)")

	agentUpdateCmd.Flags().StringVar(&updateName, "name", "", "new agent name")
	agentUpdateCmd.Flags().StringVar(&updateDesc, "description", "", "new description")
	agentUpdateCmd.Flags().StringVar(&updateInput, "input", "", "new task input")
	agentUpdateCmd.Flags().StringVar(&updateTemplate, "template", "", "new input template")
	agentUpdateCmd.Flags().StringVar(&createAt, "at", "", "new one-shot run time, RFC3339")
	agentUpdateCmd.Flags().DurationVar(&createEvery, "every", 0, "new interval between runs")
	agentUpdateCmd.Flags().StringVar(&createCron, "cron", "", "new cron expression")
	agentUpdateCmd.Flags().StringVar(&createTZ, "tz", "", "timezone for --cron (default UTC)")

	agentListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (active, paused, running, ...)")

	agentCmd.AddCommand(agentCreateCmd)
	agentCmd.AddCommand(agentUpdateCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentShowCmd)
	agentCmd.AddCommand(agentDeleteCmd)
	agentCmd.AddCommand(agentMessageCmd)
	agentCmd.AddCommand(controlCommand("start", "Re-arm an interrupted or paused agent", service.ControlStart))
	agentCmd.AddCommand(controlCommand("pause", "Pause an agent's schedule", service.ControlPause))
	agentCmd.AddCommand(controlCommand("resume", "Resume a paused agent", service.ControlResume))
	agentCmd.AddCommand(controlCommand("run", "Run an agent now", service.ControlRunNow))
}

func buildSchedule() (schedule.Schedule, error) {
	set := 0
	if createAt != "" {
		set++
	}
	if createEvery > 0 {
		set++
	}
	if createCron != "" {
		set++
	}
	if set != 1 {
		return schedule.Schedule{}, fmt.Errorf("exactly one of --at, --every, --cron is required")
	}

	switch {
	case createAt != "":
		at, err := time.Parse(time.RFC3339, createAt)
		if err != nil {
			return schedule.Schedule{}, fmt.Errorf("invalid --at: %w", err)
		}
		return schedule.Once(at.UnixMilli()), nil
	case createEvery > 0:
		return schedule.Interval(createEvery.Milliseconds()), nil
	default:
		return schedule.Cron(createCron, createTZ), nil
	}
}

// openService builds a service over the shared database. Commands that need
// the daemon (stop) report that through the offline runner.
func openService() (*service.Service, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	appr := approval.NewManager(0, log)
	return service.New(st, &offlineRunner{store: st}, appr, log), st, nil
}

// offlineRunner implements service.Runner against the shared database. The
// daemon polls the same store, so pulling next_run_at to the present is
// enough to trigger an immediate run.
type offlineRunner struct {
	store *store.Store
}

func (r *offlineRunner) RunNow(agentID string) error {
	a, err := r.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	if a.Status != background.StatusActive {
		if err := a.Rearm(now); err != nil {
			return err
		}
	}
	a.NextRunAt = now
	a.UpdatedAt = now
	return r.store.SaveAgent(a)
}

func (r *offlineRunner) CancelRun(agentID string) error {
	return fmt.Errorf("stopping a run requires the daemon (nightshift serve)")
}

func (r *offlineRunner) Running(string) bool { return false }
func (r *offlineRunner) Kick()               {}

func printAgent(a *background.Agent) {
	fmt.Printf("id:       %s\n", a.ID)
	fmt.Printf("name:     %s\n", a.Name)
	if a.Description != "" {
		fmt.Printf("desc:     %s\n", a.Description)
	}
	fmt.Printf("status:   %s\n", statusColor(a.Status))
	fmt.Printf("mode:     %s\n", a.Mode)
	fmt.Printf("schedule: %s\n", describeSchedule(a.Schedule))
	fmt.Printf("next run: %s\n", formatMillis(a.NextRunAt))
	fmt.Printf("last run: %s\n", formatMillis(a.LastRunAt))
	fmt.Printf("runs:     %d ok, %d failed\n", a.SuccessCount, a.FailureCount)
	if a.TotalTokensUsed > 0 {
		fmt.Printf("usage:    %d tokens, $%.4f\n", a.TotalTokensUsed, a.TotalCostUSD)
	}
	if a.LastError != "" {
		fmt.Printf("error:    %s\n", color.RedString(a.LastError))
	}
}

func describeSchedule(s schedule.Schedule) string {
	switch s.Type {
	case schedule.KindOnce:
		return "once at " + formatMillis(s.RunAt)
	case schedule.KindInterval:
		return "every " + (time.Duration(s.IntervalMs) * time.Millisecond).String()
	case schedule.KindCron:
		out := "cron " + s.Expression
		if s.Timezone != "" {
			out += " (" + s.Timezone + ")"
		}
		return out
	default:
		return string(s.Type)
	}
}

func statusColor(s background.Status) string {
	switch s {
	case background.StatusActive:
		return color.GreenString(string(s))
	case background.StatusRunning:
		return color.CyanString(string(s))
	case background.StatusFailed:
		return color.RedString(string(s))
	case background.StatusPaused, background.StatusInterrupted:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
