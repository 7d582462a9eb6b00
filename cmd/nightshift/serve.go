package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nightshift-run/nightshift/internal/approval"
	"github.com/nightshift-run/nightshift/internal/config"
	"github.com/nightshift-run/nightshift/internal/events"
	"github.com/nightshift-run/nightshift/internal/executor"
	"github.com/nightshift-run/nightshift/internal/hooks"
	"github.com/nightshift-run/nightshift/internal/llm"
	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/metrics"
	"github.com/nightshift-run/nightshift/internal/notify"
	"github.com/nightshift-run/nightshift/internal/policy"
	"github.com/nightshift-run/nightshift/internal/retry"
	"github.com/nightshift-run/nightshift/internal/sandbox"
	"github.com/nightshift-run/nightshift/internal/scheduler"
	"github.com/nightshift-run/nightshift/internal/secrets"
	"github.com/nightshift-run/nightshift/internal/store"
	"github.com/nightshift-run/nightshift/internal/version"
	"github.com/nightshift-run/nightshift/internal/workers"
)

var serveLogLevel string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the nightshift daemon",
	Long: `Start the scheduler daemon. It recovers any runs interrupted by a
previous shutdown, then polls for due agents and executes them.`,
	RunE: serveHandler,
}

func init() {
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "override the configured log level")
}

func serveHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		color.Red("failed to load configuration: %v", err)
		return err
	}
	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var (
		pol     policy.Evaluator = policy.Default()
		timeout                  = policy.DefaultApprovalTimeout
	)
	if cfg.Policy.Path != "" {
		fe, err := policy.NewFileEvaluator(cfg.Policy.Path)
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		pol = fe
		timeout = fe.Policy().ApprovalTimeout.AsDuration()
	}

	sec := secrets.NewStore()
	loadSecretsFromEnv(sec, log)

	var limiter *llm.TokenBucketRateLimiter
	if cfg.Provider.RequestsPerMinute > 0 {
		limiter = llm.NewTokenBucketRateLimiter(cfg.Provider.RequestsPerMinute, time.Minute, cfg.Provider.RequestsPerMinute)
	}
	provider, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL:            cfg.Provider.BaseURL,
		APIKey:             cfg.Provider.APIKey,
		Model:              cfg.Provider.Model,
		CostPerInputToken:  cfg.Provider.CostPerInputToken,
		CostPerOutputToken: cfg.Provider.CostPerOutputToken,
	}, limiter)
	if err != nil {
		return fmt.Errorf("configure provider: %w", err)
	}

	bus := events.NewBus(256, log)
	bus.Start()
	defer bus.Stop()

	m := metrics.New()
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server", err)
			}
		}()
		log.Info("metrics listening", logger.Field{Key: "addr", Value: cfg.Metrics.Addr})
	}

	channels := notify.NewRegistry(log)
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramChannel(cfg.Telegram.Token, log)
		if err != nil {
			return fmt.Errorf("configure telegram: %w", err)
		}
		channels.Register(tg)
	}

	runner, err := buildRunner(cfg, log)
	if err != nil {
		return err
	}

	appr := approval.NewManager(timeout, log)
	exec := executor.New(
		executor.Config{
			Model:       cfg.Provider.Model,
			Temperature: cfg.Provider.Temperature,
			MaxTokens:   cfg.Provider.MaxTokens,
			RunTimeout:  time.Duration(cfg.Executor.RunTimeoutSec) * time.Second,
			MaxSteps:    cfg.Executor.MaxSteps,
			ToolTimeout: time.Duration(cfg.Executor.ToolTimeoutSec) * time.Second,
		},
		provider, st, bus, pol, appr, runner, sec, channels, m, log,
	)

	pool := workers.NewPool(cfg.Workers.PoolSize, cfg.Workers.QueueSize, log)
	engine := hooks.NewEngine(runner, channels, nil, m, log)

	sched := scheduler.New(
		scheduler.Config{
			TickInterval: time.Duration(cfg.Scheduler.TickIntervalMs) * time.Millisecond,
			Retry: retry.Config{
				MaxAttempts:  cfg.Scheduler.RetryMaxAttempts,
				InitialDelay: cfg.Scheduler.RetryInitialDelayDuration(),
				Multiplier:   cfg.Scheduler.RetryMultiplier,
			},
		},
		st, exec, pool, engine, channels, m, log,
	)
	engine.SetTaskRunner(sched)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	log.Info("nightshift started", logger.Field{Key: "version", Value: version.Get()})
	color.Green("nightshift %s serving", version.Get())

	<-ctx.Done()
	log.Info("shutting down")
	sched.Stop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvOptional("./.env"); err != nil {
		return nil, err
	}
	path := configPath
	if path == "" {
		path = "./nightshift.toml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default()
		}
	}
	return config.Load(path)
}

// loadSecretsFromEnv seeds the secret store from NIGHTSHIFT_SECRET_<NAME>
// variables, so `$NAME` references in commands resolve without the values
// ever landing in the agent store.
func loadSecretsFromEnv(sec *secrets.Store, log *logger.Logger) {
	const prefix = "NIGHTSHIFT_SECRET_"
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		name := strings.TrimPrefix(key, prefix)
		if err := sec.Set(name, value); err != nil {
			log.Warn("skipping secret", logger.Field{Key: "name", Value: name},
				logger.Field{Key: "error", Value: err.Error()})
			continue
		}
	}
}

func buildRunner(cfg *config.Config, log *logger.Logger) (sandbox.Runner, error) {
	if cfg.Sandbox.Mode == "docker" {
		runner, err := sandbox.NewDockerRunner(sandbox.DockerConfig{Image: cfg.Sandbox.Image}, log)
		if err != nil {
			return nil, fmt.Errorf("configure docker sandbox: %w", err)
		}
		return runner, nil
	}
	return sandbox.NewLocalRunner(log), nil
}
