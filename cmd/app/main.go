package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SignalFuse/internal/di"
	"SignalFuse/pkg/config"
	"SignalFuse/pkg/server"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "signalfuse",
		Short:         "SignalFuse - multi-signal trading decision engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the trading loop and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath)
		},
	})
	rootCmd.AddCommand(newJobCmd(&configPath, "evaluate", "Label recent decisions and store a performance report"))
	rootCmd.AddCommand(newJobCmd(&configPath, "estimate-weights", "Fit signal weights from labelled decisions"))
	rootCmd.AddCommand(newJobCmd(&configPath, "train-rl", "Replay closed trades through the Q-learner"))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres migrations and the ClickHouse candle schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithEnv(configPath)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			return di.Migrate(cfg)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithEnv(configPath)
			if err != nil {
				return err
			}
			cfg.Binance.APIKey, cfg.Binance.SecretKey = redact(cfg.Binance.APIKey), redact(cfg.Binance.SecretKey)
			cfg.Advisor.APIKey, cfg.Telegram.Token = redact(cfg.Advisor.APIKey), redact(cfg.Telegram.Token)
			cfg.Postgres.DSN, cfg.Redis.Password = redact(cfg.Postgres.DSN), redact(cfg.Redis.Password)
			return printJSON(cmd, cfg)
		},
	})
	return rootCmd
}

func newJobCmd(configPath *string, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			defer func() { _ = app.Close() }()

			res, err := app.RunJob(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return printJSON(cmd, res)
		},
	}
}

func runServer(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := initApp(configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	app.Logger.Info(fmt.Sprintf("signalfuse starting env=%s symbols=%v dry_run=%t",
		app.Config.Environment, app.Config.Trading.Symbols, app.Config.Binance.DryRun))

	// Run blocks until a signal arrives or the HTTP server fails.
	return app.Run(ctx)
}

func initApp(configPath string) (*server.App, func(), error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load failed: %w", err)
	}
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("app initialization failed: %w", err)
	}
	return app, cleanup, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
