package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cam3ron2/delivery-heatmap/internal/app"
	"github.com/cam3ron2/delivery-heatmap/internal/collect"
	"github.com/cam3ron2/delivery-heatmap/internal/config"
	"github.com/cam3ron2/delivery-heatmap/internal/telemetry"
)

func main() {
	rootCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(rootCtx)
	cancel()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "delivery-heatmap: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "delivery-heatmap",
		Short:         "Contribution and delivery analytics for GitLab groups and GitHub organizations.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config/local.yaml", "path to YAML config file")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newComputeCommand(opts))
	root.AddCommand(newMatchRosterCommand(opts))
	return root
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the heatmap API, metrics and health endpoints.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup(opts.configPath)
			if err != nil {
				return err
			}
			defer env.close()

			source, err := collect.NewSourceFromConfig(env.cfg)
			if err != nil {
				if !errors.Is(err, collect.ErrMissingCredential) {
					return fmt.Errorf("build source: %w", err)
				}
				env.logger.Warn("source credential missing; serving unready", zap.Error(err))
				source = nil
			}

			runtime := app.NewRuntime(env.cfg, source, env.logger)
			defer func() {
				_ = runtime.Close()
			}()
			return runtime.Serve(cmd.Context())
		},
	}
}

// cliEnv holds the loaded configuration and process-wide logging and tracing.
type cliEnv struct {
	cfg      *config.Config
	logger   *zap.Logger
	shutdown func()
}

func (e *cliEnv) close() {
	e.shutdown()
	if err := e.logger.Sync(); err != nil && !shouldIgnoreLoggerSyncError(err) {
		_, _ = fmt.Fprintf(os.Stderr, "delivery-heatmap: sync logger: %v\n", err)
	}
}

func setup(configPath string) (*cliEnv, error) {
	configFile, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = configFile.Close()
	}()

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(logLevel(cfg.Server.LogLevel))
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	telemetryRuntime, err := telemetry.Setup(telemetry.Config{
		Enabled:          cfg.Telemetry.OTELEnabled,
		ServiceName:      telemetry.ServiceName,
		TraceMode:        cfg.Telemetry.OTELTraceMode,
		TraceSampleRatio: cfg.Telemetry.OTELTraceSampleRatio,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	return &cliEnv{
		cfg:    cfg,
		logger: logger,
		shutdown: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetryRuntime.Shutdown(shutdownCtx)
		},
	}, nil
}

func logLevel(raw string) zapcore.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// shouldIgnoreLoggerSyncError reports errors returned when syncing a logger bound to a terminal.
func shouldIgnoreLoggerSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
