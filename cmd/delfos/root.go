package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lina-go/backend-delfos-sub000/config"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/runner"
	"github.com/Lina-go/backend-delfos-sub000/telemetry"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "delfos",
		Short:         "Natural-language questions over the financial data warehouse",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommand(flags),
		newAskCommand(flags),
		newEvalCommand(flags),
		newMCPCommand(flags),
	)
	return cmd
}

// app is a started runner plus everything that must be torn down with it.
type app struct {
	cfg    *config.Config
	logger *logging.PipelineLogger
	runner *runner.Runner
	close  func()
}

// startApp loads configuration, installs tracing and builds the runner.
// Logs and spans go to stderr so stdout stays free for command output and
// the MCP protocol.
func startApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	logger := logging.NewLogger(&logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	shutdownTracer := telemetry.Disable()
	if cfg.Telemetry.Enabled {
		shutdownTracer, err = telemetry.InitTracer(cfg.Telemetry.ServiceName, logger.Slog(), func(o *telemetry.Options) {
			o.Writer = os.Stderr
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	r, err := runner.New(ctx, cfg, func(o *runner.Options) { o.Logger = logger })
	if err != nil {
		_ = shutdownTracer(context.Background())
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		runner: r,
		close: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := errors.Join(r.Close(shutdownCtx), shutdownTracer(shutdownCtx)); err != nil {
				logger.Error("Shutdown finished with errors", "error", err)
			}
		},
	}, nil
}
