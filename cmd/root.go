// Package cmd implements the roadmate CLI using cobra.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roadmate/roadmate/internal/config"
	"github.com/roadmate/roadmate/internal/dependency"
)

const version = "0.1.0"
const logo = "🚗"

var (
	configPath string
	traceSpans bool
	ephemeral  bool
	logLevel   string

	appConfig     *config.Config
	traceShutdown func(context.Context) error
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "roadmate",
	Short: logo + " roadmate: in-car assistant with compiled context and session memory",
	Long: logo + " roadmate answers driver requests through planner and executor sub-agents,\n" +
		"compiling a fresh context for every model call and compacting sessions into summaries.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		if traceShutdown == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return traceShutdown(ctx)
	},
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.roadmate/config.json)")
	rootCmd.PersistentFlags().BoolVar(&traceSpans, "trace", false, "Print OpenTelemetry spans to stderr")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "Keep all state in memory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statusCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if ephemeral {
		cfg.Storage.Driver = "memory"
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	appConfig = cfg

	slog.SetDefault(slog.New(newLogHandler(cfg.Logging)))

	if traceSpans || cfg.Tracing.Enabled {
		shutdown, err := setupTracing(cfg.Tracing.Pretty)
		if err != nil {
			return err
		}
		traceShutdown = shutdown
	}
	return nil
}

func newLogHandler(lc config.LoggingConfig) slog.Handler {
	var w io.Writer = os.Stderr
	if lc.File != "" {
		w = &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
	}
	opts := &slog.HandlerOptions{Level: parseLevel(lc.Level)}
	if strings.EqualFold(lc.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func setupTracing(pretty bool) (func(context.Context) error, error) {
	var opts []stdouttrace.Option
	opts = append(opts, stdouttrace.WithWriter(os.Stderr))
	if pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exp, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// openContainer wires the services for commands that talk to the model or
// the stores.
func openContainer() (*dependency.Container, error) {
	return dependency.New(appConfig)
}

func userFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "user", "u", "", "User ID (default agents.defaults.userId)")
}

func resolveUser(u string) string {
	if u != "" {
		return u
	}
	return appConfig.Agents.Defaults.UserID
}
