// Package main provides the fusionrag binary: an MCP server and CLI for the
// retrieval-fusion pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/fusionrag/internal/config"
	"github.com/dshills/fusionrag/internal/logging"
	"github.com/dshills/fusionrag/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const appName = "fusionrag"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Retrieval-fusion context engine",
		Long: `fusionrag answers questions from an organisation's documents, public
records, conversation history and optionally the web. Retrieved context is
fused under a token budget, checked against a privacy deny-list and delivered
to the LLM with adaptive backoff when the provider rate limits.

Run "fusionrag serve" to expose the pipeline as an MCP server on stdio.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML); defaults to $"+config.EnvConfigPath)
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(flags),
		queryCmd(flags),
		ingestCmd(flags),
		consentCmd(flags),
		statusCmd(flags),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s version %s (build: %s)\n", appName, version, buildTime)
			_, _ = fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			_, _ = fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}

// setup loads configuration and builds the logger and app for a command
func setup(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath, nil)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	log, err := logging.New(logging.Options{
		Mode:      cfg.Log.Mode,
		Level:     cfg.Log.Level,
		Redaction: cfg.Log.Redaction,
		HashSalt:  cfg.Log.HashSalt,
	})
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, log)
}

// withApp runs fn against a fully wired app and always releases it
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := setup(ctx, flags)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	runErr := fn(ctx, a)
	if err := a.close(ctx); err != nil {
		a.log.Warn("shutdown incomplete", "error", err)
	}
	return runErr
}
