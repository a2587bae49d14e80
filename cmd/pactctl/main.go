// Command pactctl runs PACT conformance tests and inspects stored runs from a terminal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/wbcsd/pact-conformance-test-service/internal/config"
	"github.com/wbcsd/pact-conformance-test-service/internal/repository"
	"github.com/wbcsd/pact-conformance-test-service/internal/schema"
	"github.com/wbcsd/pact-conformance-test-service/internal/service"
	"github.com/wbcsd/pact-conformance-test-service/internal/target"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	flagConfig string
	flagJSON   bool
)

var rootCmd = &cobra.Command{
	Use:           "pactctl",
	Short:         "PACT API conformance test client",
	Long:          "pactctl runs the PACT conformance catalog against a target system and reads stored results.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultConfig := os.Getenv("CONFIG_FILE")
	if defaultConfig == "" {
		defaultConfig = "config.toml"
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfig, "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output JSON")

	rootCmd.AddCommand(runCmd, resultsCmd, runsCmd, versionCmd)
}

// app wires the services a command needs against the configured store.
type app struct {
	cfg     *config.Config
	runs    service.RunService
	results service.ResultsService
	close   func()
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger()

	repo, closeRepo, err := repository.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Type, err)
	}
	registry, err := schema.NewRegistry()
	if err != nil {
		closeRepo()
		return nil, err
	}

	executor := testcase.NewExecutor(registry, testcase.WithTimeout(cfg.Harness.ProbeTimeout()), testcase.WithLogger(logger))
	client := target.NewClient(&http.Client{Timeout: cfg.Harness.ProbeTimeout()}, logger)
	opts := service.Options{Logger: logger}
	return &app{
		cfg:     cfg,
		runs:    service.NewRunService(repo, executor, client, cfg.Harness.WebhookURL, opts),
		results: service.NewResultsService(repo, cfg.Harness.RecentRunsLimit),
		close:   closeRepo,
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
