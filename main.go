package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "contractrisk"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Legal document risk analysis",
		Long: `contractrisk extracts text from contracts, terms of service and other
legal documents, asks an LLM to flag risky clauses and stores the scored
analysis.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze one .txt or .pdf file and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return analyzeFile(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	slog.Info("configuration loaded successfully",
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"store_backend", cfg.Store.Backend,
	)
	return cfg, nil
}

// app holds the wired components shared by serve and analyze
type app struct {
	store    service.AnalysisStore
	pipeline *service.Pipeline
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(registry)

	store, err := service.NewStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	client, err := service.NewLLMClient(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}

	pipeline := service.NewPipeline(client, store,
		service.WithLimits(cfg.Analysis.MaxPromptChars, cfg.Analysis.MaxClauses),
		service.WithGeneration(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		service.WithOmitFullText(cfg.Analysis.OmitFullText),
		service.WithMetrics(metrics),
	)

	return &app{store: store, pipeline: pipeline, registry: registry}, nil
}

func (a *app) close() {
	if closer, ok := a.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}
}

func analyzeFile(ctx context.Context, cfg *config.Config, path string, out io.Writer) error {
	// checked before the file is opened
	if _, err := service.DetectFormat(path); err != nil {
		return err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	analysis, err := a.pipeline.Analyze(ctx, content, path)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(analysis)
}
