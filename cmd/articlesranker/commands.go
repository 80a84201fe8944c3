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

	"github.com/spf13/cobra"

	"ArticlesRanker/internal/app"
	"ArticlesRanker/internal/config"
	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "articlesranker",
		Short:        "Collect, filter and rank articles per keyword",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config file (overrides "+config.ConfigPathEnv+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(newServeCmd(opts), newCollectCmd(opts), newMigrateCmd(opts))
	return root
}

// bootstrap loads configuration and builds the application.
func bootstrap(ctx context.Context, opts *rootOptions) (*app.Application, *slog.Logger, error) {
	if opts.configPath != "" {
		if err := os.Setenv(config.ConfigPathEnv, opts.configPath); err != nil {
			return nil, nil, err
		}
	}
	cfg := config.Load()
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return application, logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the job queue and the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			application, logger, err := bootstrap(ctx, opts)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.Serve(ctx); err != nil {
				logger.Error("application stopped", "error", err)
				return err
			}
			logger.Info("application stopped")
			return nil
		},
	}
}

func newCollectCmd(opts *rootOptions) *cobra.Command {
	var (
		keywordID    int64
		maxPerSource int
		top          int
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one keyword's collection synchronously and print the outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keywordID <= 0 {
				return fmt.Errorf("--keyword is required")
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			application, _, err := bootstrap(ctx, opts)
			if err != nil {
				return err
			}
			defer application.Close()

			st, runErr := application.CollectOnce(ctx, keywordID, maxPerSource)
			ranked, err := application.RankedArticles(context.WithoutCancel(ctx), keywordID, top)
			if err != nil {
				return err
			}
			if err := printReport(cmd.OutOrStdout(), st, ranked); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().Int64Var(&keywordID, "keyword", 0, "keyword id to collect")
	cmd.Flags().IntVar(&maxPerSource, "max-per-source", 0, "cap candidates per source (0 = no cap)")
	cmd.Flags().IntVar(&top, "top", 10, "number of ranked articles to print")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, logger, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}

type report struct {
	Status   domain.CollectionStatus `json:"status"`
	Articles []rankedArticle         `json:"ranked"`
}

type rankedArticle struct {
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	FinalScore *float64 `json:"finalScore"`
	LlmScore   *float64 `json:"llmScore,omitempty"`
}

func printReport(w io.Writer, st domain.CollectionStatus, ranked []domain.Article) error {
	out := report{Status: st, Articles: make([]rankedArticle, len(ranked))}
	for i, a := range ranked {
		out.Articles[i] = rankedArticle{Title: a.Title, URL: a.URL, FinalScore: a.FinalScore, LlmScore: a.LlmScore}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
