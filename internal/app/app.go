package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"ArticlesRanker/internal/config"
	"ArticlesRanker/internal/dedup"
	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/evaluation"
	"ArticlesRanker/internal/httpapi"
	"ArticlesRanker/internal/infrastructure/llm"
	"ArticlesRanker/internal/infrastructure/parser"
	"ArticlesRanker/internal/infrastructure/scheduler"
	"ArticlesRanker/internal/infrastructure/storage"
	"ArticlesRanker/internal/infrastructure/stream"
	"ArticlesRanker/internal/infrastructure/telegram"
	"ArticlesRanker/internal/logging"
	"ArticlesRanker/internal/metrics"
	"ArticlesRanker/internal/ports"
	"ArticlesRanker/internal/scanner"
	"ArticlesRanker/internal/scoring"
	"ArticlesRanker/internal/sink"
	"ArticlesRanker/internal/status"
	"ArticlesRanker/internal/usecase"
)

// ErrNoDatabase is returned by Migrate when no DSN is configured.
var ErrNoDatabase = errors.New("database.dsn is not configured")

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db        *sql.DB
	postgres  *storage.PostgresRepository
	articles  ports.ArticleRepository
	catalog   *storage.Catalog
	statuses  *status.Store
	broker    *stream.Broker
	metrics   *metrics.Sink
	collector *usecase.Collector
	queue     *usecase.Queue
	scheduler *usecase.Scheduler
}

// New validates cfg and builds every component. Without a DSN articles are
// kept in memory.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &Application{cfg: cfg, logger: baseLogger}

	mode, _ := dedup.ParseMode(cfg.Collection.DedupMode)
	titleUnique := mode == dedup.ModeURLAndTitle
	if cfg.Database.DSN != "" {
		db, err := storage.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.postgres = storage.NewPostgresRepository(db)
		a.articles = a.postgres
	} else {
		baseLogger.Warn("no database configured, articles are kept in memory")
		a.articles = storage.NewMemoryRepository(titleUnique)
	}

	keywords, restrictions := cfg.DomainKeywords()
	a.catalog = storage.NewCatalog(keywords, cfg.DomainSources(), restrictions)

	client, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}

	registry := scanner.NewRegistry()
	registry.Register(parser.NewHackerNewsAdapter(nil))
	registry.Register(parser.NewFeedAdapter(nil))
	registry.Register(parser.NewHTMLAdapter(nil))
	baseLogger.Debug("source adapters registered", "adapters", registry.Names())

	preset, _ := evaluation.ParseFilteringPreset(cfg.Evaluation.Relevance.Preset)
	relevance := evaluation.NewRelevanceFilter(client, evaluation.RelevanceConfig{
		Model:     cfg.Evaluation.Relevance.Model,
		Preset:    preset,
		BatchSize: cfg.Evaluation.Relevance.BatchSize,
	}, baseLogger.With("component", "evaluation.relevance"))

	quality := evaluation.NewQualityEvaluator(client, evaluation.QualityConfig{
		Model:     cfg.Evaluation.Quality.Model,
		BatchSize: cfg.Evaluation.Quality.BatchSize,
	}, ensembleConfig(cfg.Evaluation), baseLogger.With("component", "evaluation.quality"))

	scoringPreset, _ := scoring.ParsePreset(cfg.Scoring.Preset)
	calculator := scoring.NewCalculator(scoringPreset, normalizations(cfg.Scoring))

	a.statuses = status.NewStore()
	a.broker = stream.NewBroker(baseLogger.With("component", "stream"), 0, 0)
	a.metrics = metrics.NewSink(prometheus.NewRegistry())
	progress := sink.NewFanout(
		status.NewProjector(a.statuses, cfg.Collection.PreviewLimit, baseLogger.With("component", "status")),
		a.broker,
		a.metrics,
	)

	var notifier ports.Notifier
	if tg := telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID); tg.Configured() {
		notifier = tg
	}

	a.collector = usecase.NewCollector(usecase.CollectorDeps{
		Keywords:     a.catalog,
		Sources:      a.catalog,
		Fetcher:      scanner.NewFetcher(registry, cfg.Collection.FetchRPS, cfg.Collection.FetchRetryDelay),
		Dedup:        dedup.NewGate(a.articles, mode, baseLogger.With("component", "dedup")),
		Articles:     a.articles,
		Relevance:    relevance,
		Quality:      quality,
		Scorer:       calculator,
		Sink:         progress,
		Notifier:     notifier,
		Logger:       baseLogger.With("component", "collector"),
		Lookback:     cfg.Collection.Lookback,
		DigestSize:   cfg.Collection.DigestSize,
		MaxPerSource: cfg.Collection.MaxArticlesPerSource,
	})

	a.queue = usecase.NewQueue(cfg.Collection.QueueSize, a.statuses, a.collector, baseLogger.With("component", "queue"))
	a.queue.OnDepthChange(a.metrics.SetQueueDepth)

	if cfg.Scheduler.Enabled {
		driver := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location())
		if err := driver.Validate(); err != nil {
			return nil, err
		}
		a.scheduler = usecase.NewScheduler(driver, a.catalog, a.queue, baseLogger.With("component", "scheduler"))
	}

	return a, nil
}

func ensembleConfig(cfg config.EvaluationConfig) *evaluation.EnsembleConfig {
	if !cfg.Ensemble.Enabled {
		return nil
	}
	judges := make([]evaluation.JudgeConfig, 0, len(cfg.Ensemble.Judges))
	for _, j := range cfg.Ensemble.Judges {
		judges = append(judges, evaluation.JudgeConfig{Name: j.Name, Model: j.Model, Weight: j.Weight, Focus: j.Focus})
	}
	return &evaluation.EnsembleConfig{
		Judges:      judges,
		JudgeCount:  cfg.Ensemble.JudgeCount,
		MetaModel:   cfg.Ensemble.MetaModel,
		Tolerance:   cfg.Ensemble.Tolerance,
		Concurrency: cfg.Ensemble.Concurrency,
	}
}

func normalizations(cfg config.ScoringConfig) map[string]scoring.Normalization {
	out := make(map[string]scoring.Normalization, len(cfg.Normalization))
	for name, n := range cfg.Normalization {
		curve := scoring.Curve(strings.ToLower(strings.TrimSpace(n.Curve)))
		out[name] = scoring.Normalization{Cap: n.Cap, Curve: curve}
	}
	return out
}

// Migrate applies the Postgres schema.
func (a *Application) Migrate(ctx context.Context) error {
	if a.postgres == nil {
		return ErrNoDatabase
	}
	mode, _ := dedup.ParseMode(a.cfg.Collection.DedupMode)
	return a.postgres.Migrate(ctx, mode == dedup.ModeURLAndTitle)
}

// Serve runs the queue consumer, the scheduler and the HTTP API until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	if a.postgres != nil {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}

	server := httpapi.NewServer(a.cfg.HTTP.Addr, httpapi.Deps{
		Queue:    a.queue,
		Statuses: a.statuses,
		Keywords: a.catalog,
		Articles: a.articles,
		Events:   a.broker,
		Metrics:  a.metrics.Handler(),
		Logger:   a.logger.With("component", "http"),
	})

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		a.logger.Info("scheduler started", "cron", a.cfg.Scheduler.CronExpression)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.queue.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx, a.cfg.HTTP.ShutdownTimeout)
	})

	err := g.Wait()
	if a.scheduler != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = a.scheduler.Stop(stopCtx)
	}
	a.queue.Close()
	a.broker.Close()
	return err
}

// CollectOnce runs one keyword synchronously, bypassing the queue, and
// returns the final status.
func (a *Application) CollectOnce(ctx context.Context, keywordID int64, maxPerSource int) (domain.CollectionStatus, error) {
	if a.postgres != nil {
		if err := a.Migrate(ctx); err != nil {
			return domain.CollectionStatus{}, err
		}
	}
	if _, err := a.statuses.Create(keywordID, time.Now()); err != nil {
		return domain.CollectionStatus{}, err
	}
	_, runErr := a.collector.Run(ctx, domain.CollectionJob{
		KeywordID: keywordID,
		QueuedAt:  time.Now(),
		Debug:     domain.DebugOptions{MaxArticlesPerSource: maxPerSource},
	})
	st, _ := a.statuses.Get(keywordID)
	return st, runErr
}

// RankedArticles returns the best scored articles of a keyword.
func (a *Application) RankedArticles(ctx context.Context, keywordID int64, limit int) ([]domain.Article, error) {
	return a.articles.ListRanked(ctx, keywordID, limit)
}

// Close releases the database connection.
func (a *Application) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
