package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ArticlesRanker/internal/dedup"
	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/evaluation"
	"ArticlesRanker/internal/scoring"
)

// ConfigPathEnv names the YAML config file.
const ConfigPathEnv = "ARTICLES_RANKER_CONFIG"

const (
	defaultTimezone   = "UTC"
	databaseDSNEnv    = "DATABASE_DSN"
	llmAPIKeyEnv      = "LLM_API_KEY"
	llmProviderEnv    = "LLM_PROVIDER"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	httpAddrEnv       = "HTTP_ADDR"
	logLevelEnv       = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	HTTP          HTTPConfig         `yaml:"http"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	LLM           LLMConfig          `yaml:"llm"`
	Evaluation    EvaluationConfig   `yaml:"evaluation"`
	Scoring       ScoringConfig      `yaml:"scoring"`
	Collection    CollectionConfig   `yaml:"collection"`
	Notifications NotificationConfig `yaml:"notifications"`
	Sources       []SourceConfig     `yaml:"sources"`
	Keywords      []KeywordConfig    `yaml:"keywords"`
}

// LoggingConfig selects the slog level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN selects
// the in-memory repository.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// SchedulerConfig defines when collections are enqueued automatically.
type SchedulerConfig struct {
	Enabled        bool           `yaml:"enabled"`
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// LLMConfig defines how to contact the evaluation model provider.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	Endpoint          string        `yaml:"endpoint"`
	APIKey            string        `yaml:"apiKey"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

// EvaluationConfig groups Stage 1 and Stage 2 settings.
type EvaluationConfig struct {
	Relevance RelevanceConfig `yaml:"relevance"`
	Quality   QualityConfig   `yaml:"quality"`
	Ensemble  EnsembleConfig  `yaml:"ensemble"`
}

// RelevanceConfig tunes the Stage 1 filter.
type RelevanceConfig struct {
	Model     string `yaml:"model"`
	Preset    string `yaml:"preset"`
	BatchSize int    `yaml:"batchSize"`
}

// QualityConfig tunes single-judge Stage 2.
type QualityConfig struct {
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batchSize"`
}

// EnsembleConfig tunes ensemble Stage 2.
type EnsembleConfig struct {
	Enabled     bool          `yaml:"enabled"`
	JudgeCount  int           `yaml:"judgeCount"`
	Tolerance   float64       `yaml:"tolerance"`
	Concurrency int           `yaml:"concurrency"`
	MetaModel   string        `yaml:"metaModel"`
	Judges      []JudgeConfig `yaml:"judges"`
}

// JudgeConfig describes one ensemble judge.
type JudgeConfig struct {
	Name   string  `yaml:"name"`
	Model  string  `yaml:"model"`
	Weight float64 `yaml:"weight"`
	Focus  string  `yaml:"focus"`
}

// ScoringConfig selects the weight preset and native-score curves.
type ScoringConfig struct {
	Preset        string                         `yaml:"preset"`
	Normalization map[string]NormalizationConfig `yaml:"normalization"`
}

// NormalizationConfig overrides the curve for one source name.
type NormalizationConfig struct {
	Cap   float64 `yaml:"cap"`
	Curve string  `yaml:"curve"`
}

// CollectionConfig tunes the orchestrator and queue.
type CollectionConfig struct {
	Lookback             time.Duration `yaml:"lookback"`
	DedupMode            string        `yaml:"dedupMode"`
	QueueSize            int           `yaml:"queueSize"`
	PreviewLimit         int           `yaml:"previewLimit"`
	MaxArticlesPerSource int           `yaml:"maxArticlesPerSource"`
	FetchRPS             float64       `yaml:"fetchRps"`
	FetchRetryDelay      time.Duration `yaml:"fetchRetryDelay"`
	DigestSize           int           `yaml:"digestSize"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// SourceConfig is one upstream article provider.
type SourceConfig struct {
	ID                     int64             `yaml:"id"`
	Name                   string            `yaml:"name"`
	BaseURL                string            `yaml:"baseUrl"`
	SearchURLTemplate      string            `yaml:"searchUrlTemplate"`
	Kind                   string            `yaml:"kind"`
	HasNativeScore         bool              `yaml:"hasNativeScore"`
	HasServerSideFiltering bool              `yaml:"hasServerSideFiltering"`
	AuthorityWeight        float64           `yaml:"authorityWeight"`
	Options                map[string]string `yaml:"options"`
}

// KeywordConfig is one tracked topic. Empty Sources means every source.
type KeywordConfig struct {
	ID       int64    `yaml:"id"`
	Term     string   `yaml:"term"`
	Aliases  []string `yaml:"aliases"`
	Inactive bool     `yaml:"inactive"`
	Sources  []int64  `yaml:"sources"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
// Fields absent from the file keep their defaults.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(ConfigPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			slog.Warn("config: cannot read file, falling back to defaults", "path", path, "error", err)
		} else {
			fileCfg := defaultConfig()
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				slog.Warn("config: cannot parse file, falling back to defaults", "path", path, "error", err)
			} else {
				cfg = fileCfg
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultConfig().Sources
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(llmProviderEnv); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		slog.Warn("config: unknown timezone, reverting to default", "timezone", tz, "default", defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	if _, err := evaluation.ParseFilteringPreset(c.Evaluation.Relevance.Preset); err != nil {
		errs = append(errs, err)
	}
	if _, err := scoring.ParsePreset(c.Scoring.Preset); err != nil {
		errs = append(errs, err)
	}
	if _, err := dedup.ParseMode(c.Collection.DedupMode); err != nil {
		errs = append(errs, err)
	}
	if c.Evaluation.Relevance.BatchSize <= 0 {
		errs = append(errs, errors.New("evaluation.relevance.batchSize must be positive"))
	}
	if c.Evaluation.Quality.BatchSize <= 0 {
		errs = append(errs, errors.New("evaluation.quality.batchSize must be positive"))
	}
	if c.Collection.QueueSize <= 0 {
		errs = append(errs, errors.New("collection.queueSize must be positive"))
	}

	if e := c.Evaluation.Ensemble; e.Enabled {
		count := e.JudgeCount
		if count == 0 {
			count = len(e.Judges)
		}
		if count == 0 {
			count = len(evaluation.DefaultJudges(""))
		}
		if count < 2 {
			errs = append(errs, fmt.Errorf("evaluation.ensemble needs at least two judges, got %d", count))
		}
		if e.Tolerance < 0 {
			errs = append(errs, errors.New("evaluation.ensemble.tolerance must not be negative"))
		}
		for _, j := range e.Judges {
			if j.Weight <= 0 {
				errs = append(errs, fmt.Errorf("judge %q: weight must be positive", j.Name))
			}
		}
	}

	for name, n := range c.Scoring.Normalization {
		if n.Cap <= 0 {
			errs = append(errs, fmt.Errorf("scoring.normalization.%s: cap must be positive", name))
		}
		switch scoring.Curve(strings.ToLower(n.Curve)) {
		case "", scoring.CurveLog, scoring.CurveLinear:
		default:
			errs = append(errs, fmt.Errorf("scoring.normalization.%s: unknown curve %q", name, n.Curve))
		}
	}

	ids := make(map[int64]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		if _, dup := ids[s.ID]; dup {
			errs = append(errs, fmt.Errorf("source id %d is duplicated", s.ID))
		}
		ids[s.ID] = struct{}{}
		if s.AuthorityWeight <= 0 || s.AuthorityWeight > 1 {
			errs = append(errs, fmt.Errorf("source %q: authorityWeight must be in (0,1]", s.Name))
		}
	}
	for _, k := range c.Keywords {
		if strings.TrimSpace(k.Term) == "" {
			errs = append(errs, fmt.Errorf("keyword %d: term is required", k.ID))
		}
		for _, id := range k.Sources {
			if _, ok := ids[id]; !ok {
				errs = append(errs, fmt.Errorf("keyword %d references unknown source %d", k.ID, id))
			}
		}
	}

	return errors.Join(errs...)
}

// DomainSources converts the configured sources into domain records.
func (c Config) DomainSources() []domain.Source {
	out := make([]domain.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, domain.Source{
			ID:                     s.ID,
			Name:                   s.Name,
			BaseURL:                s.BaseURL,
			SearchURLTemplate:      s.SearchURLTemplate,
			Kind:                   domain.SourceKind(strings.ToLower(s.Kind)),
			HasNativeScore:         s.HasNativeScore,
			HasServerSideFiltering: s.HasServerSideFiltering,
			AuthorityWeight:        s.AuthorityWeight,
			Options:                s.Options,
		})
	}
	return out
}

// DomainKeywords converts the configured keywords and returns the
// keyword-to-source restrictions alongside.
func (c Config) DomainKeywords() ([]domain.Keyword, map[int64][]int64) {
	keywords := make([]domain.Keyword, 0, len(c.Keywords))
	restrictions := make(map[int64][]int64)
	for _, k := range c.Keywords {
		keywords = append(keywords, domain.Keyword{
			ID:       k.ID,
			Term:     k.Term,
			Aliases:  k.Aliases,
			IsActive: !k.Inactive,
		})
		if len(k.Sources) > 0 {
			restrictions[k.ID] = k.Sources
		}
	}
	return keywords, restrictions
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Database:  DatabaseConfig{DSN: ""},
		HTTP:      HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Scheduler: SchedulerConfig{CronExpression: "0 6 * * *", Timezone: defaultTimezone, location: tz},
		LLM: LLMConfig{
			Provider:          "openai",
			Endpoint:          "https://api.openai.com/v1/chat/completions",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Evaluation: EvaluationConfig{
			Relevance: RelevanceConfig{Model: "gpt-4o-mini", Preset: "normal", BatchSize: 10},
			Quality:   QualityConfig{Model: "gpt-4o", BatchSize: 5},
			Ensemble: EnsembleConfig{
				Enabled:    false,
				JudgeCount: 3,
				Tolerance:  evaluation.DefaultTolerance,
				MetaModel:  "gpt-4o",
			},
		},
		Scoring: ScoringConfig{Preset: string(scoring.PresetQualityFocused)},
		Collection: CollectionConfig{
			Lookback:        720 * time.Hour,
			DedupMode:       string(dedup.ModeURLAndTitle),
			QueueSize:       64,
			PreviewLimit:    20,
			FetchRPS:        1,
			FetchRetryDelay: 2 * time.Second,
			DigestSize:      5,
		},
		Sources: []SourceConfig{
			{
				ID:                     1,
				Name:                   "Hacker News",
				BaseURL:                "https://hn.algolia.com/api/v1",
				Kind:                   string(domain.SourceKindAPI),
				HasNativeScore:         true,
				HasServerSideFiltering: true,
				AuthorityWeight:        0.9,
			},
			{
				ID:                2,
				Name:              "Hatena Bookmark",
				BaseURL:           "https://b.hatena.ne.jp",
				SearchURLTemplate: "https://b.hatena.ne.jp/q/{keyword}?mode=rss&sort=recent",
				Kind:              string(domain.SourceKindFeed),
				HasNativeScore:    true,
				AuthorityWeight:   0.8,
			},
		},
	}
}
