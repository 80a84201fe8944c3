package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

const titleIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS articles_keyword_title_uidx ON articles (keyword_id, normalized_title)`

var articleColumns = []string{
	"id", "source_id", "keyword_id", "title", "url", "normalized_url", "normalized_title",
	"summary", "content", "published_at", "collected_at", "native_score",
	"relevance_score", "is_relevant", "technical_score", "novelty_score", "impact_score",
	"quality_score", "ensemble_relevance_score", "llm_score", "final_score", "recommend_score",
	"summary_ja",
}

// PostgresRepository persists articles into Postgres.
type PostgresRepository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.ArticleRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Open connects to Postgres using the lib/pq driver.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the schema. titleUnique adds the per-keyword title constraint.
func (r *PostgresRepository) Migrate(ctx context.Context, titleUnique bool) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if !titleUnique {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, titleIndexSQL); err != nil {
		return fmt.Errorf("create title index: %w", err)
	}
	return nil
}

// ExistingKeys returns the normalized url/title sets already stored for a keyword.
func (r *PostgresRepository) ExistingKeys(ctx context.Context, keywordID int64) (ports.DedupIndex, error) {
	query, args, err := r.builder.
		Select("normalized_url", "normalized_title").
		From("articles").
		Where(sq.Eq{"keyword_id": keywordID}).
		ToSql()
	if err != nil {
		return ports.DedupIndex{}, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ports.DedupIndex{}, fmt.Errorf("query existing keys: %w", err)
	}
	defer rows.Close()

	index := ports.DedupIndex{URLs: map[string]struct{}{}, Titles: map[string]struct{}{}}
	for rows.Next() {
		var normURL, normTitle string
		if err := rows.Scan(&normURL, &normTitle); err != nil {
			return ports.DedupIndex{}, fmt.Errorf("scan keys: %w", err)
		}
		index.URLs[normURL] = struct{}{}
		index.Titles[normTitle] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return ports.DedupIndex{}, fmt.Errorf("rows iteration: %w", err)
	}

	return index, nil
}

// InsertArticles inserts all rows in one statement; conflicting rows are skipped.
func (r *PostgresRepository) InsertArticles(ctx context.Context, articles []domain.Article) ([]domain.Article, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	insert := r.builder.Insert("articles").Columns(articleColumns...)
	for _, a := range articles {
		insert = insert.Values(articleValues(a)...)
	}
	query, args, err := insert.Suffix("ON CONFLICT DO NOTHING RETURNING id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert articles: %w", err)
	}
	defer rows.Close()

	insertedIDs := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		insertedIDs[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	inserted := make([]domain.Article, 0, len(insertedIDs))
	for _, a := range articles {
		if _, ok := insertedIDs[a.ID]; ok {
			inserted = append(inserted, a)
		}
	}
	return inserted, nil
}

// UpdateRelevance stores Stage 1 decisions in one transaction.
func (r *PostgresRepository) UpdateRelevance(ctx context.Context, results []domain.RelevanceResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	for _, res := range results {
		query, args, err := r.builder.Update("articles").
			Set("relevance_score", res.RelevanceScore).
			Set("is_relevant", res.IsRelevant).
			Where(sq.Eq{"id": res.ArticleID}).
			ToSql()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("build update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update relevance %s: %w", res.ArticleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit relevance: %w", err)
	}
	return nil
}

// UpdateQuality stores Stage 2 fields and the computed scores.
func (r *PostgresRepository) UpdateQuality(ctx context.Context, a domain.Article) error {
	query, args, err := r.builder.Update("articles").
		SetMap(map[string]any{
			"technical_score":          a.TechnicalScore,
			"novelty_score":            a.NoveltyScore,
			"impact_score":             a.ImpactScore,
			"quality_score":            a.QualityScore,
			"ensemble_relevance_score": a.EnsembleRelevanceScore,
			"llm_score":                a.LlmScore,
			"final_score":              a.FinalScore,
			"recommend_score":          a.RecommendScore,
			"summary_ja":               a.SummaryJa,
		}).
		Where(sq.Eq{"id": a.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update quality %s: %w", a.ID, err)
	}
	return nil
}

// ListRanked returns articles with a final score, best first.
func (r *PostgresRepository) ListRanked(ctx context.Context, keywordID int64, limit int) ([]domain.Article, error) {
	builder := r.builder.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"keyword_id": keywordID}).
		Where(sq.NotEq{"final_score": nil}).
		OrderBy("final_score DESC", "collected_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ranked: %w", err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func articleValues(a domain.Article) []any {
	var content sql.NullString
	if a.Content != "" {
		content = sql.NullString{String: a.Content, Valid: true}
	}
	return []any{
		a.ID, a.SourceID, a.KeywordID, a.Title, a.URL, a.NormalizedURL, a.NormalizedTitle,
		a.Summary, content, a.PublishedAt, a.CollectedAt, a.NativeScore,
		a.RelevanceScore, a.IsRelevant, a.TechnicalScore, a.NoveltyScore, a.ImpactScore,
		a.QualityScore, a.EnsembleRelevanceScore, a.LlmScore, a.FinalScore, a.RecommendScore,
		a.SummaryJa,
	}
}

func scanArticle(rows *sql.Rows) (domain.Article, error) {
	var (
		a           domain.Article
		content     sql.NullString
		publishedAt sql.NullTime
		isRelevant  sql.NullBool
		floats      [10]sql.NullFloat64
	)

	err := rows.Scan(
		&a.ID, &a.SourceID, &a.KeywordID, &a.Title, &a.URL, &a.NormalizedURL, &a.NormalizedTitle,
		&a.Summary, &content, &publishedAt, &a.CollectedAt, &floats[0],
		&floats[1], &isRelevant, &floats[2], &floats[3], &floats[4],
		&floats[5], &floats[6], &floats[7], &floats[8], &floats[9],
		&a.SummaryJa,
	)
	if err != nil {
		return domain.Article{}, fmt.Errorf("scan article: %w", err)
	}

	a.Content = content.String
	if publishedAt.Valid {
		t := publishedAt.Time
		a.PublishedAt = &t
	}
	if isRelevant.Valid {
		a.IsRelevant = domain.Bool(isRelevant.Bool)
	}
	targets := []**float64{
		&a.NativeScore, &a.RelevanceScore, &a.TechnicalScore, &a.NoveltyScore, &a.ImpactScore,
		&a.QualityScore, &a.EnsembleRelevanceScore, &a.LlmScore, &a.FinalScore, &a.RecommendScore,
	}
	for i, f := range floats {
		if f.Valid {
			*targets[i] = domain.Float64(f.Float64)
		}
	}
	return a, nil
}
