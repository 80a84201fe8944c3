package status

import (
	"context"
	"log/slog"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

const defaultPreviewLimit = 20

// Projector applies progress events to the Store synchronously, so a
// keyword's status always reflects events in emission order.
type Projector struct {
	store        *Store
	previewLimit int
	logger       *slog.Logger
}

var _ ports.ProgressSink = (*Projector)(nil)

// NewProjector wires a projector; previewLimit caps every preview list.
func NewProjector(store *Store, previewLimit int, logger *slog.Logger) *Projector {
	if previewLimit <= 0 {
		previewLimit = defaultPreviewLimit
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Projector{store: store, previewLimit: previewLimit, logger: logger}
}

// Publish applies the event.
func (p *Projector) Publish(_ context.Context, event domain.Event) error {
	p.store.Update(event.KeywordID, event.At, func(st *domain.CollectionStatus) {
		p.apply(st, event)
	})
	return nil
}

func (p *Projector) apply(st *domain.CollectionStatus, ev domain.Event) {
	if !ev.At.IsZero() {
		st.UpdatedAt = ev.At
	}

	switch ev.Type {
	case domain.EventPhaseChanged:
		st.Phase = ev.Phase
		if ev.Phase.Running() {
			if st.StartedAt == nil {
				at := ev.At
				st.StartedAt = &at
			}
			st.CurrentSource = ev.SourceName
			st.CurrentSourceIndex = ev.SourceIndex
			st.TotalSources = ev.TotalSources
		}

	case domain.EventArticlesFetched:
		st.ArticlesCollected += len(ev.Articles)
		st.FetchedPreview = p.appendCapped(st.FetchedPreview, ev.Articles)

	case domain.EventArticlesPassedFilter:
		st.ArticlesPassed += len(ev.Articles)
		st.ArticlesRejected += ev.Rejected
		st.FetchedPreview = withoutSource(st.FetchedPreview, ev.SourceName)
		st.PendingPreview = p.appendCapped(st.PendingPreview, ev.Articles)

	case domain.EventArticlesQualityScored:
		st.ArticlesScored += ev.Scored
		st.PendingPreview = withoutArticles(st.PendingPreview, ev.Articles)
		st.ScoredPreview = p.appendCapped(st.ScoredPreview, ev.Articles)

	case domain.EventTokenUsage:
		usage := domain.TokenUsage{
			InputTokens:  max(0, ev.Usage.InputTokens),
			OutputTokens: max(0, ev.Usage.OutputTokens),
		}
		switch ev.Stage {
		case domain.UsageRelevance:
			st.RelevanceUsage = st.RelevanceUsage.Add(usage)
		default:
			st.QualityUsage = st.QualityUsage.Add(usage)
		}

	case domain.EventSourceCompleted:
		if ev.Result != nil {
			st.SourceResults = append(st.SourceResults, *ev.Result)
		}
		st.FetchedPreview = withoutSource(st.FetchedPreview, ev.SourceName)
		st.PendingPreview = withoutSource(st.PendingPreview, ev.SourceName)

	case domain.EventJobCompleted:
		st.Phase = domain.PhaseCompleted
		p.finish(st, ev)

	case domain.EventJobError:
		d := domain.Diagnostic{
			Severity:   ev.Severity,
			SourceName: ev.SourceName,
			ArticleID:  ev.ArticleID,
			Message:    ev.Message,
			Fatal:      ev.Fatal,
			At:         ev.At,
		}
		if ev.Severity == domain.SeverityWarning {
			st.Warnings = append(st.Warnings, d)
		} else {
			st.Errors = append(st.Errors, d)
		}
		if ev.Fatal {
			st.Phase = domain.PhaseFailed
			st.FatalMessage = ev.Message
			p.finish(st, ev)
		}

	default:
		p.logger.Debug("ignoring unknown event", "type", ev.Type)
	}
}

func (p *Projector) finish(st *domain.CollectionStatus, ev domain.Event) {
	at := ev.At
	st.FinishedAt = &at
	st.CurrentSource = ""
	st.ClearPreviews()
}

// appendCapped keeps the newest previewLimit entries.
func (p *Projector) appendCapped(list, items []domain.ArticlePreview) []domain.ArticlePreview {
	list = append(list, items...)
	if over := len(list) - p.previewLimit; over > 0 {
		list = append([]domain.ArticlePreview(nil), list[over:]...)
	}
	return list
}

func withoutSource(list []domain.ArticlePreview, source string) []domain.ArticlePreview {
	out := list[:0]
	for _, item := range list {
		if item.SourceName != source {
			out = append(out, item)
		}
	}
	return out
}

func withoutArticles(list, remove []domain.ArticlePreview) []domain.ArticlePreview {
	ids := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		ids[r.ArticleID] = struct{}{}
	}
	out := list[:0]
	for _, item := range list {
		if _, ok := ids[item.ArticleID]; !ok {
			out = append(out, item)
		}
	}
	return out
}
