// Package metrics exports collection progress as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

const namespace = "articles_ranker"

// Sink projects progress events onto counters.
type Sink struct {
	ArticlesFetched  *prometheus.CounterVec
	ArticlesPassed   *prometheus.CounterVec
	ArticlesRejected *prometheus.CounterVec
	ArticlesScored   *prometheus.CounterVec
	TokensUsed       *prometheus.CounterVec
	SourcesCompleted *prometheus.CounterVec
	Diagnostics      *prometheus.CounterVec
	JobsFinished     *prometheus.CounterVec
	QueueDepth       prometheus.Gauge

	gatherer prometheus.Gatherer
}

var _ ports.ProgressSink = (*Sink)(nil)

// NewSink registers every metric on reg; a nil reg uses a private registry.
func NewSink(reg *prometheus.Registry) *Sink {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Sink{
		ArticlesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_fetched_total",
			Help:      "New articles persisted after deduplication, by source",
		}, []string{"source"}),
		ArticlesPassed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_passed_filter_total",
			Help:      "Articles passing the relevance filter, by source",
		}, []string{"source"}),
		ArticlesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_rejected_total",
			Help:      "Articles rejected by the relevance filter, by source",
		}, []string{"source"}),
		ArticlesScored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_scored_total",
			Help:      "Articles with a final score, by source",
		}, []string{"source"}),
		TokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Evaluation model tokens, by stage and direction",
		}, []string{"stage", "direction"}),
		SourcesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_completed_total",
			Help:      "Finished source runs, by source and success",
		}, []string{"source", "success"}),
		Diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Recorded warnings, errors and critical failures",
		}, []string{"severity"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Collection jobs by outcome",
		}, []string{"outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Collection jobs waiting in the queue",
		}),
		gatherer: reg,
	}
}

// Publish updates the counters for one event.
func (s *Sink) Publish(_ context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventArticlesFetched:
		s.ArticlesFetched.WithLabelValues(ev.SourceName).Add(float64(len(ev.Articles)))
	case domain.EventArticlesPassedFilter:
		s.ArticlesPassed.WithLabelValues(ev.SourceName).Add(float64(len(ev.Articles)))
		s.ArticlesRejected.WithLabelValues(ev.SourceName).Add(float64(ev.Rejected))
	case domain.EventArticlesQualityScored:
		s.ArticlesScored.WithLabelValues(ev.SourceName).Add(float64(ev.Scored))
	case domain.EventTokenUsage:
		s.TokensUsed.WithLabelValues(string(ev.Stage), "input").Add(float64(max(0, ev.Usage.InputTokens)))
		s.TokensUsed.WithLabelValues(string(ev.Stage), "output").Add(float64(max(0, ev.Usage.OutputTokens)))
	case domain.EventSourceCompleted:
		if ev.Result != nil {
			s.SourcesCompleted.WithLabelValues(ev.SourceName, strconv.FormatBool(ev.Result.Success)).Inc()
		}
	case domain.EventJobError:
		s.Diagnostics.WithLabelValues(ev.Severity.String()).Inc()
		if ev.Fatal {
			s.JobsFinished.WithLabelValues(string(domain.PhaseFailed)).Inc()
		}
	case domain.EventJobCompleted:
		s.JobsFinished.WithLabelValues(string(domain.PhaseCompleted)).Inc()
	}
	return nil
}

// SetQueueDepth reports the current queue length.
func (s *Sink) SetQueueDepth(n int) {
	s.QueueDepth.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}
