package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/status"
	"ArticlesRanker/internal/usecase"
)

const (
	defaultHeartbeat    = 15 * time.Second
	defaultArticleLimit = 20
	maxArticleLimit     = 200
)

type handler struct {
	deps Deps
}

type collectRequest struct {
	MaxArticlesPerSource int `json:"maxArticlesPerSource"`
}

type articleResponse struct {
	ID             string     `json:"id"`
	SourceID       int64      `json:"sourceId"`
	Title          string     `json:"title"`
	URL            string     `json:"url"`
	Summary        string     `json:"summary,omitempty"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty"`
	CollectedAt    time.Time  `json:"collectedAt"`
	NativeScore    *float64   `json:"nativeScore,omitempty"`
	RelevanceScore *float64   `json:"relevanceScore,omitempty"`
	Technical      *float64   `json:"technicalScore,omitempty"`
	Novelty        *float64   `json:"noveltyScore,omitempty"`
	Impact         *float64   `json:"impactScore,omitempty"`
	Quality        *float64   `json:"qualityScore,omitempty"`
	RelevanceAxis  *float64   `json:"relevanceAxisScore,omitempty"`
	LlmScore       *float64   `json:"llmScore,omitempty"`
	FinalScore     *float64   `json:"finalScore,omitempty"`
	EvalSummary    string     `json:"evaluationSummary,omitempty"`
}

func toArticleResponse(a domain.Article) articleResponse {
	return articleResponse{
		ID:             a.ID,
		SourceID:       a.SourceID,
		Title:          a.Title,
		URL:            a.URL,
		Summary:        a.Summary,
		PublishedAt:    a.PublishedAt,
		CollectedAt:    a.CollectedAt,
		NativeScore:    a.NativeScore,
		RelevanceScore: a.RelevanceScore,
		Technical:      a.TechnicalScore,
		Novelty:        a.NoveltyScore,
		Impact:         a.ImpactScore,
		Quality:        a.QualityScore,
		RelevanceAxis:  a.EnsembleRelevanceScore,
		LlmScore:       a.LlmScore,
		FinalScore:     a.FinalScore,
		EvalSummary:    a.SummaryJa,
	}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func keywordID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid keyword id"})
		return 0, false
	}
	return id, true
}

func (h *handler) collect(c *gin.Context) {
	id, ok := keywordID(c)
	if !ok {
		return
	}

	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.MaxArticlesPerSource < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxArticlesPerSource must not be negative"})
		return
	}

	if _, err := h.deps.Keywords.GetKeyword(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "keyword not found"})
		return
	}

	st, err := h.deps.Queue.Enqueue(domain.CollectionJob{
		KeywordID: id,
		Debug:     domain.DebugOptions{MaxArticlesPerSource: req.MaxArticlesPerSource},
	})
	switch {
	case errors.Is(err, usecase.ErrAlreadyQueued):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": st})
	case errors.Is(err, usecase.ErrQueueFull), errors.Is(err, usecase.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		h.deps.Logger.Error("enqueue failed", "keyword_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
	default:
		c.JSON(http.StatusAccepted, st)
	}
}

func (h *handler) getStatus(c *gin.Context) {
	id, ok := keywordID(c)
	if !ok {
		return
	}
	st, found := h.deps.Statuses.Get(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": status.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) clearStatus(c *gin.Context) {
	id, ok := keywordID(c)
	if !ok {
		return
	}
	switch err := h.deps.Statuses.Clear(id); {
	case errors.Is(err, status.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, status.ErrActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

func (h *handler) listStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"statuses": h.deps.Statuses.List()})
}

func (h *handler) listArticles(c *gin.Context) {
	id, ok := keywordID(c)
	if !ok {
		return
	}

	limit := defaultArticleLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxArticleLimit)
	}

	ranked, err := h.deps.Articles.ListRanked(c.Request.Context(), id, limit)
	if err != nil {
		h.deps.Logger.Error("list ranked articles", "keyword_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list articles"})
		return
	}

	out := make([]articleResponse, len(ranked))
	for i, a := range ranked {
		out[i] = toArticleResponse(a)
	}
	c.JSON(http.StatusOK, gin.H{"keywordId": id, "articles": out})
}

// events streams progress as server-sent events; ?keywordId= narrows the stream.
func (h *handler) events(c *gin.Context) {
	if h.deps.Events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event stream disabled"})
		return
	}

	var filter int64
	if raw := c.Query("keywordId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid keywordId"})
			return
		}
		filter = id
	}

	events, cleanup := h.deps.Events.Subscribe(c.Request.Context(), filter)
	defer cleanup()

	// A closed channel up front means the broker refused the client.
	var pending *domain.Event
	select {
	case ev, open := <-events:
		if !open {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
			return
		}
		pending = &ev
	default:
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if pending != nil {
		if err := writeEvent(w, *pending); err != nil {
			return
		}
	}
	w.Flush()

	ticker := time.NewTicker(h.deps.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				h.deps.Logger.Debug("sse write failed", "error", err)
				return
			}
			w.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			w.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeEvent(w io.Writer, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
