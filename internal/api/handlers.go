package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"

	"marketpulse/internal/adapters/sources"
	"marketpulse/internal/domain/sentiment"
	"marketpulse/internal/domain/signal"
	"marketpulse/internal/ingest"
	"marketpulse/internal/signals"
	"marketpulse/internal/version"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
)

const (
	RecentSignalsLimit = 10
	DefaultNewsSymbol  = "BTC"
	DefaultNewsLimit   = 30
	MaxNewsLimit       = 100

	maxAlertBody = 64 << 10
)

// SourceStatusProvider reports upstream connection states
type SourceStatusProvider interface {
	Statuses() []ingest.Status
}

// HandlersConfig wires the query and policy endpoints
type HandlersConfig struct {
	Signals    signal.Repository
	Alerts     signal.AlertRepository
	Articles   sentiment.ArticleRepository
	Sentiments sentiment.Repository
	Policies   *signals.PolicyBook
	Sources    SourceStatusProvider
	Build      version.Info
	Clock      clockwork.Clock
}

// Handlers serves the JSON endpoints around the pipeline
type Handlers struct {
	signals    signal.Repository
	alerts     signal.AlertRepository
	articles   sentiment.ArticleRepository
	sentiments sentiment.Repository
	policies   *signals.PolicyBook
	sources    SourceStatusProvider
	build      version.Info
	clock      clockwork.Clock
	log        *logger.Logger
}

func NewHandlers(cfg HandlersConfig, log *logger.Logger) *Handlers {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Handlers{
		signals:    cfg.Signals,
		alerts:     cfg.Alerts,
		articles:   cfg.Articles,
		sentiments: cfg.Sentiments,
		policies:   cfg.Policies,
		sources:    cfg.Sources,
		build:      cfg.Build,
		clock:      cfg.Clock,
		log:        log.With("component", "api"),
	}
}

// HandleVersion returns build information
func (h *Handlers) HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.build)
}

// SourceView is a source status with a human readable time in state
type SourceView struct {
	ingest.Status
	InState string `json:"in_state,omitempty"`
}

// HandleSources reports every source connection's state
func (h *Handlers) HandleSources(w http.ResponseWriter, r *http.Request) {
	if h.sources == nil {
		writeJSON(w, http.StatusOK, []SourceView{})
		return
	}

	now := h.clock.Now()
	statuses := h.sources.Statuses()
	out := make([]SourceView, 0, len(statuses))
	for _, st := range statuses {
		view := SourceView{Status: st}
		if !st.Since.IsZero() {
			view.InState = humanize.RelTime(st.Since, now, "ago", "from now")
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleSignals returns the most recent persisted signals, newest first
func (h *Handlers) HandleSignals(w http.ResponseWriter, r *http.Request) {
	list, err := h.signals.ListRecent(r.Context(), RecentSignalsLimit)
	if err != nil {
		h.log.Errorw("Failed to fetch signals", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch signals")
		return
	}
	if list == nil {
		list = []signal.Signal{}
	}
	writeJSON(w, http.StatusOK, list)
}

// NewsItem is an article with its sentiment scores
type NewsItem struct {
	sentiment.Article
	Sentiments []sentiment.Sentiment `json:"sentiments"`
}

// HandleRecentNews lists articles tagged with ?symbol, newest first.
// The symbol is the news keyword (BTC, Ethereum, ...), not a market pair.
func (h *Handlers) HandleRecentNews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	symbol := strings.TrimSpace(q.Get("symbol"))
	if symbol == "" {
		symbol = DefaultNewsSymbol
	}

	limit := DefaultNewsLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxNewsLimit)
	}

	articles, err := h.articles.ListRecentByTicker(r.Context(), symbol, limit)
	if err != nil {
		h.log.Errorw("Failed to fetch news", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch news")
		return
	}

	out := make([]NewsItem, 0, len(articles))
	for _, a := range articles {
		item := NewsItem{Article: a, Sentiments: []sentiment.Sentiment{}}
		if h.sentiments != nil {
			scores, err := h.sentiments.ListByArticle(r.Context(), a.ID)
			if err != nil {
				h.log.Warnw("Failed to fetch article sentiments", "article_id", a.ID, "error", err)
			} else if scores != nil {
				item.Sentiments = scores
			}
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCreateAlert stores an alert policy and activates it immediately
func (h *Handlers) HandleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var policy signal.AlertPolicy
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAlertBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&policy); err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert policy: "+err.Error())
		return
	}

	policy.Symbol = sources.Canonical(policy.Symbol)
	policy.Normalize()
	if err := policy.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alert := &signal.Alert{AlertPolicy: policy, Active: true}
	if err := h.alerts.Create(r.Context(), alert); err != nil {
		h.log.Errorw("Failed to store alert", "symbol", policy.Symbol, "error", err)
		code := http.StatusInternalServerError
		if errors.Is(err, errors.ErrInvalidInput) {
			code = http.StatusBadRequest
		}
		writeError(w, code, "failed to store alert")
		return
	}

	if h.policies != nil {
		h.policies.Add(*alert)
	}
	h.log.Infow("Alert policy created", "alert_id", alert.ID, "symbol", alert.Symbol)

	writeJSON(w, http.StatusCreated, alert)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
