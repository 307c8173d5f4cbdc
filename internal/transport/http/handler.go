// Package http exposes ingestion and reports over a JSON HTTP API.
package http

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/naka-gawa/pr-audit/internal/usecase"
)

// DefaultWindow is the report window used when "from" is omitted.
const DefaultWindow = 30 * 24 * time.Hour

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the audit operations over HTTP.
type Handler struct {
	auditor usecase.Auditor
	logger  *log.Logger
	now     func() time.Time
}

// NewHandler creates a handler backed by auditor.
func NewHandler(auditor usecase.Auditor, logger *log.Logger) *Handler {
	return &Handler{
		auditor: auditor,
		logger:  logger,
		now:     time.Now,
	}
}

// Routes returns the router with middleware and every endpoint mounted.
func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: h.logger, NoColor: true}))
	router.Use(middleware.Recoverer)

	router.Route("/api", func(r chi.Router) {
		r.Post("/ingestion/run", h.handleRunIngestion)
		r.Route("/reports", func(r chi.Router) {
			r.Get("/open-prs", h.handleOpenPRs)
			r.Get("/user-stats", h.handleUserStats)
			r.Get("/release-summary", h.handleReleaseSummary)
			r.Get("/repositories", h.handleRepositories)
		})
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return router
}

func (h *Handler) handleRunIngestion(w http.ResponseWriter, r *http.Request) {
	result, err := h.auditor.RunIngestion(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleOpenPRs(w http.ResponseWriter, r *http.Request) {
	olderThanDays := 0
	if raw := r.URL.Query().Get("olderThanDays"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "olderThanDays must be an integer"})
			return
		}
		olderThanDays = n
	}

	report, err := h.auditor.OpenPRReport(r.Context(), r.URL.Query().Get("repository"), olderThanDays)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleUserStats(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	report, err := h.auditor.UserStats(r.Context(), from, to)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleReleaseSummary(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	summary, err := h.auditor.ReleaseAuditSummary(r.Context(), from, to)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleRepositories(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	report, err := h.auditor.RepositoryReport(r.Context(), from, to)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// window reads the from/to query parameters. A missing "to" is now and a missing
// "from" is DefaultWindow before "to". On failure it writes a 400 and returns false.
func (h *Handler) window(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	to := h.now().UTC()
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, dateOnly, err := parseTime(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid to: %v", err)})
			return time.Time{}, time.Time{}, false
		}
		to = parsed
		if dateOnly {
			to = parsed.Add(24*time.Hour - time.Nanosecond)
		}
	}
	from := to.Add(-DefaultWindow)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, _, err := parseTime(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid from: %v", err)})
			return time.Time{}, time.Time{}, false
		}
		from = parsed
	}
	if from.After(to) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "from must not be after to"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// parseTime accepts RFC 3339 or YYYY-MM-DD and reports which one it saw.
func parseTime(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", raw)
	}
	return t, true, nil
}

func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	h.logger.Printf("HTTP: request failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if v == nil {
		return
	}

	_ = json.NewEncoder(w).Encode(v)
}
