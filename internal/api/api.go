package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xyrax/instra/internal/agent"
	"github.com/xyrax/instra/internal/bulk"
	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/model"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxBulkBodySize = 10 << 20   // 10MB

// sessionHeader carries the session key on requests without a body.
const sessionHeader = "X-Session-Key"

// HandlerOptions configure the HTTP surface around an App.
type HandlerOptions struct {
	// Token, when non-empty, is required as a bearer token on /api routes.
	Token string
	// Gatherer serves /metrics when non-nil.
	Gatherer prometheus.Gatherer
}

// NewHandler returns the HTTP API.
func NewHandler(app *App, opts HandlerOptions) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(app))
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if opts.Token != "" {
			r.Use(BearerAuth(opts.Token))
		}
		r.Post("/analyze", handleAnalyze(app))
		r.Post("/agent", handleAgent(app))
		r.Get("/history", handleHistory(app))
		r.Post("/clear", handleClear(app))
		r.Post("/bulk", handleBulk(app))
	})

	return r
}

func handleHealth(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":   "ok",
			"external": app.deps.Router.HasExternal(),
		})
	}
}

type analyzeRequest struct {
	SessionKey string `json:"session_key"`
	features.PostMetrics
}

func handleAnalyze(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SessionKey == "" {
			req.SessionKey = r.Header.Get(sessionHeader)
		}

		res, err := app.Analyze(r.Context(), req.SessionKey, req.PostMetrics)
		if err != nil {
			analysisError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

// analysisError maps core errors onto HTTP statuses.
func analysisError(w http.ResponseWriter, err error) {
	var insufficient *features.InsufficientInputError
	var invalid *features.InvalidInputError
	var unavailable *model.UnavailableError
	switch {
	case errors.As(err, &insufficient), errors.As(err, &invalid):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.As(err, &unavailable):
		httpError(w, http.StatusServiceUnavailable, "model_unavailable", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "analysis failed: %v", err)
	}
}

type agentRequest struct {
	SessionKey string          `json:"session_key"`
	Message    string          `json:"message"`
	History    []agent.Message `json:"history,omitempty"`
}

func handleAgent(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req agentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Message = strings.TrimSpace(req.Message)
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		if req.SessionKey == "" {
			req.SessionKey = r.Header.Get(sessionHeader)
		}

		reply, err := app.Ask(r.Context(), req.SessionKey, req.Message, req.History)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "agent failed: %v", err)
			return
		}
		writeJSON(w, reply)
	}
}

func handleHistory(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionKey(r)
		posts, err := app.History(session)
		if errors.Is(err, errNoSession) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list posts: %v", err)
			return
		}
		if limit := parseIntParam(r, "limit", 0, 0); limit > 0 && len(posts) > limit {
			posts = posts[len(posts)-limit:]
		}
		writeJSON(w, map[string]any{
			"session_key": session,
			"count":       len(posts),
			"posts":       posts,
		})
	}
}

func handleClear(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionKey(r)
		n, err := app.Clear(session)
		if errors.Is(err, errNoSession) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear session: %v", err)
			return
		}
		writeJSON(w, map[string]any{"status": "cleared", "deleted": n})
	}
}

func handleBulk(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBulkBodySize)
		defer r.Body.Close()

		rows, err := bulk.Parse(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid csv: %v", err)
			return
		}

		res, err := app.Bulk(r.Context(), sessionKey(r), rows)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "bulk analysis failed: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

// sessionKey reads the session from the query string, then the header.
func sessionKey(r *http.Request) string {
	if s := r.URL.Query().Get("session_key"); s != "" {
		return s
	}
	return r.Header.Get(sessionHeader)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
