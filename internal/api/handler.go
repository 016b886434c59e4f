// Package api exposes the assistant core over HTTP. The surface is
// thin: every interesting decision happens in the router and the
// memory tiers; handlers just decode, delegate, and encode.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/command"
	"github.com/quivermind/mnemo/internal/fault"
	"github.com/quivermind/mnemo/internal/memory"
	"github.com/quivermind/mnemo/internal/router"
	"github.com/quivermind/mnemo/internal/tool"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	turns    *router.Router
	mem      *memory.Store
	tools    *tool.Registry
	commands *command.Registry
	checks   map[string]HealthChecker
	logger   *zap.Logger
}

// NewHandler creates a new API handler. checks maps a dependency name
// to its health probe; nil entries are skipped.
func NewHandler(
	turns *router.Router,
	mem *memory.Store,
	tools *tool.Registry,
	commands *command.Registry,
	checks map[string]HealthChecker,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		turns:    turns,
		mem:      mem,
		tools:    tools,
		commands: commands,
		checks:   checks,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/turn", h.handleTurn)

		r.Get("/owners/{owner}/preferences", h.listPreferences)
		r.Delete("/owners/{owner}/preferences/{key}", h.deletePreference)
		r.Get("/owners/{owner}/history", h.listHistory)
		r.Get("/owners/{owner}/rules", h.listRules)

		r.Get("/sessions/{session}/handoffs", h.peekHandoffs)
		r.Post("/sessions/{session}/handoffs", h.writeHandoff)
		r.Post("/sessions/{session}/handoffs/consume", h.consumeHandoff)

		r.Get("/tools", h.listTools)
		r.Get("/commands", h.listCommands)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	out := map[string]string{"status": "ok"}
	status := http.StatusOK
	for name, c := range h.checks {
		if c == nil {
			continue
		}
		if err := c.HealthCheck(r.Context()); err != nil {
			out[name] = err.Error()
			out["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			out[name] = "ok"
		}
	}
	writeJSON(w, status, out)
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var turn router.Turn
	if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if turn.Owner == "" || turn.Session == "" || turn.Input == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner, session and input are required"})
		return
	}

	out, err := h.turns.HandleTurn(r.Context(), &turn)
	if err != nil {
		h.logger.Error("turn failed", zap.String("owner", turn.Owner), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listPreferences(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	min := 0.0
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad min_confidence"})
			return
		}
		min = v
	}

	prefs, err := h.mem.GetPreferences(r.Context(), owner, min)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *Handler) deletePreference(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	key := chi.URLParam(r, "key")
	if err := h.mem.DeletePreference(r.Context(), owner, key); err != nil {
		if fault.IsAbsent(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "preference not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	q := r.URL.Query()

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad limit"})
			return
		}
		limit = v
	}
	var from, to *time.Time
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad from timestamp"})
			return
		}
		from = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad to timestamp"})
			return
		}
		to = &t
	}

	events, err := h.mem.History(r.Context(), owner, from, to, q.Get("action_type"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	rules, err := h.mem.Rules(r.Context(), owner, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *Handler) peekHandoffs(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	to := r.URL.Query().Get("to")
	if to == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to is required"})
		return
	}

	handoffs, err := h.mem.PeekHandoffs(r.Context(), session, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, handoffs)
}

func (h *Handler) writeHandoff(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	var hand memory.Handoff
	if err := json.NewDecoder(r.Body).Decode(&hand); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	hand.SessionID = session

	if err := h.mem.WriteHandoff(r.Context(), &hand); err != nil {
		if errors.Is(err, fault.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, hand)
}

type consumeRequest struct {
	To   string `json:"to"`
	Type string `json:"type,omitempty"`
}

func (h *Handler) consumeHandoff(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.To == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to is required"})
		return
	}

	hand, err := h.mem.ConsumeHandoff(r.Context(), session, req.To, req.Type)
	if err != nil {
		if fault.IsAbsent(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no pending handoff"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, hand)
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tools.Definitions())
}

func (h *Handler) listCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.commands.List())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
