// Package handlers exposes the HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arenalive/arena/internal/core"
	"github.com/arenalive/arena/internal/export"
	"github.com/arenalive/arena/internal/gateway"
	"github.com/arenalive/arena/internal/orchestrator"
	"github.com/arenalive/arena/internal/scheduler"
	"github.com/arenalive/arena/internal/storage"
)

// Config holds handler settings.
type Config struct {
	// Token protects mutating endpoints. Empty disables auth, for
	// local development only.
	Token string
	// RateLimit is the per-client request budget per minute. Zero
	// disables limiting.
	RateLimit int
}

// Handler serves the arena HTTP API.
type Handler struct {
	store    storage.Storage
	orch     *orchestrator.Orchestrator
	sched    *scheduler.Scheduler
	streamer gateway.Streamer
	cfg      Config
	logger   *slog.Logger
	limiter  *rateLimiter
}

func New(store storage.Storage, orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, streamer gateway.Streamer, cfg Config, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		orch:     orch,
		sched:    sched,
		streamer: streamer,
		cfg:      cfg,
		logger:   logger,
		limiter:  newRateLimiter(cfg.RateLimit, time.Minute),
	}
}

// Router builds the chi router with all API routes mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.rateLimit)

	r.Route("/api", func(r chi.Router) {
		r.Get("/debates", h.listDebates)
		r.Get("/debates/{id}", h.getDebate)
		r.Get("/debates/{id}/events", h.streamEvents)
		r.Get("/debates/{id}/export", h.exportDebate)
		r.Get("/flags", h.getFlags)

		r.Group(func(r chi.Router) {
			r.Use(h.requireToken)
			r.Post("/debates", h.createDebate)
			r.Post("/scheduler/tick", h.schedulerTick)
			r.Patch("/flags", h.patchFlags)
			r.Post("/stream", h.relayStream)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// requireToken enforces the bearer token on mutating routes.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.cfg.Token {
			h.writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.allow(r.RemoteAddr) {
			h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createDebateRequest struct {
	Topic    string   `json:"topic"`
	Category string   `json:"category"`
	Models   []string `json:"models,omitempty"`
}

func (h *Handler) createDebate(w http.ResponseWriter, r *http.Request) {
	var req createDebateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		h.writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	debate, err := h.orch.StartDebate(req.Topic, req.Category, req.Models)
	if err != nil {
		var blocked *orchestrator.BlockedError
		if errors.As(err, &blocked) {
			// Flag rejection is an operator decision, not a failure.
			h.writeJSON(w, http.StatusOK, map[string]any{"blocked": true, "reason": blocked.Reason})
			return
		}
		var invalid *orchestrator.ValidationError
		if errors.As(err, &invalid) {
			h.writeError(w, http.StatusBadRequest, invalid.Reason)
			return
		}
		h.logger.Error("failed to create debate", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create debate")
		return
	}

	// The loop outlives this request, so it must not inherit the
	// request context.
	h.orch.Launch(context.Background(), debate.ID)
	h.writeJSON(w, http.StatusCreated, debate)
}

func (h *Handler) listDebates(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)

	debates, err := h.store.ListDebates(limit, offset)
	if err != nil {
		h.logger.Error("failed to list debates", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list debates")
		return
	}
	if debates == nil {
		debates = []*core.Debate{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"debates": debates})
}

type debateDetail struct {
	Debate *core.Debate `json:"debate"`
	Turns  []*core.Turn `json:"turns"`
	Votes  []*core.Vote `json:"votes"`
}

func (h *Handler) loadDetail(w http.ResponseWriter, r *http.Request) *debateDetail {
	id := chi.URLParam(r, "id")
	debate, err := h.store.GetDebate(id)
	if err != nil {
		h.logger.Error("failed to load debate", "debate_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load debate")
		return nil
	}
	if debate == nil {
		h.writeError(w, http.StatusNotFound, "debate not found")
		return nil
	}
	turns, err := h.store.GetTurns(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load turns")
		return nil
	}
	votes, err := h.store.GetVotes(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load votes")
		return nil
	}
	return &debateDetail{Debate: debate, Turns: turns, Votes: votes}
}

func (h *Handler) getDebate(w http.ResponseWriter, r *http.Request) {
	detail := h.loadDetail(w, r)
	if detail == nil {
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) exportDebate(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail := h.loadDetail(w, r)
	if detail == nil {
		return
	}

	filename := fmt.Sprintf("debate-%s.%s", detail.Debate.ID, format.Extension())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := export.Render(w, format, &export.Transcript{
		Debate: detail.Debate,
		Turns:  detail.Turns,
		Votes:  detail.Votes,
	}); err != nil {
		h.logger.Error("export failed", "debate_id", detail.Debate.ID, "error", err)
	}
}

func (h *Handler) schedulerTick(w http.ResponseWriter, r *http.Request) {
	if h.sched == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	debate, err := h.sched.Tick(context.Background())
	if err != nil {
		h.logger.Error("scheduler tick failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "tick failed")
		return
	}
	if debate == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"started": false})
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"started": true, "debate": debate})
}

func (h *Handler) getFlags(w http.ResponseWriter, _ *http.Request) {
	flags, err := h.store.GetFlags()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to read flags")
		return
	}
	h.writeJSON(w, http.StatusOK, flags)
}

// patchFlags applies a partial update: only the fields present in the
// body change.
func (h *Handler) patchFlags(w http.ResponseWriter, r *http.Request) {
	var patch map[string]bool
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flags, err := h.store.GetFlags()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to read flags")
		return
	}

	for name, value := range patch {
		switch name {
		case "kill_switch":
			flags.KillSwitch = value
		case "paused":
			flags.Paused = value
		case "abort":
			flags.Abort = value
		case "enable_new_debates":
			flags.EnableNewDebates = value
		case "enable_voting":
			flags.EnableVoting = value
		case "enable_logging":
			flags.EnableLogging = value
		case "motion_to_end":
			flags.MotionToEnd = value
		default:
			h.writeError(w, http.StatusBadRequest, "unknown flag "+name)
			return
		}
	}

	if err := h.store.SetFlags(flags); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to update flags")
		return
	}
	h.logger.Info("flags updated", "flags", fmt.Sprintf("%+v", *flags))
	h.writeJSON(w, http.StatusOK, flags)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
