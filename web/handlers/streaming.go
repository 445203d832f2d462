package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arenalive/arena/internal/core"
)

// eventPollInterval is how often the SSE endpoint re-reads storage.
// The turn executor flushes content incrementally, so polling at this
// rate gives watchers a near-live transcript.
const eventPollInterval = 1 * time.Second

type turnEvent struct {
	ID        string `json:"id"`
	Speaker   string `json:"speaker"`
	TurnIndex int    `json:"turn_index"`
	Content   string `json:"content"`
	Finished  bool   `json:"finished"`
}

// streamEvents serves a debate as server-sent events. Each turn is
// re-emitted whenever its content grows, and a final done event carries
// the debate record once it reaches a terminal status.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	debate, err := h.store.GetDebate(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load debate")
		return
	}
	if debate == nil {
		h.writeError(w, http.StatusNotFound, "debate not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	type turnState struct {
		length   int
		finished bool
	}
	seen := make(map[string]turnState)
	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()

	emit := func() bool {
		turns, err := h.store.GetTurns(id)
		if err != nil {
			h.logger.Error("event poll failed", "debate_id", id, "error", err)
			return false
		}
		for _, turn := range turns {
			finished := turn.FinishedAt != nil
			if turn.Content == "" && !finished {
				continue
			}
			// Re-emit when the content grows or the turn finalizes, so a
			// watcher always sees the closing finished event.
			prev, emitted := seen[turn.ID]
			if emitted && len(turn.Content) <= prev.length && finished == prev.finished {
				continue
			}
			seen[turn.ID] = turnState{length: len(turn.Content), finished: finished}
			writeSSE(w, "turn", turnEvent{
				ID:        turn.ID,
				Speaker:   turn.Speaker,
				TurnIndex: turn.TurnIndex,
				Content:   turn.Content,
				Finished:  finished,
			})
		}

		current, err := h.store.GetDebate(id)
		if err != nil || current == nil {
			return false
		}
		if current.Status.Terminal() {
			writeSSE(w, "done", current)
			flusher.Flush()
			return true
		}
		flusher.Flush()
		return false
	}

	if emit() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if emit() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

type relayRequest struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
}

// relayStream proxies a single completion through the gateway and
// streams the fragments back with data framing, ending with [DONE].
func (h *Handler) relayStream(w http.ResponseWriter, r *http.Request) {
	if h.streamer == nil {
		h.writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}

	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		h.writeError(w, http.StatusBadRequest, "model and messages are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := h.streamer.Stream(r.Context(), req.Model, req.Messages)
	if err != nil {
		h.logger.Error("relay stream open failed", "model", req.Model, "error", err)
		h.writeError(w, http.StatusBadGateway, "gateway unreachable")
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	for fragment := range stream.Fragments() {
		payload, _ := json.Marshal(map[string]string{"content": fragment})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	if err := stream.Err(); err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
