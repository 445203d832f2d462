// Package orchestrator drives debates from creation through turn-taking,
// voting, and recovery.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arenalive/arena/internal/broadcast"
	"github.com/arenalive/arena/internal/core"
	"github.com/arenalive/arena/internal/gateway"
	"github.com/arenalive/arena/internal/prompt"
	"github.com/arenalive/arena/internal/storage"
)

// Config holds the tunable parameters of a debate run.
type Config struct {
	Roster            []string
	MaxTurns          int
	FirstTokenTimeout time.Duration
	PausePoll         time.Duration
	PacingDelay       time.Duration
	MaxSkippedTurns   int
	StaleThreshold    time.Duration
	TranscriptWindow  int
}

// Orchestrator owns the debate state machine. One instance serves the
// whole process; each debate runs on its own goroutine.
type Orchestrator struct {
	store    storage.Storage
	streamer gateway.Streamer
	prompts  *prompt.Builder
	pub      broadcast.Publisher
	logger   *slog.Logger
	cfg      Config

	wg sync.WaitGroup
}

// New creates an orchestrator. A nil publisher falls back to a no-op.
func New(store storage.Storage, streamer gateway.Streamer, pub broadcast.Publisher, cfg Config, logger *slog.Logger) *Orchestrator {
	if pub == nil {
		pub = broadcast.Noop{}
	}
	return &Orchestrator{
		store:    store,
		streamer: streamer,
		prompts:  &prompt.Builder{Window: cfg.TranscriptWindow},
		pub:      pub,
		logger:   logger,
		cfg:      cfg,
	}
}

// BlockedError reports that debate creation was refused by an operator
// flag.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "debate creation blocked: " + e.Reason
}

// ValidationError reports a malformed creation request. Callers map it
// to a client error rather than an internal one.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid debate request: " + e.Reason
}

// StartDebate creates a new debate with an opening announcement turn.
// A nil roster uses the configured default; an explicit roster must
// match the configured size exactly. It does not run the loop; callers
// launch that separately so tests can drive it synchronously.
func (o *Orchestrator) StartDebate(topic, category string, roster []string) (*core.Debate, error) {
	if roster == nil {
		roster = o.cfg.Roster
	}
	if len(roster) == 0 {
		return nil, &ValidationError{Reason: "roster must not be empty"}
	}
	if len(roster) != len(o.cfg.Roster) {
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"roster must have exactly %d models, got %d", len(o.cfg.Roster), len(roster))}
	}

	flags, err := o.store.GetFlags()
	if err != nil {
		return nil, fmt.Errorf("failed to read flags: %w", err)
	}
	if flags.Halting() {
		return nil, &BlockedError{Reason: "kill switch engaged"}
	}
	if !flags.EnableNewDebates {
		return nil, &BlockedError{Reason: "new debates disabled"}
	}

	now := time.Now().UTC()
	debate := &core.Debate{
		ID:             uuid.New().String(),
		Topic:          topic,
		Category:       category,
		Roster:         append([]string(nil), roster...),
		Status:         core.StatusRunning,
		CurrentModel:   roster[0],
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := o.store.CreateDebate(debate); err != nil {
		return nil, fmt.Errorf("failed to create debate: %w", err)
	}

	announcement := fmt.Sprintf("Debate started on topic: %s. Participants: %s.",
		topic, joinRoster(debate.Roster))
	if err := o.systemTurn(debate.ID, core.TurnIndexAnnouncement, announcement); err != nil {
		return nil, err
	}

	o.pub.Publish(context.Background(), broadcast.Event{
		Type:     broadcast.EventDebateStarted,
		DebateID: debate.ID,
		At:       now,
	})
	o.logger.Info("debate started", "debate_id", debate.ID, "topic", topic, "category", category)
	return debate, nil
}

// Launch runs the debate loop on its own goroutine. A panic in the loop
// marks the debate errored instead of taking down the process.
func (o *Orchestrator) Launch(ctx context.Context, debateID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("debate loop panicked", "debate_id", debateID, "panic", r)
				o.failDebate(debateID, fmt.Sprintf("internal error: %v", r))
			}
		}()
		if err := o.Run(ctx, debateID); err != nil {
			o.logger.Error("debate loop failed", "debate_id", debateID, "error", err)
		}
	}()
}

// Wait blocks until all launched debates have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// systemTurn records a system-authored turn at the given index.
func (o *Orchestrator) systemTurn(debateID string, index int, content string) error {
	now := time.Now().UTC()
	turn := &core.Turn{
		ID:         uuid.New().String(),
		DebateID:   debateID,
		Speaker:    core.SpeakerSystem,
		TurnIndex:  index,
		Content:    content,
		StartedAt:  now,
		FinishedAt: &now,
	}
	if err := o.store.CreateTurn(turn); err != nil {
		return fmt.Errorf("failed to record system turn: %w", err)
	}
	return nil
}

// failDebate marks a debate errored with a detail message. Best effort;
// a storage failure here is only logged.
func (o *Orchestrator) failDebate(debateID, detail string) {
	now := time.Now().UTC()
	if err := o.store.SetDebateStatus(debateID, core.StatusError, detail, &now); err != nil {
		o.logger.Error("failed to mark debate errored", "debate_id", debateID, "error", err)
		return
	}
	o.pub.Publish(context.Background(), broadcast.Event{
		Type:     broadcast.EventDebateError,
		DebateID: debateID,
		Detail:   detail,
		At:       now,
	})
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func joinRoster(roster []string) string {
	out := ""
	for i, m := range roster {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}
