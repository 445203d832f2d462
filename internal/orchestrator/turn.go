package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arenalive/arena/internal/broadcast"
	"github.com/arenalive/arena/internal/core"
	"github.com/arenalive/arena/internal/prompt"
)

type turnStatus int

const (
	turnOK turnStatus = iota
	turnTimeout
	turnError
	// turnFatal means no turn row could be created at all; the loop
	// must stop.
	turnFatal
)

type turnResult struct {
	status turnStatus
	detail string
}

// flushEvery controls how often in-flight content is persisted, in
// fragments. A crash loses at most this much of the current turn.
const flushEvery = 20

// executeTurn runs one speaker's turn end to end. The turn row is
// created before the model is contacted so a crash mid-stream leaves a
// visible record, content is flushed incrementally while streaming, and
// every outcome finalizes the row: no turn is left permanently open.
func (o *Orchestrator) executeTurn(ctx context.Context, debate *core.Debate, turns []*core.Turn, speaker string, turnNumber int, forceMotion bool) turnResult {
	now := time.Now().UTC()
	turn := &core.Turn{
		ID:        uuid.New().String(),
		DebateID:  debate.ID,
		Speaker:   speaker,
		TurnIndex: turnNumber,
		StartedAt: now,
	}
	if err := o.store.CreateTurn(turn); err != nil {
		return turnResult{turnFatal, fmt.Sprintf("failed to create turn row: %v", err)}
	}
	o.pub.Publish(ctx, broadcast.Event{
		Type:      broadcast.EventTurnStarted,
		DebateID:  debate.ID,
		Speaker:   speaker,
		TurnIndex: turnNumber,
		At:        now,
	})

	fail := func(status turnStatus, content, detail string) turnResult {
		if content == "" {
			content = "[no response: " + detail + "]"
		}
		if err := o.store.FinishTurn(turn.ID, content, 0, time.Now().UTC()); err != nil {
			o.logger.Error("failed to finalize failed turn", "turn_id", turn.ID, "error", err)
		}
		return turnResult{status, detail}
	}

	messages, err := o.prompts.Argument(prompt.ArgumentInput{
		Topic:       debate.Topic,
		Roster:      debate.Roster,
		Speaker:     speaker,
		Turns:       turns,
		TurnNumber:  turnNumber,
		MaxTurns:    o.cfg.MaxTurns,
		ForceMotion: forceMotion,
	})
	if err != nil {
		return fail(turnError, "", fmt.Sprintf("prompt build failed: %v", err))
	}

	stream, err := o.streamer.Stream(ctx, speaker, messages)
	if err != nil {
		// One direct retry covers transient gateway hiccups.
		o.logger.Warn("stream open failed, retrying once", "speaker", speaker, "error", err)
		stream, err = o.streamer.Stream(ctx, speaker, messages)
		if err != nil {
			return fail(turnError, "", fmt.Sprintf("gateway unreachable: %v", err))
		}
	}
	defer stream.Close()

	// The model must start talking within the first-token window.
	firstToken := time.NewTimer(o.cfg.FirstTokenTimeout)
	defer firstToken.Stop()

	var sb strings.Builder
	fragments := 0

	select {
	case <-ctx.Done():
		return fail(turnError, "", "cancelled")
	case <-firstToken.C:
		return fail(turnTimeout, "", fmt.Sprintf("no first token within %s", o.cfg.FirstTokenTimeout))
	case fragment, ok := <-stream.Fragments():
		if ok {
			ttft := time.Since(now).Milliseconds()
			if err := o.store.SetTurnFirstToken(turn.ID, ttft); err != nil {
				o.logger.Warn("failed to record ttft", "turn_id", turn.ID, "error", err)
			}
			sb.WriteString(fragment)
			fragments++
		}
	}

	for fragment := range stream.Fragments() {
		sb.WriteString(fragment)
		fragments++
		if fragments%flushEvery == 0 {
			if err := o.store.UpdateTurnContent(turn.ID, sb.String()); err != nil {
				o.logger.Warn("failed to flush turn content", "turn_id", turn.ID, "error", err)
			}
		}
	}

	content := sb.String()
	if err := stream.Err(); err != nil {
		// Keep what was said even though the stream died.
		return fail(turnError, content, fmt.Sprintf("stream aborted: %v", err))
	}
	if strings.TrimSpace(content) == "" {
		return fail(turnError, "", "empty response")
	}

	finished := time.Now().UTC()
	if err := o.store.FinishTurn(turn.ID, content, fragments, finished); err != nil {
		return turnResult{turnError, fmt.Sprintf("failed to finish turn: %v", err)}
	}
	o.pub.Publish(ctx, broadcast.Event{
		Type:      broadcast.EventTurnFinished,
		DebateID:  debate.ID,
		Speaker:   speaker,
		TurnIndex: turnNumber,
		At:        finished,
	})
	o.logger.Info("turn finished", "debate_id", debate.ID, "speaker", speaker,
		"turn", turnNumber, "fragments", fragments)
	return turnResult{status: turnOK}
}
