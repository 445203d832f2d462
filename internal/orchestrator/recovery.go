package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/arenalive/arena/internal/core"
)

// RecoverySummary reports what a recovery sweep did.
type RecoverySummary struct {
	Scanned int
	Resumed []string
	Skipped []string          // lost the claim race to another process
	Failed  map[string]string // debate id to failure reason
}

// RecoverStale finds active debates whose heartbeat has gone quiet and
// resumes them. Each debate is claimed with a conditional heartbeat
// update first, so two processes sweeping at once cannot both adopt the
// same debate. Resumed debates restart on their own goroutines.
func (o *Orchestrator) RecoverStale(ctx context.Context) (*RecoverySummary, error) {
	cutoff := time.Now().UTC().Add(-o.cfg.StaleThreshold)
	stale, err := o.store.StaleDebates(cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale debates: %w", err)
	}

	summary := &RecoverySummary{
		Scanned: len(stale),
		Failed:  make(map[string]string),
	}
	for _, debate := range stale {
		now := time.Now().UTC()
		claimed, err := o.store.ClaimDebate(debate.ID, debate.LastActivityAt, now)
		if err != nil {
			o.logger.Error("failed to claim stale debate", "debate_id", debate.ID, "error", err)
			summary.Failed[debate.ID] = err.Error()
			continue
		}
		if !claimed {
			summary.Skipped = append(summary.Skipped, debate.ID)
			o.logger.Info("stale debate claimed elsewhere", "debate_id", debate.ID)
			continue
		}

		if err := o.resume(ctx, debate); err != nil {
			o.logger.Error("failed to resume debate", "debate_id", debate.ID, "error", err)
			o.failDebate(debate.ID, fmt.Sprintf("recovery failed: %v", err))
			summary.Failed[debate.ID] = err.Error()
			continue
		}
		summary.Resumed = append(summary.Resumed, debate.ID)
	}

	if summary.Scanned > 0 {
		o.logger.Info("recovery sweep complete", "scanned", summary.Scanned,
			"resumed", len(summary.Resumed), "skipped", len(summary.Skipped),
			"failed", len(summary.Failed))
	}
	return summary, nil
}

// resume records the interruption in the transcript and relaunches the
// debate where it left off.
func (o *Orchestrator) resume(ctx context.Context, debate *core.Debate) error {
	gap := time.Since(debate.LastActivityAt).Round(time.Second)
	notice := fmt.Sprintf("Debate resumed after an interruption of %s.", gap)
	if err := o.systemTurn(debate.ID, core.TurnIndexSideChannel, notice); err != nil {
		return err
	}

	switch debate.Status {
	case core.StatusRunning, core.StatusVoting:
		// Run handles both: it hands voting-status debates to RunVote.
		o.Launch(ctx, debate.ID)
	default:
		return fmt.Errorf("debate %s in unexpected status %q", debate.ID, debate.Status)
	}
	return nil
}
