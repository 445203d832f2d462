package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/arenalive/arena/internal/core"
)

// iterationCeilingFactor bounds the loop at this multiple of MaxTurns,
// so a debate that keeps producing failed turns cannot spin forever.
const iterationCeilingFactor = 3

// Run executes the debate loop until the debate reaches a terminal
// status. It is safe to call on a freshly created debate or on one
// resumed mid-flight; the loop re-derives all of its state from storage
// each iteration.
func (o *Orchestrator) Run(ctx context.Context, debateID string) error {
	timeouts := 0
	ceiling := o.cfg.MaxTurns * iterationCeilingFactor

	for iteration := 0; ; iteration++ {
		if iteration >= ceiling {
			o.failDebate(debateID, "iteration ceiling reached")
			return fmt.Errorf("debate %s hit the iteration ceiling", debateID)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		flags, err := o.checkFlags(ctx, debateID)
		if err != nil {
			o.failDebate(debateID, fmt.Sprintf("flag check failed: %v", err))
			return err
		}
		if flags == nil {
			return nil
		}

		debate, err := o.store.GetDebate(debateID)
		if err != nil {
			o.failDebate(debateID, fmt.Sprintf("failed to load debate: %v", err))
			return err
		}
		if debate == nil {
			return fmt.Errorf("debate %s disappeared", debateID)
		}
		if debate.Status.Terminal() {
			return nil
		}
		if debate.Status == core.StatusVoting {
			// Resumed mid-vote.
			return o.RunVote(ctx, debateID)
		}

		turns, err := o.store.GetTurns(debateID)
		if err != nil {
			o.failDebate(debateID, fmt.Sprintf("failed to load turns: %v", err))
			return err
		}
		participant := core.ParticipantTurns(turns)

		// The turn cap takes precedence over everything else, including
		// a pending motion.
		if len(participant) >= o.cfg.MaxTurns {
			o.logger.Info("turn cap reached, moving to voting", "debate_id", debateID)
			return o.beginVoting(ctx, debateID)
		}

		speaker := core.NextSpeaker(debate.Roster, len(participant))
		turnNumber := len(participant) + 1
		// The motion is mandated in the closing rounds and whenever the
		// operator asks for a graceful wind-down.
		forceMotion := flags.MotionToEnd || turnNumber > o.cfg.MaxTurns-len(debate.Roster)

		result := o.executeTurn(ctx, debate, turns, speaker, turnNumber, forceMotion)
		switch result.status {
		case turnFatal:
			o.failDebate(debateID, result.detail)
			return fmt.Errorf("debate %s: %s", debateID, result.detail)

		case turnOK:
			timeouts = 0
			// Re-read so the motion check sees the turn just written.
			turns, err = o.store.GetTurns(debateID)
			if err != nil {
				o.failDebate(debateID, fmt.Sprintf("failed to reload turns: %v", err))
				return err
			}
			if core.MotionCarried(turns, debate.Roster) {
				o.logger.Info("motion carried unanimously", "debate_id", debateID)
				if err := o.systemTurn(debateID, core.TurnIndexSideChannel,
					"All participants have motioned to end the debate."); err != nil {
					return err
				}
				return o.beginVoting(ctx, debateID)
			}

		case turnTimeout:
			timeouts++
			notice := fmt.Sprintf("%s did not respond in time. Skipping their turn.", speaker)
			if err := o.systemTurn(debateID, core.TurnIndexSideChannel, notice); err != nil {
				return err
			}
			o.logger.Warn("turn timed out", "debate_id", debateID, "speaker", speaker,
				"timeouts", timeouts)
			if timeouts >= o.cfg.MaxSkippedTurns {
				detail := fmt.Sprintf("%d timed-out turns, last speaker %s", timeouts, speaker)
				o.failDebate(debateID, detail)
				return fmt.Errorf("debate %s abandoned: %s", debateID, detail)
			}

		case turnError:
			// Failed turns do not count toward the timeout ceiling; the
			// iteration ceiling bounds persistent failure.
			o.logger.Warn("turn failed", "debate_id", debateID, "speaker", speaker,
				"reason", result.detail)
		}

		next := core.NextSpeaker(debate.Roster, turnNumber)
		if err := o.store.AdvanceDebate(debateID, turnNumber, next, time.Now().UTC()); err != nil {
			o.failDebate(debateID, fmt.Sprintf("failed to advance debate: %v", err))
			return err
		}

		sleep(ctx, o.cfg.PacingDelay)
	}
}

// checkFlags applies operator flags. It returns a nil snapshot when the
// loop should stop (kill switch or abort), blocking inside while
// paused. A flag read failure inside the pause wait unblocks the loop
// rather than wedging the debate on an unreadable flag store.
func (o *Orchestrator) checkFlags(ctx context.Context, debateID string) (*core.FlagSnapshot, error) {
	flags, err := o.store.GetFlags()
	if err != nil {
		return nil, fmt.Errorf("failed to read flags: %w", err)
	}
	if flags.Halting() {
		o.abortDebate(debateID)
		return nil, nil
	}
	if !flags.Paused {
		return flags, nil
	}

	if err := o.systemTurn(debateID, core.TurnIndexSideChannel, "Debate paused by operator."); err != nil {
		o.logger.Error("failed to record pause notice", "debate_id", debateID, "error", err)
	}
	o.logger.Info("debate paused, waiting", "debate_id", debateID)

	for flags.Paused {
		sleep(ctx, o.cfg.PausePoll)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		flags, err = o.store.GetFlags()
		if err != nil {
			o.logger.Warn("flag read failed during pause, resuming", "error", err)
			break
		}
		if flags.Halting() {
			o.abortDebate(debateID)
			return nil, nil
		}
	}

	if err := o.systemTurn(debateID, core.TurnIndexSideChannel, "Debate resumed."); err != nil {
		o.logger.Error("failed to record resume notice", "debate_id", debateID, "error", err)
	}
	o.logger.Info("debate unpaused", "debate_id", debateID)
	return flags, nil
}

func (o *Orchestrator) abortDebate(debateID string) {
	now := time.Now().UTC()
	if err := o.systemTurn(debateID, core.TurnIndexSideChannel, "Debate aborted by operator."); err != nil {
		o.logger.Error("failed to record abort notice", "debate_id", debateID, "error", err)
	}
	if err := o.store.SetDebateStatus(debateID, core.StatusAborted, "aborted by operator", &now); err != nil {
		o.logger.Error("failed to mark debate aborted", "debate_id", debateID, "error", err)
	}
	o.logger.Info("debate aborted", "debate_id", debateID)
}

// beginVoting transitions to the voting phase and runs it.
func (o *Orchestrator) beginVoting(ctx context.Context, debateID string) error {
	if err := o.store.SetDebateStatus(debateID, core.StatusVoting, "", nil); err != nil {
		o.failDebate(debateID, fmt.Sprintf("failed to enter voting: %v", err))
		return err
	}
	return o.RunVote(ctx, debateID)
}
