package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arenalive/arena/internal/broadcast"
	"github.com/arenalive/arena/internal/core"
	"github.com/arenalive/arena/internal/gateway"
)

// RunVote collects one ballot per roster member, tallies, and
// finalizes the debate. Every ballot is persisted as soon as it is
// parsed, and voters that already have a ballot are skipped, so a vote
// interrupted partway resumes without re-polling anyone.
func (o *Orchestrator) RunVote(ctx context.Context, debateID string) error {
	debate, err := o.store.GetDebate(debateID)
	if err != nil {
		o.failDebate(debateID, fmt.Sprintf("failed to load debate for voting: %v", err))
		return err
	}
	if debate == nil {
		return fmt.Errorf("debate %s disappeared", debateID)
	}
	if debate.Status.Terminal() {
		// Voting on a finished debate is a caller bug, not a condition
		// to paper over.
		return fmt.Errorf("cannot run vote on debate %s in terminal status %q", debateID, debate.Status)
	}
	if debate.Status != core.StatusVoting {
		if err := o.store.SetDebateStatus(debateID, core.StatusVoting, "", nil); err != nil {
			o.failDebate(debateID, fmt.Sprintf("failed to enter voting: %v", err))
			return err
		}
	}

	flags, err := o.store.GetFlags()
	if err != nil {
		o.failDebate(debateID, fmt.Sprintf("failed to read flags: %v", err))
		return err
	}
	if flags.Halting() {
		o.abortDebate(debateID)
		return nil
	}
	if !flags.EnableVoting {
		// Voting disabled: close out without a winner.
		o.logger.Warn("voting disabled, ending debate without ballots", "debate_id", debateID)
		return o.finalize(debateID, core.TallyVotes(nil, debate.Roster))
	}

	turns, err := o.store.GetTurns(debateID)
	if err != nil {
		o.failDebate(debateID, fmt.Sprintf("failed to load turns for voting: %v", err))
		return err
	}

	existing, err := o.store.GetVotes(debateID)
	if err != nil {
		o.failDebate(debateID, fmt.Sprintf("failed to load votes: %v", err))
		return err
	}
	voted := make(map[string]bool, len(existing))
	for _, v := range existing {
		voted[v.Voter] = true
	}

	if len(existing) == 0 {
		if err := o.systemTurn(debateID, core.TurnIndexSideChannel,
			"The debate has concluded. Voting begins."); err != nil {
			return err
		}
	}

	for _, voter := range debate.Roster {
		if voted[voter] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ballot := o.collectBallot(ctx, debate, turns, voter)
		vote := &core.Vote{
			ID:        uuid.New().String(),
			DebateID:  debateID,
			Voter:     voter,
			VoteFor:   ballot,
			CreatedAt: time.Now().UTC(),
		}
		if err := o.store.CreateVote(vote); err != nil {
			o.failDebate(debateID, fmt.Sprintf("failed to persist ballot from %s: %v", voter, err))
			return err
		}
		o.logger.Info("ballot recorded", "debate_id", debateID, "voter", voter, "vote_for", ballot)
	}

	votes, err := o.store.GetVotes(debateID)
	if err != nil {
		o.failDebate(debateID, fmt.Sprintf("failed to reload votes: %v", err))
		return err
	}
	return o.finalize(debateID, core.TallyVotes(votes, debate.Roster))
}

// collectBallot asks one voter for its ballot. Any failure, including
// an unparseable response, degrades to an invalid vote rather than
// stalling the count.
func (o *Orchestrator) collectBallot(ctx context.Context, debate *core.Debate, turns []*core.Turn, voter string) string {
	messages, err := o.prompts.Voting(debate.Topic, turns, debate.Roster, voter)
	if err != nil {
		o.logger.Warn("failed to build voting prompt", "voter", voter, "error", err)
		return core.VoteInvalid
	}

	response, err := gateway.Collect(ctx, o.streamer, voter, messages)
	if err != nil {
		o.logger.Warn("voter unreachable", "debate_id", debate.ID, "voter", voter, "error", err)
		return core.VoteInvalid
	}

	return core.ParseBallot(response, debate.Roster)
}

// finalize writes the outcome and announces it. If the full finalize
// write fails, a reduced status-and-winner write is attempted so the
// debate still terminates.
func (o *Orchestrator) finalize(debateID string, tally core.Tally) error {
	now := time.Now().UTC()
	if err := o.store.FinalizeDebate(debateID, tally, now); err != nil {
		o.logger.Error("full finalize failed, falling back to minimal write",
			"debate_id", debateID, "error", err)
		if merr := o.store.FinalizeDebateMinimal(debateID, tally.Winner, now); merr != nil {
			o.failDebate(debateID, fmt.Sprintf("failed to finalize: %v", merr))
			return fmt.Errorf("failed to finalize debate: %w", merr)
		}
	}

	var announcement string
	switch tally.Winner {
	case core.WinnerNoVotes:
		announcement = "Voting closed with no valid ballots. No winner."
	case core.WinnerTie:
		announcement = fmt.Sprintf("Voting closed in a tie between %s with %d votes each.",
			joinRoster(tally.Winners), tally.WinningVotes)
	default:
		announcement = fmt.Sprintf("Voting closed. %s wins with %d of %d votes.",
			tally.Winner, tally.WinningVotes, tally.TotalVotes)
	}
	if err := o.systemTurn(debateID, core.TurnIndexSideChannel, announcement); err != nil {
		o.logger.Error("failed to record result notice", "debate_id", debateID, "error", err)
	}

	o.pub.Publish(context.Background(), broadcast.Event{
		Type:     broadcast.EventDebateEnded,
		DebateID: debateID,
		Detail:   tally.Winner,
		At:       now,
	})
	o.logger.Info("debate ended", "debate_id", debateID, "winner", tally.Winner,
		"winning_votes", tally.WinningVotes, "total_votes", tally.TotalVotes, "tie", tally.IsTie)
	return nil
}
