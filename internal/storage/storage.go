// Package storage provides persistence for debates, turns, votes, and
// operator flags.
package storage

import (
	"time"

	"github.com/arenalive/arena/internal/core"
)

// Storage defines the interface for debate persistence.
type Storage interface {
	// Initialize sets up the storage (creates tables, seeds the flags row).
	Initialize() error

	// Close closes the storage connection.
	Close() error

	// Debate operations
	CreateDebate(debate *core.Debate) error
	GetDebate(id string) (*core.Debate, error)
	ListDebates(limit, offset int) ([]*core.Debate, error)
	// ActiveDebates returns debates in a non-terminal status.
	ActiveDebates() ([]*core.Debate, error)
	// StaleDebates returns active debates whose heartbeat is older than the cutoff.
	StaleDebates(olderThan time.Time) ([]*core.Debate, error)
	// ClaimDebate refreshes the heartbeat only if it still matches the
	// observed value, and reports whether the claim succeeded. Used by
	// recovery to guard against two processes resuming the same debate.
	ClaimDebate(id string, seen, now time.Time) (bool, error)
	// AdvanceDebate moves the turn pointer and refreshes the heartbeat.
	AdvanceDebate(id string, nextTurnIndex int, nextModel string, at time.Time) error
	SetDebateStatus(id string, status core.DebateStatus, detail string, endedAt *time.Time) error
	// FinalizeDebate commits the voting outcome and marks the debate ended.
	FinalizeDebate(id string, tally core.Tally, at time.Time) error
	// FinalizeDebateMinimal is the reduced fallback write (status + winner
	// only) used when the full finalize fails.
	FinalizeDebateMinimal(id string, winner string, at time.Time) error

	// Turn operations
	CreateTurn(turn *core.Turn) error
	// UpdateTurnContent persists in-flight streaming progress.
	UpdateTurnContent(id, content string) error
	SetTurnFirstToken(id string, ttftMillis int64) error
	// FinishTurn finalizes content, token count, and finished_at.
	FinishTurn(id, content string, tokens int, at time.Time) error
	GetTurns(debateID string) ([]*core.Turn, error)

	// Vote operations
	CreateVote(vote *core.Vote) error
	GetVotes(debateID string) ([]*core.Vote, error)

	// Operator flags (single row, externally mutable)
	GetFlags() (*core.FlagSnapshot, error)
	SetFlags(flags *core.FlagSnapshot) error
}
