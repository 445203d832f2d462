// Package core contains the core domain types for arena.
package core

import (
	"time"
)

// DebateStatus represents the current status of a debate.
type DebateStatus string

const (
	StatusRunning DebateStatus = "running"
	StatusVoting  DebateStatus = "voting"
	StatusEnded   DebateStatus = "ended"
	StatusError   DebateStatus = "error"
	StatusAborted DebateStatus = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s DebateStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusError, StatusAborted:
		return true
	}
	return false
}

// SpeakerSystem is the reserved speaker id for system-authored turns.
const SpeakerSystem = "system"

// Sentinel winner/ballot values. These are persisted verbatim, so they
// must never collide with a real model identifier.
const (
	VoteInvalid   = "invalid_vote"
	WinnerNoVotes = "no_valid_votes"
	WinnerTie     = "tie"
)

// MotionPhrase is the exact literal a participant must include to move
// that the debate end. The prompt builder offers (or mandates) this
// phrase and the loop detects it with a verbatim substring match, so it
// must only ever change in one place.
const MotionPhrase = "I motion to end debate"

// Reserved turn indexes for system turns.
const (
	TurnIndexSideChannel  = -1 // operational notices interleaved with the debate
	TurnIndexAnnouncement = 0  // the opening announcement when a debate is created
)

// Debate represents one debate instance between roster models.
type Debate struct {
	ID               string       `json:"id"`
	Topic            string       `json:"topic"`
	Category         string       `json:"category"`
	Roster           []string     `json:"roster"` // turn order, fixed for the debate's lifetime
	Status           DebateStatus `json:"status"`
	CurrentTurnIndex int          `json:"current_turn_index"`
	CurrentModel     string       `json:"current_model"`
	StartedAt        time.Time    `json:"started_at"`
	LastActivityAt   time.Time    `json:"last_activity_at"`
	EndedAt          *time.Time   `json:"ended_at,omitempty"`
	Winner           string       `json:"winner,omitempty"`
	WinningVotes     int          `json:"winning_votes"`
	TotalVotes       int          `json:"total_votes"`
	IsTie            bool         `json:"is_tie"`
	Detail           string       `json:"detail,omitempty"`
}

// Active reports whether the debate is in a non-terminal status.
func (d *Debate) Active() bool {
	return !d.Status.Terminal()
}

// Turn represents a single utterance by a participant or the system.
type Turn struct {
	ID         string     `json:"id"`
	DebateID   string     `json:"debate_id"`
	Speaker    string     `json:"speaker"`
	TurnIndex  int        `json:"turn_index"`
	Content    string     `json:"content"`
	Tokens     int        `json:"tokens"`
	TTFTMillis *int64     `json:"ttft_ms,omitempty"` // time to first token
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// IsSystem reports whether the turn was authored by the system channel.
func (t *Turn) IsSystem() bool {
	return t.Speaker == SpeakerSystem
}

// Vote represents one participant's ballot during the voting phase.
type Vote struct {
	ID        string    `json:"id"`
	DebateID  string    `json:"debate_id"`
	Voter     string    `json:"voter"`
	VoteFor   string    `json:"vote_for"` // roster member or VoteInvalid
	CreatedAt time.Time `json:"created_at"`
}

// FlagSnapshot is a point-in-time read of the operator flags. Snapshots
// are never cached across a suspension point; callers re-read before
// every decision.
type FlagSnapshot struct {
	KillSwitch       bool `json:"kill_switch"`
	Paused           bool `json:"paused"`
	Abort            bool `json:"abort"`
	EnableNewDebates bool `json:"enable_new_debates"`
	EnableVoting     bool `json:"enable_voting"`
	EnableLogging    bool `json:"enable_logging"`
	// MotionToEnd makes every prompt mandate the motion phrase, letting
	// an operator wind down the current debate gracefully.
	MotionToEnd bool `json:"motion_to_end"`
}

// Halting reports whether a terminal operator signal is set.
func (f *FlagSnapshot) Halting() bool {
	return f.KillSwitch || f.Abort
}

// Message is one chat message sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
