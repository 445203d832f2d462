package core

import (
	"strings"
)

// Tally is the aggregated result of a voting round.
type Tally struct {
	Winner       string         `json:"winner"` // model id, WinnerTie, or WinnerNoVotes
	Winners      []string       `json:"winners,omitempty"`
	WinningVotes int            `json:"winning_votes"`
	TotalVotes   int            `json:"total_votes"` // valid ballots only
	IsTie        bool           `json:"is_tie"`
	Counts       map[string]int `json:"counts"`
}

// TallyVotes aggregates ballots into a winner. Only ballots naming a
// roster member count; invalid ballots are excluded from TotalVotes.
// Zero valid ballots yields WinnerNoVotes, a shared maximum yields
// WinnerTie with all tied names retained in Winners.
func TallyVotes(votes []*Vote, roster []string) Tally {
	valid := make(map[string]bool, len(roster))
	for _, m := range roster {
		valid[m] = true
	}

	counts := make(map[string]int)
	total := 0
	for _, v := range votes {
		if !valid[v.VoteFor] {
			continue
		}
		counts[v.VoteFor]++
		total++
	}

	max := 0
	var winners []string
	// Iterate in roster order so Winners is deterministic.
	for _, m := range roster {
		c := counts[m]
		if c == 0 {
			continue
		}
		if c > max {
			max = c
			winners = []string{m}
		} else if c == max {
			winners = append(winners, m)
		}
	}

	tally := Tally{
		Winners:      winners,
		WinningVotes: max,
		TotalVotes:   total,
		Counts:       counts,
	}

	switch {
	case len(winners) == 0:
		tally.Winner = WinnerNoVotes
	case len(winners) == 1:
		tally.Winner = winners[0]
	default:
		tally.Winner = WinnerTie
		tally.IsTie = true
	}

	return tally
}

// MotionCarried reports whether every roster member that has spoken at
// least once included the motion phrase in its most recent turn. Members
// with no turns are not counted; a member whose latest turn lacks the
// phrase always blocks the motion. The match is a verbatim substring
// check against MotionPhrase.
func MotionCarried(turns []*Turn, roster []string) bool {
	member := make(map[string]bool, len(roster))
	for _, m := range roster {
		member[m] = true
	}

	latest := make(map[string]string)
	for _, t := range turns {
		if t.IsSystem() || !member[t.Speaker] {
			continue
		}
		latest[t.Speaker] = t.Content
	}

	if len(latest) == 0 {
		return false
	}
	for _, content := range latest {
		if !strings.Contains(content, MotionPhrase) {
			return false
		}
	}
	return true
}

// NextSpeaker returns the roster member whose turn is next under strict
// round robin, given the number of participant turns completed so far.
func NextSpeaker(roster []string, participantTurns int) string {
	return roster[participantTurns%len(roster)]
}

// ParticipantTurns filters out system turns, preserving order.
func ParticipantTurns(turns []*Turn) []*Turn {
	out := make([]*Turn, 0, len(turns))
	for _, t := range turns {
		if !t.IsSystem() {
			out = append(out, t)
		}
	}
	return out
}

// ParseBallot maps a raw voting response onto a roster member. The first
// roster member whose identifier appears in the response
// (case-insensitively) wins; anything else is VoteInvalid rather than a
// guess.
func ParseBallot(response string, roster []string) string {
	lowered := strings.ToLower(strings.TrimSpace(response))
	for _, m := range roster {
		if strings.Contains(lowered, strings.ToLower(m)) {
			return m
		}
	}
	return VoteInvalid
}
