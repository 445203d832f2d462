package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/arenalive/arena/internal/core"
)

func renderMarkdown(w io.Writer, tr *Transcript) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", tr.Debate.Topic)
	fmt.Fprintf(&sb, "- **Category:** %s\n", tr.Debate.Category)
	fmt.Fprintf(&sb, "- **Participants:** %s\n", strings.Join(tr.Debate.Roster, ", "))
	fmt.Fprintf(&sb, "- **Status:** %s\n", tr.Debate.Status)
	fmt.Fprintf(&sb, "- **Started:** %s\n", tr.Debate.StartedAt.Format("2006-01-02 15:04 MST"))
	if tr.Debate.EndedAt != nil {
		fmt.Fprintf(&sb, "- **Ended:** %s\n", tr.Debate.EndedAt.Format("2006-01-02 15:04 MST"))
	}
	if tr.Debate.Winner != "" {
		switch tr.Debate.Winner {
		case core.WinnerNoVotes:
			sb.WriteString("- **Result:** no valid ballots\n")
		case core.WinnerTie:
			fmt.Fprintf(&sb, "- **Result:** tie with %d votes\n", tr.Debate.WinningVotes)
		default:
			fmt.Fprintf(&sb, "- **Result:** %s (%d of %d votes)\n",
				tr.Debate.Winner, tr.Debate.WinningVotes, tr.Debate.TotalVotes)
		}
	}
	sb.WriteString("\n## Transcript\n\n")

	for _, turn := range tr.Turns {
		if turn.Content == "" {
			continue
		}
		if turn.IsSystem() {
			fmt.Fprintf(&sb, "> %s\n\n", turn.Content)
			continue
		}
		fmt.Fprintf(&sb, "### %s (turn %d)\n\n%s\n\n", turn.Speaker, turn.TurnIndex, turn.Content)
	}

	if len(tr.Votes) > 0 {
		sb.WriteString("## Votes\n\n")
		for _, vote := range tr.Votes {
			fmt.Fprintf(&sb, "- %s voted for %s\n", vote.Voter, vote.VoteFor)
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func renderJSON(w io.Writer, tr *Transcript) error {
	payload := struct {
		Debate *core.Debate `json:"debate"`
		Turns  []*core.Turn `json:"turns"`
		Votes  []*core.Vote `json:"votes"`
	}{tr.Debate, tr.Turns, tr.Votes}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
