package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

func renderPDF(w io.Writer, tr *Transcript) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, tr.Debate.Topic, "", "L", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	meta := fmt.Sprintf("Category: %s    Participants: %s",
		tr.Debate.Category, strings.Join(tr.Debate.Roster, ", "))
	pdf.MultiCell(0, 5, meta, "", "L", false)
	if tr.Debate.Winner != "" {
		pdf.MultiCell(0, 5, fmt.Sprintf("Winner: %s (%d of %d votes)",
			tr.Debate.Winner, tr.Debate.WinningVotes, tr.Debate.TotalVotes), "", "L", false)
	}
	pdf.Ln(4)
	pdf.SetTextColor(0, 0, 0)

	for _, turn := range tr.Turns {
		if turn.Content == "" {
			continue
		}
		if turn.IsSystem() {
			pdf.SetFont("Helvetica", "I", 10)
			pdf.SetTextColor(120, 120, 120)
			pdf.MultiCell(0, 5, turn.Content, "", "L", false)
			pdf.SetTextColor(0, 0, 0)
			pdf.Ln(3)
			continue
		}

		pdf.SetFont("Helvetica", "B", 12)
		pdf.MultiCell(0, 6, fmt.Sprintf("%s (turn %d)", turn.Speaker, turn.TurnIndex), "", "L", false)
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 5.5, turn.Content, "", "L", false)
		pdf.Ln(4)
	}

	if len(tr.Votes) > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.MultiCell(0, 6, "Votes", "", "L", false)
		pdf.SetFont("Helvetica", "", 11)
		for _, vote := range tr.Votes {
			pdf.MultiCell(0, 5.5, fmt.Sprintf("%s voted for %s", vote.Voter, vote.VoteFor), "", "L", false)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	return nil
}
