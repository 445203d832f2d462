package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/arenalive/arena/internal/core"
)

func sampleTranscript() *Transcript {
	started := time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC)
	ended := started.Add(20 * time.Minute)
	d := &core.Debate{
		ID:           "d1",
		Topic:        "Should cities ban private cars?",
		Category:     "society",
		Roster:       []string{"alpha", "beta"},
		Status:       core.StatusEnded,
		StartedAt:    started,
		EndedAt:      &ended,
		Winner:       "beta",
		WinningVotes: 2,
		TotalVotes:   2,
	}
	turns := []*core.Turn{
		{ID: "t0", DebateID: "d1", Speaker: core.SpeakerSystem, TurnIndex: 0, Content: "Debate started.", StartedAt: started},
		{ID: "t1", DebateID: "d1", Speaker: "alpha", TurnIndex: 1, Content: "Cars should stay.", StartedAt: started},
		{ID: "t2", DebateID: "d1", Speaker: "beta", TurnIndex: 2, Content: "Ban them.", StartedAt: started},
		{ID: "t3", DebateID: "d1", Speaker: "alpha", TurnIndex: 3, Content: "", StartedAt: started},
	}
	votes := []*core.Vote{
		{ID: "v1", DebateID: "d1", Voter: "alpha", VoteFor: "beta", CreatedAt: ended},
		{ID: "v2", DebateID: "d1", Voter: "beta", VoteFor: "beta", CreatedAt: ended},
	}
	return &Transcript{Debate: d, Turns: turns, Votes: votes}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"":         FormatMarkdown,
		"md":       FormatMarkdown,
		"markdown": FormatMarkdown,
		"json":     FormatJSON,
		"pdf":      FormatPDF,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil {
			t.Errorf("ParseFormat(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseFormat("docx"); err == nil {
		t.Error("expected unknown format to be rejected")
	}
}

func TestRenderMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatMarkdown, sampleTranscript()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# Should cities ban private cars?",
		"**Result:** beta (2 of 2 votes)",
		"### alpha (turn 1)",
		"> Debate started.",
		"- alpha voted for beta",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	if strings.Contains(out, "turn 3") {
		t.Error("empty turn should be omitted")
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatJSON, sampleTranscript()); err != nil {
		t.Fatalf("Render: %v", err)
	}

	var payload struct {
		Debate core.Debate  `json:"debate"`
		Turns  []*core.Turn `json:"turns"`
		Votes  []*core.Vote `json:"votes"`
	}
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if payload.Debate.Winner != "beta" {
		t.Errorf("winner = %q, want beta", payload.Debate.Winner)
	}
	if len(payload.Turns) != 4 || len(payload.Votes) != 2 {
		t.Errorf("got %d turns and %d votes, want 4 and 2", len(payload.Turns), len(payload.Votes))
	}
}

func TestRenderPDF(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatPDF, sampleTranscript()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Error("output does not look like a PDF")
	}
}
