package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/arenalive/arena/internal/core"
)

var roster = []string{"model-a", "model-b", "model-c", "model-d"}

func makeTurn(speaker, content string, index int) *core.Turn {
	return &core.Turn{
		ID:        speaker + "-turn",
		DebateID:  "d1",
		Speaker:   speaker,
		TurnIndex: index,
		Content:   content,
		StartedAt: time.Now(),
	}
}

func TestArgumentMessageShape(t *testing.T) {
	b := &Builder{}
	turns := []*core.Turn{
		makeTurn("model-a", "opening point", 1),
		makeTurn("model-b", "counterpoint", 2),
	}
	msgs, err := b.Argument(ArgumentInput{
		Topic:      "Is remote work better?",
		Roster:     roster,
		Speaker:    "model-c",
		Turns:      turns,
		TurnNumber: 3,
		MaxTurns:   40,
	})
	if err != nil {
		t.Fatalf("Argument: %v", err)
	}

	// system, topic, one assistant message per turn, closing user.
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	if msgs[0].Role != core.RoleSystem {
		t.Errorf("first message role = %s, want system", msgs[0].Role)
	}
	if msgs[1].Role != core.RoleUser || !strings.Contains(msgs[1].Content, "Is remote work better?") {
		t.Errorf("second message should state the topic, got %+v", msgs[1])
	}
	if msgs[2].Role != core.RoleAssistant || msgs[2].Content != "model-a: opening point" {
		t.Errorf("transcript message = %+v, want speaker-prefixed assistant message", msgs[2])
	}
	if msgs[3].Content != "model-b: counterpoint" {
		t.Errorf("transcript message = %+v", msgs[3])
	}
	last := msgs[len(msgs)-1]
	if last.Role != core.RoleUser || !strings.Contains(last.Content, "model-c") ||
		!strings.Contains(last.Content, "turn 3 of at most 40") {
		t.Errorf("final message = %+v, want turn handoff", last)
	}
}

func TestArgumentOpeningAndClosingBudgets(t *testing.T) {
	b := &Builder{}

	t.Run("opening", func(t *testing.T) {
		msgs, err := b.Argument(ArgumentInput{
			Topic:      "topic",
			Roster:     roster,
			Speaker:    "model-a",
			TurnNumber: 1,
			MaxTurns:   40,
		})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(msgs[0].Content, "opening statement") {
			t.Error("expected opening budget in system prompt")
		}
	})

	t.Run("closing", func(t *testing.T) {
		turns := []*core.Turn{makeTurn("model-b", "x", 1)}
		msgs, err := b.Argument(ArgumentInput{
			Topic:      "topic",
			Roster:     roster,
			Speaker:    "model-b",
			Turns:      turns,
			TurnNumber: 38, // 3 turns remain with maxTurns=40, roster of 4
			MaxTurns:   40,
		})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(msgs[0].Content, "closing rounds") {
			t.Error("expected closing budget in system prompt")
		}
	})

	t.Run("mid-debate has neither", func(t *testing.T) {
		turns := []*core.Turn{makeTurn("model-a", "x", 1)}
		msgs, err := b.Argument(ArgumentInput{
			Topic:      "topic",
			Roster:     roster,
			Speaker:    "model-a",
			Turns:      turns,
			TurnNumber: 10,
			MaxTurns:   40,
		})
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(msgs[0].Content, "opening statement") ||
			strings.Contains(msgs[0].Content, "closing rounds") {
			t.Error("mid-debate turn should get the standard budget")
		}
	})
}

func TestArgumentMotionWording(t *testing.T) {
	b := &Builder{}

	forced, err := b.Argument(ArgumentInput{
		Topic: "topic", Roster: roster, Speaker: "model-a",
		TurnNumber: 38, MaxTurns: 40, ForceMotion: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(forced[0].Content, `MUST include the exact phrase "`+core.MotionPhrase+`"`) {
		t.Error("expected mandated motion phrase")
	}

	optional, err := b.Argument(ArgumentInput{
		Topic: "topic", Roster: roster, Speaker: "model-a",
		TurnNumber: 5, MaxTurns: 40,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(optional[0].Content, core.MotionPhrase) {
		t.Error("expected motion phrase offered")
	}
	if strings.Contains(optional[0].Content, "MUST include") {
		t.Error("optional motion must not be mandated")
	}
}

func TestArgumentTranscriptWindow(t *testing.T) {
	b := &Builder{Window: 3}
	var turns []*core.Turn
	for i := 1; i <= 6; i++ {
		speaker := roster[(i-1)%len(roster)]
		turns = append(turns, makeTurn(speaker, "argument number "+strings.Repeat("x", i), i))
	}

	msgs, err := b.Argument(ArgumentInput{
		Topic:      "topic",
		Roster:     roster,
		Speaker:    "model-c",
		Turns:      turns,
		TurnNumber: 7,
		MaxTurns:   40,
	})
	if err != nil {
		t.Fatalf("Argument: %v", err)
	}

	// system + topic + 3 windowed turns + handoff.
	if len(msgs) != 6 {
		t.Fatalf("got %d messages, want 6", len(msgs))
	}
	if !strings.HasSuffix(msgs[4].Content, "argument number "+strings.Repeat("x", 6)) {
		t.Errorf("newest turn missing, got %q", msgs[4].Content)
	}
}

func TestArgumentSkipsEmptyTurns(t *testing.T) {
	b := &Builder{}
	turns := []*core.Turn{
		makeTurn("model-a", "", 1),
		makeTurn("model-b", "a real point", 2),
	}
	msgs, err := b.Argument(ArgumentInput{
		Topic:      "topic",
		Roster:     roster,
		Speaker:    "model-c",
		Turns:      turns,
		TurnNumber: 3,
		MaxTurns:   40,
	})
	if err != nil {
		t.Fatalf("Argument: %v", err)
	}
	for _, m := range msgs {
		if strings.HasPrefix(m.Content, "model-a:") {
			t.Error("empty turn should be omitted from the transcript")
		}
	}
}

func TestVoting(t *testing.T) {
	b := &Builder{Window: 2}
	turns := []*core.Turn{
		makeTurn(core.SpeakerSystem, "Debate started.", 0),
		makeTurn("model-a", "point one", 1),
		makeTurn("model-b", "point two", 2),
		makeTurn("model-c", "point three", 3),
	}

	msgs, err := b.Voting("the topic", turns, roster, "model-d")
	if err != nil {
		t.Fatalf("Voting: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "model-d") {
		t.Error("expected voter identity in system prompt")
	}
	if !strings.Contains(msgs[0].Content, "exactly one participant") {
		t.Error("expected bare-identifier instruction")
	}
	// The voting transcript ignores the window and system turns.
	if !strings.Contains(msgs[1].Content, "model-a: point one") {
		t.Error("expected full transcript in voting prompt")
	}
	if strings.Contains(msgs[1].Content, "Debate started.") {
		t.Error("system turns should be excluded from the voting transcript")
	}
}
