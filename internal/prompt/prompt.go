// Package prompt builds the chat messages sent to debate participants.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/arenalive/arena/internal/core"
)

// DefaultWindow is how many recent turns are replayed to a speaker.
const DefaultWindow = 10

const argumentSystemTemplate = `You are {{.Speaker}}, a participant in a live multi-model debate.

Participants, in speaking order: {{.RosterList}}. Turns proceed strictly round robin.

Rules:
- Take a definitive stance. Hedging loses debates.
- Engage with what the other participants have said. Rebut or build on their points by name. A little snark is welcome.
- Keep your response under 150 words.
{{- if .Opening}}
- This is your opening statement, so you may run longer: stake out a clear position in up to 250 words.
{{- else if .Closing}}
- The debate is in its closing rounds, so you may run longer: summarize your case in up to 250 words.
{{- end}}
{{- if .ForceMotion}}
- You MUST include the exact phrase "{{.MotionPhrase}}" in your response, then give your closing summary.
{{- else}}
- If you believe the debate has run its course, you may include the exact phrase "{{.MotionPhrase}}" in your response. The debate ends only when every participant's most recent turn includes it.
{{- end}}`

const votingSystemTemplate = `You are {{.Voter}}, a participant in a debate that has just concluded.

The participants were: {{.RosterList}}.

You must now vote for the participant who argued best. Respond with the identifier of exactly one participant, written exactly as above. No ties, no explanation, nothing else.`

var (
	argumentTmpl = template.Must(template.New("argument").Parse(argumentSystemTemplate))
	votingTmpl   = template.Must(template.New("voting").Parse(votingSystemTemplate))
)

// Builder renders argument and voting prompts. Pure computation, no
// I/O.
type Builder struct {
	// Window caps how many recent turns are replayed in argument
	// prompts. Zero means DefaultWindow. Voting prompts always see the
	// full transcript.
	Window int
}

// ArgumentInput carries everything needed to prompt the next speaker.
type ArgumentInput struct {
	Topic       string
	Roster      []string
	Speaker     string
	Turns       []*core.Turn // full history, system turns included
	TurnNumber  int          // 1-based participant turn about to be taken
	MaxTurns    int
	ForceMotion bool
}

// Argument builds the message list for a speaker's next turn: a system
// message with the rules, a user message stating the topic, one
// assistant message per replayed transcript turn, and a final user
// message naming whose turn it is.
func (b *Builder) Argument(in ArgumentInput) ([]core.Message, error) {
	participant := core.ParticipantTurns(in.Turns)
	remaining := in.MaxTurns - in.TurnNumber + 1

	data := struct {
		Speaker      string
		RosterList   string
		Opening      bool
		Closing      bool
		ForceMotion  bool
		MotionPhrase string
	}{
		Speaker:      in.Speaker,
		RosterList:   strings.Join(in.Roster, ", "),
		Opening:      countBy(participant, in.Speaker) == 0,
		Closing:      remaining <= len(in.Roster),
		ForceMotion:  in.ForceMotion,
		MotionPhrase: core.MotionPhrase,
	}

	var sys strings.Builder
	if err := argumentTmpl.Execute(&sys, data); err != nil {
		return nil, fmt.Errorf("failed to render argument prompt: %w", err)
	}

	window := b.Window
	if window <= 0 {
		window = DefaultWindow
	}

	messages := []core.Message{
		{Role: core.RoleSystem, Content: sys.String()},
		{Role: core.RoleUser, Content: "The debate topic is: " + in.Topic},
	}
	for _, turn := range windowed(in.Turns, window) {
		if turn.Content == "" {
			continue
		}
		messages = append(messages, core.Message{
			Role:    core.RoleAssistant,
			Content: fmt.Sprintf("%s: %s", turn.Speaker, turn.Content),
		})
	}
	messages = append(messages, core.Message{
		Role: core.RoleUser,
		Content: fmt.Sprintf("It is now your turn, %s. This is turn %d of at most %d.",
			in.Speaker, in.TurnNumber, in.MaxTurns),
	})
	return messages, nil
}

// Voting builds the two-message ballot request for one voter. Only
// participant turns are replayed; the voter judges the debate content,
// not operational notices.
func (b *Builder) Voting(topic string, turns []*core.Turn, roster []string, voter string) ([]core.Message, error) {
	data := struct {
		Voter      string
		RosterList string
	}{
		Voter:      voter,
		RosterList: strings.Join(roster, ", "),
	}

	var sys strings.Builder
	if err := votingTmpl.Execute(&sys, data); err != nil {
		return nil, fmt.Errorf("failed to render voting prompt: %w", err)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "The debate topic was: %s\n\nFull transcript:\n\n", topic)
	for _, turn := range core.ParticipantTurns(turns) {
		if turn.Content == "" {
			continue
		}
		fmt.Fprintf(&user, "%s: %s\n\n", turn.Speaker, turn.Content)
	}
	user.WriteString("Who argued best? Cast your vote now.")

	return []core.Message{
		{Role: core.RoleSystem, Content: sys.String()},
		{Role: core.RoleUser, Content: user.String()},
	}, nil
}

// windowed returns the last n turns, keeping system notices that fall
// inside the window.
func windowed(turns []*core.Turn, n int) []*core.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func countBy(turns []*core.Turn, speaker string) int {
	count := 0
	for _, t := range turns {
		if t.Speaker == speaker {
			count++
		}
	}
	return count
}
