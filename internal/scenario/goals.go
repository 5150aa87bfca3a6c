package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hari-co/AtlasTalk/internal/provider"
	"github.com/hari-co/AtlasTalk/pkg/observability"
)

// Goal is one scenario objective with its completion flag.
type Goal struct {
	Goal      string `json:"goal"`
	Completed bool   `json:"completed"`
}

// goalHistoryWindow is how many trailing turns feed the goal-check prompt.
const goalHistoryWindow = 4

// UpdateGoals asks the model which goals the conversation has completed and
// merges the answer into a copy of goals. Completion is monotonic: a goal
// already marked completed stays completed whatever the model says. Any
// generation or parse failure returns the input list unchanged.
func (s *Service) UpdateGoals(ctx context.Context, userText string, history []provider.Message, goals []Goal) []Goal {
	if len(goals) == 0 {
		return goals
	}

	out, err := s.gen.Generate(ctx, goalPrompt(userText, history, goals))
	if err != nil {
		observability.RecordGoalCheck("error")
		s.log.Warn("goal check failed, keeping current state", "error", err)
		return goals
	}

	var flags []bool
	if !decodeArray(out, &flags) {
		observability.RecordGoalCheck("parse_error")
		s.log.Warn("goal check response not parseable, keeping current state", "response", out)
		return goals
	}
	observability.RecordGoalCheck("ok")

	updated := append([]Goal(nil), goals...)
	for i := range updated {
		if i >= len(flags) {
			break
		}
		updated[i].Completed = updated[i].Completed || flags[i]
	}
	return updated
}

func goalPrompt(userText string, history []provider.Message, goals []Goal) string {
	names := make([]string, len(goals))
	for i, g := range goals {
		names[i] = g.Goal
	}
	nameJSON, _ := json.MarshalIndent(names, "", "  ")

	var b strings.Builder
	b.WriteString("You are analyzing a conversation to determine if goals have been achieved.\n\n")
	fmt.Fprintf(&b, "Current goals:\n%s\n", nameJSON)

	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		start := len(history) - goalHistoryWindow
		if start < 0 {
			start = 0
		}
		for _, m := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}

	fmt.Fprintf(&b, "\nLatest user message: %q\n\n", userText)
	b.WriteString("For each goal, determine if it has been completed based on the conversation.\n\n")
	b.WriteString("Return ONLY a JSON array of booleans representing completion status for each goal, in order.\n")
	b.WriteString("Example: [true, false, true]\n\n")
	b.WriteString("Do not add any explanation or additional text. Only the JSON array.")
	return b.String()
}
