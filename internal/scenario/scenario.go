// Package scenario generates roleplay scenarios, tracks goal completion, and
// runs freeform practice chats over an in-memory session store. All model
// output is structured JSON requested by prompt; parsing failures degrade to
// defaults instead of surfacing, because a flaky model must never break the
// conversation flow.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hari-co/AtlasTalk/internal/provider"
)

// Scenario is a generated roleplay setting.
type Scenario struct {
	Title       string `json:"scenario_title"`
	Description string `json:"description"`
	Character   string `json:"ai_character"`
	Environment string `json:"environment"`
	Goals       []Goal `json:"goals"`
	OpeningLine string `json:"opening_line"`
}

// Service runs scenario generation and roleplay chats against a freeform
// generator.
type Service struct {
	gen      provider.Generator
	sessions *SessionStore
	log      *slog.Logger
}

// NewService wires a scenario service. The session store may be shared with
// other consumers; the service does not stop it.
func NewService(gen provider.Generator, sessions *SessionStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{gen: gen, sessions: sessions, log: log}
}

const scenarioPromptTemplate = `You are a roleplay generator for conversation practice.

User's requested scenario: %q

Generate a conversational roleplay scenario. Respond ONLY with valid JSON in this exact format:

{
  "scenario_title": "Brief title for the scenario",
  "description": "Short description of what the user will practice",
  "ai_character": "Who the AI will play as",
  "environment": "Where the conversation takes place",
  "goals": [
    { "goal": "First goal to accomplish", "completed": false },
    { "goal": "Second goal to accomplish", "completed": false },
    { "goal": "Third goal to accomplish", "completed": false }
  ],
  "opening_line": "What the AI character says to start the conversation"
}

Make it realistic and interactive. Keep goals simple and achievable through conversation.`

// GenerateScenario asks the model for a structured scenario. A generation or
// parse failure yields a synthesized generic scenario rather than an error.
func (s *Service) GenerateScenario(ctx context.Context, prompt string) *Scenario {
	out, err := s.gen.Generate(ctx, fmt.Sprintf(scenarioPromptTemplate, prompt))
	if err != nil {
		s.log.Warn("scenario generation failed, using fallback", "error", err)
		return fallbackScenario(prompt)
	}

	var sc Scenario
	if !decodeObject(out, &sc) || sc.Title == "" {
		s.log.Warn("scenario response not parseable, using fallback", "response", out)
		return fallbackScenario(prompt)
	}
	return &sc
}

func fallbackScenario(prompt string) *Scenario {
	return &Scenario{
		Title:       "Practice: " + prompt,
		Description: "Practice conversation for " + prompt,
		Character:   "AI Assistant",
		Environment: "General setting",
		Goals: []Goal{
			{Goal: "Start the conversation"},
			{Goal: "Complete the main task"},
			{Goal: "End politely"},
		},
		OpeningLine: fmt.Sprintf("Hello! Let's practice %s. How can I help you today?", prompt),
	}
}

// ChatResult is one completed roleplay exchange.
type ChatResult struct {
	UserText  string `json:"user_text"`
	Reply     string `json:"ai_reply"`
	Goals     []Goal `json:"updated_goals"`
	SessionID string `json:"session_id"`
}

// chatHistoryWindow is how many trailing session turns feed the chat prompt.
const chatHistoryWindow = 6

// Chat runs one roleplay turn inside a session. The scenario context is
// captured on the session's first message and ignored afterwards. Goal state
// is refreshed after the exchange when the session carries goals.
func (s *Service) Chat(ctx context.Context, sessionID, userText string, scenarioCtx *Scenario) (*ChatResult, error) {
	if sessionID == "" {
		sessionID = "default"
	}
	sess := s.sessions.GetOrCreate(sessionID)

	sess.mu.Lock()
	if len(sess.History) == 0 && scenarioCtx != nil {
		sess.Scenario = scenarioCtx
		sess.Goals = append([]Goal(nil), scenarioCtx.Goals...)
	}
	scCtx := sess.Scenario
	history := append([]provider.Message(nil), sess.History...)
	sess.mu.Unlock()

	reply, err := s.gen.Generate(ctx, chatPrompt(userText, scCtx, history))
	if err != nil {
		return nil, err
	}
	reply = strings.TrimSpace(reply)

	sess.mu.Lock()
	sess.History = append(sess.History,
		provider.Message{Role: "user", Content: userText},
		provider.Message{Role: "assistant", Content: reply},
	)
	goals := append([]Goal(nil), sess.Goals...)
	history = append([]provider.Message(nil), sess.History...)
	sess.mu.Unlock()

	if len(goals) > 0 {
		goals = s.UpdateGoals(ctx, userText, history, goals)
		sess.mu.Lock()
		sess.Goals = goals
		sess.mu.Unlock()
	}

	return &ChatResult{
		UserText:  userText,
		Reply:     reply,
		Goals:     goals,
		SessionID: sessionID,
	}, nil
}

func chatPrompt(userText string, sc *Scenario, history []provider.Message) string {
	var b strings.Builder

	if sc != nil {
		fmt.Fprintf(&b, `You are roleplaying as a character in a conversation practice scenario.

SCENARIO CONTEXT:
- Scenario: %s
- Character: %s
- Environment: %s
- Description: %s

Your role: You are playing the character %q in a realistic practice scenario. Respond naturally and in character.
`, sc.Title, sc.Character, sc.Environment, sc.Description, sc.Character)
	} else {
		b.WriteString("You are a helpful AI assistant for conversation practice.\n")
	}

	if len(history) > 0 {
		b.WriteString("\nCONVERSATION HISTORY:\n")
		start := len(history) - chatHistoryWindow
		if start < 0 {
			start = 0
		}
		for _, m := range history[start:] {
			switch m.Role {
			case "user":
				fmt.Fprintf(&b, "User: %s\n", m.Content)
			case "assistant":
				fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
			}
		}
	}

	fmt.Fprintf(&b, "\nUSER'S MESSAGE: %q\n\n", userText)
	b.WriteString("Respond naturally as the character in this scenario. Keep your response conversational and appropriate for the context. If the user is continuing a previous topic, acknowledge that continuity.")
	return b.String()
}
