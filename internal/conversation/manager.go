// Package conversation orchestrates conversation lifecycle and message
// routing between the store and the upstream agents. It owns the setup
// warm-up policy and the plain/agent-backed routing state machine.
package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hari-co/AtlasTalk/internal/provider"
	"github.com/hari-co/AtlasTalk/internal/store"
)

// SetupResult is what setting up an agent conversation returns. DirectorID is
// only set when a scenario prompt was supplied; WarmupOK reports the primary
// conversation's warm-up call only.
type SetupResult struct {
	ConversationID string `json:"conversation_id"`
	DirectorID     string `json:"director_id,omitempty"`
	WarmupOK       bool   `json:"warmup_ok"`
}

// Manager creates conversations and manages their ownership.
type Manager struct {
	store    store.Store
	resolver provider.Resolver
	log      *slog.Logger
}

// NewManager wires a lifecycle manager over a store and an agent resolver.
func NewManager(s store.Store, r provider.Resolver, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: s, resolver: r, log: log}
}

// SetupAgent validates the agent, persists a new conversation seeded with the
// locale system message, and warms the upstream provider. The warm-up is best
// effort: an unreachable provider is logged and reflected in WarmupOK, never
// an error. An unknown agent or missing credential aborts before any write,
// so no partial record exists.
//
// When scenarioPrompt is non-empty a second conversation bound to the GEMINI
// director is created alongside, carrying the roleplay-direction system
// prompt. The two records are independent; only the returned ids link them.
func (m *Manager) SetupAgent(ctx context.Context, agent, country, language, scenarioPrompt string) (*SetupResult, error) {
	client, err := m.resolver.Resolve(agent)
	if err != nil {
		return nil, err
	}

	system := store.Message{
		Role:    store.RoleSystem,
		Content: localeSystemMessage(country, language),
	}
	metadata := map[string]any{
		"country":  country,
		"language": language,
	}
	if scenarioPrompt != "" {
		metadata["scenario_prompt"] = scenarioPrompt
	}

	id, err := m.store.Create(ctx, agent, []store.Message{system}, metadata)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	result := &SetupResult{ConversationID: id, WarmupOK: true}

	var directorSystem string
	if scenarioPrompt != "" {
		directorSystem = directorSystemPrompt(scenarioPrompt, language)
		directorID, err := m.store.Create(ctx, provider.GeminiAgent,
			[]store.Message{{Role: store.RoleSystem, Content: directorSystem}},
			map[string]any{
				"language":        language,
				"scenario_prompt": scenarioPrompt,
				"role":            "director",
			})
		if err != nil {
			return nil, fmt.Errorf("create director conversation: %w", err)
		}
		result.DirectorID = directorID
	}

	// Warm both upstreams in parallel. Failures are logged, never returned:
	// the conversation records already exist and stay valid.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		if err := m.warmup(gctx, client, system.Content); err != nil {
			m.log.Warn("agent warm-up failed",
				"agent", agent, "conversation_id", id, "error", err)
			result.WarmupOK = false
		}
		return nil
	})
	if result.DirectorID != "" {
		g.Go(func() error {
			director, err := m.resolver.Resolve(provider.GeminiAgent)
			if err == nil {
				err = m.warmup(gctx, director, directorSystem)
			}
			if err != nil {
				m.log.Warn("director warm-up failed",
					"conversation_id", result.DirectorID, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	return result, nil
}

func (m *Manager) warmup(ctx context.Context, client provider.Client, system string) error {
	_, err := client.Converse(ctx, []provider.Message{
		{Role: string(store.RoleSystem), Content: system},
	})
	return err
}

// AttachOwner sets conversation ownership after the fact. Returns
// store.ErrNotFound if the conversation doesn't exist.
func (m *Manager) AttachOwner(ctx context.Context, conversationID, owner string) error {
	return m.store.SetOwner(ctx, conversationID, owner)
}

// localeSystemMessage seeds an agent conversation with the practice locale.
func localeSystemMessage(country, language string) string {
	return fmt.Sprintf("Your country is set to %s, and your language is %s.", country, language)
}

// directorSystemPrompt instructs the GEMINI director to run the roleplay.
func directorSystemPrompt(scenarioPrompt, language string) string {
	return fmt.Sprintf(
		"You are directing a language-practice roleplay in %s. Scenario: %s. "+
			"Stay in character, keep your replies short and conversational, and "+
			"steer the learner toward completing the scenario's goals.",
		language, scenarioPrompt)
}
