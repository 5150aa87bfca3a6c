package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hari-co/AtlasTalk/internal/provider"
	"github.com/hari-co/AtlasTalk/internal/store"
	"github.com/hari-co/AtlasTalk/pkg/observability"
)

// DefaultWindow is how many trailing messages are sent upstream as context.
// It is intentionally smaller than store.DefaultRetention so that context
// trimming and storage trimming never interact.
const DefaultWindow = 50

// ErrNotAgentBacked is returned when an operation requires an upstream agent
// but the conversation has none.
var ErrNotAgentBacked = errors.New("conversation is not agent-backed")

// PostResult is the outcome of routing one message. Reply is empty for plain
// conversations, which only acknowledge the append.
type PostResult struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply,omitempty"`
}

// Router routes incoming messages per conversation state: a plain
// conversation (no agent) only persists, an agent-backed one persists, calls
// upstream, and persists the reply.
type Router struct {
	store    store.Store
	resolver provider.Resolver
	log      *slog.Logger

	// Window is the history tail length used as upstream context.
	Window int
	// Retention is the store-side history cap passed to every append.
	Retention int
}

// NewRouter wires a message router with the default window and retention.
func NewRouter(s store.Store, r provider.Resolver, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		store:     s,
		resolver:  r,
		log:       log,
		Window:    DefaultWindow,
		Retention: store.DefaultRetention,
	}
}

// Post routes one user message. The user turn is persisted before any
// upstream work, so a provider failure still leaves the input durable; such a
// failure surfaces as *provider.UpstreamError with the append already
// committed. Plain conversations never touch a provider.
func (r *Router) Post(ctx context.Context, conversationID, content string) (*PostResult, error) {
	conv, err := r.store.Find(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	user := store.Message{Role: store.RoleUser, Content: content}
	if err := r.append(ctx, conversationID, user); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	if conv.Agent == "" {
		return &PostResult{ConversationID: conversationID}, nil
	}

	tail, err := r.store.ReadTail(ctx, conversationID, r.Window)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	client, err := r.resolver.Resolve(conv.Agent)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := client.Converse(ctx, toProviderHistory(tail))
	if err != nil {
		observability.RecordAgentCall(conv.Agent, "error", time.Since(start))
		return nil, err
	}
	observability.RecordAgentCall(conv.Agent, "ok", time.Since(start))

	assistant := store.Message{Role: store.RoleAssistant, Content: reply}
	if err := r.append(ctx, conversationID, assistant); err != nil {
		// The upstream exchange happened; losing the assistant turn is worth
		// logging distinctly from an ordinary append failure.
		r.log.Error("assistant reply not persisted",
			"conversation_id", conversationID, "agent", conv.Agent, "error", err)
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	return &PostResult{ConversationID: conversationID, Reply: reply}, nil
}

// EndInCharacter asks the agent to wrap up the conversation in character. The
// closing instruction is synthesized from the conversation's scenario
// metadata and routed through Post as an ordinary user turn, so it inherits
// the full persist-then-call pipeline.
func (r *Router) EndInCharacter(ctx context.Context, conversationID string) (*PostResult, error) {
	conv, err := r.store.Find(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Agent == "" {
		return nil, ErrNotAgentBacked
	}
	return r.Post(ctx, conversationID, closingInstruction(conv.Metadata))
}

func closingInstruction(metadata map[string]any) string {
	var b strings.Builder
	b.WriteString("We need to wrap up now. Bring the conversation to a natural close and say goodbye, staying in character")
	if sp, _ := metadata["scenario_prompt"].(string); sp != "" {
		fmt.Fprintf(&b, " for this scenario: %s", sp)
	}
	b.WriteString(".")
	if lang, _ := metadata["language"].(string); lang != "" {
		fmt.Fprintf(&b, " Respond in %s.", lang)
	}
	return b.String()
}

func (r *Router) append(ctx context.Context, conversationID string, msg store.Message) error {
	start := time.Now()
	err := r.store.Append(ctx, conversationID, msg, r.Retention)
	if err != nil {
		observability.RecordStoreOperation("append", "error", time.Since(start))
		return err
	}
	observability.RecordStoreOperation("append", "ok", time.Since(start))
	return nil
}

func toProviderHistory(msgs []store.Message) []provider.Message {
	out := make([]provider.Message, len(msgs))
	for i, m := range msgs {
		out[i] = provider.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}
