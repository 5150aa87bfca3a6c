package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// GeminiAgent is the distinguished freeform agent used for scenario
// generation, roleplay direction, and goal checking.
const GeminiAgent = "GEMINI"

// Sentinel errors for agent resolution.
var (
	// ErrUnknownAgent is returned when an agent name isn't registered.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrMissingCredential is returned when the agent's private key isn't configured.
	ErrMissingCredential = errors.New("missing agent credential")
)

// AgentConfig holds the connection parameters for one logical agent.
type AgentConfig struct {
	// Endpoint is the agent's base URL (chat kind only).
	Endpoint string `yaml:"endpoint"`
	// Kind selects the client family; defaults to chat.
	Kind Kind `yaml:"kind,omitempty"`
	// Model overrides the default model (freeform kind only).
	Model string `yaml:"model,omitempty"`
}

// Resolver maps a logical agent name to a ready client. The router depends
// only on this interface.
type Resolver interface {
	Resolve(name string) (Client, error)
}

// Registry is a static agent-name -> connection-parameter map. Credentials
// are looked up as "{AGENT_NAME}_PRIVATE_KEY" from the process environment;
// that naming convention is part of the operational contract, not an
// implementation detail.
type Registry struct {
	agents  map[string]AgentConfig
	clients map[string]Client
	mu      sync.RWMutex
}

// NewRegistry creates a registry over a static agent map. The GEMINI agent is
// registered implicitly when absent.
func NewRegistry(agents map[string]AgentConfig) *Registry {
	m := make(map[string]AgentConfig, len(agents)+1)
	for name, cfg := range agents {
		if cfg.Kind == "" {
			cfg.Kind = KindChat
		}
		m[name] = cfg
	}
	if _, ok := m[GeminiAgent]; !ok {
		m[GeminiAgent] = AgentConfig{Kind: KindFreeform}
	}
	return &Registry{
		agents:  m,
		clients: make(map[string]Client),
	}
}

// Has checks if an agent name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// List returns all registered agent names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// Resolve returns the client for a logical agent name, constructing it on
// first use. Clients are long-lived and safe for concurrent use, so one
// instance per agent is shared by all in-flight requests.
func (r *Registry) Resolve(name string) (Client, error) {
	r.mu.RLock()
	cfg, ok := r.agents[name]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	if client, ok := r.clients[name]; ok {
		r.mu.RUnlock()
		return client, nil
	}
	r.mu.RUnlock()

	key := os.Getenv(credentialVar(name))
	if key == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrMissingCredential, credentialVar(name))
	}

	var client Client
	switch cfg.Kind {
	case KindFreeform:
		fc, err := NewFreeformClient(name, key, cfg.Model)
		if err != nil {
			return nil, err
		}
		client = fc
	default:
		client = NewChatClient(name, cfg.Endpoint, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[name]; ok {
		return existing, nil
	}
	r.clients[name] = client
	return client, nil
}

// Generator resolves the GEMINI agent as a freeform generator.
func (r *Registry) Generator() (Generator, error) {
	client, err := r.Resolve(GeminiAgent)
	if err != nil {
		return nil, err
	}
	gen, ok := client.(Generator)
	if !ok {
		return nil, fmt.Errorf("agent %s is not a freeform generator", GeminiAgent)
	}
	return gen, nil
}

// ResolvedGenerator adapts a Resolver into a Generator by resolving the
// GEMINI agent on each call. Resolution is deferred to first use so the
// process can start before the credential is provisioned, and going through
// the resolver keeps any wrapping (rate limiting) in the call path.
type ResolvedGenerator struct {
	resolver Resolver
}

// NewResolvedGenerator builds a Generator over the given resolver.
func NewResolvedGenerator(r Resolver) *ResolvedGenerator {
	return &ResolvedGenerator{resolver: r}
}

func (g *ResolvedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	client, err := g.resolver.Resolve(GeminiAgent)
	if err != nil {
		return "", err
	}
	gen, ok := client.(Generator)
	if !ok {
		return "", fmt.Errorf("agent %s is not a freeform generator", GeminiAgent)
	}
	return gen.Generate(ctx, prompt)
}

// credentialVar is the "{AGENT_NAME}_PRIVATE_KEY" convention.
func credentialVar(name string) string {
	return name + "_PRIVATE_KEY"
}
