package provider

import (
	"errors"
	"testing"
)

func testRegistry() *Registry {
	return NewRegistry(map[string]AgentConfig{
		"TAXI": {Endpoint: "https://taxi.agents.example.com"},
	})
}

func TestRegistry_Resolve_UnknownAgent(t *testing.T) {
	r := testRegistry()

	_, err := r.Resolve("BARISTA")
	if !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestRegistry_Resolve_MissingCredential(t *testing.T) {
	r := testRegistry()
	t.Setenv("TAXI_PRIVATE_KEY", "")

	_, err := r.Resolve("TAXI")
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", err)
	}
}

func TestRegistry_Resolve_ChatKind(t *testing.T) {
	r := testRegistry()
	t.Setenv("TAXI_PRIVATE_KEY", "test-key")

	client, err := r.Resolve("TAXI")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if client.Name() != "TAXI" {
		t.Errorf("Name() = %q, want TAXI", client.Name())
	}
	if _, ok := client.(*ChatClient); !ok {
		t.Errorf("expected *ChatClient, got %T", client)
	}

	// Resolving again returns the same shared instance.
	again, err := r.Resolve("TAXI")
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if again != client {
		t.Error("Resolve should return the cached client")
	}
}

func TestRegistry_GeminiRegisteredImplicitly(t *testing.T) {
	r := testRegistry()

	if !r.Has(GeminiAgent) {
		t.Fatal("GEMINI agent should be registered implicitly")
	}

	t.Setenv("GEMINI_PRIVATE_KEY", "")
	_, err := r.Resolve(GeminiAgent)
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", err)
	}
}

func TestRegistry_Has(t *testing.T) {
	r := testRegistry()

	if !r.Has("TAXI") {
		t.Error("Has(TAXI) = false, want true")
	}
	if r.Has("BARISTA") {
		t.Error("Has(BARISTA) = true, want false")
	}
}
