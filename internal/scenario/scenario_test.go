package scenario

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hari-co/AtlasTalk/pkg/observability"
)

// fakeGenerator plays back canned responses in order and records prompts.
type fakeGenerator struct {
	responses []string
	err       error
	prompts   []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", nil
	}
	r := g.responses[0]
	g.responses = g.responses[1:]
	return r, nil
}

func newTestService(t *testing.T, gen *fakeGenerator) *Service {
	t.Helper()
	sessions := NewSessionStore(10, time.Minute)
	t.Cleanup(sessions.Stop)
	return NewService(gen, sessions, nil)
}

func TestGenerateScenario(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"```json\n" + `{
  "scenario_title": "Taxi to the Airport",
  "description": "Order a taxi and give directions",
  "ai_character": "Taxi driver",
  "environment": "Paris street",
  "goals": [
    { "goal": "Greet the driver", "completed": false },
    { "goal": "State your destination", "completed": false }
  ],
  "opening_line": "Bonjour ! Où allez-vous ?"
}` + "\n```"}}
	s := newTestService(t, gen)

	sc := s.GenerateScenario(context.Background(), "ordering a taxi in Paris")
	if sc.Title != "Taxi to the Airport" {
		t.Errorf("Title = %q", sc.Title)
	}
	if sc.Character != "Taxi driver" {
		t.Errorf("Character = %q", sc.Character)
	}
	if len(sc.Goals) != 2 || sc.Goals[0].Goal != "Greet the driver" {
		t.Errorf("Goals = %+v", sc.Goals)
	}
	if sc.OpeningLine != "Bonjour ! Où allez-vous ?" {
		t.Errorf("OpeningLine = %q", sc.OpeningLine)
	}
}

func TestGenerateScenario_FallbackOnGarbage(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"Sorry, I can't produce JSON today."}}
	s := newTestService(t, gen)

	sc := s.GenerateScenario(context.Background(), "ordering coffee")
	if !strings.Contains(sc.Title, "ordering coffee") {
		t.Errorf("fallback Title = %q, want it to mention the prompt", sc.Title)
	}
	if len(sc.Goals) != 3 {
		t.Errorf("fallback goals = %d, want 3", len(sc.Goals))
	}
	for _, g := range sc.Goals {
		if g.Completed {
			t.Errorf("fallback goal %q starts completed", g.Goal)
		}
	}
}

func TestGenerateScenario_FallbackOnError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	s := newTestService(t, gen)

	sc := s.GenerateScenario(context.Background(), "booking a hotel")
	if sc == nil || sc.OpeningLine == "" {
		t.Fatal("expected a synthesized scenario on generation failure")
	}
}

func TestUpdateGoals_Merge(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"[true, false, true]"}}
	s := newTestService(t, gen)

	goals := []Goal{
		{Goal: "Greet the driver"},
		{Goal: "State your destination"},
		{Goal: "Pay the fare"},
	}
	updated := s.UpdateGoals(context.Background(), "Bonjour !", nil, goals)

	want := []bool{true, false, true}
	for i, w := range want {
		if updated[i].Completed != w {
			t.Errorf("goal %d completed = %v, want %v", i, updated[i].Completed, w)
		}
	}
	// Input list untouched.
	if goals[0].Completed {
		t.Error("input goal list was mutated")
	}
}

func TestUpdateGoals_MonotonicCompletion(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"[false, true]"}}
	s := newTestService(t, gen)

	goals := []Goal{
		{Goal: "Greet the driver", Completed: true},
		{Goal: "State your destination"},
	}
	updated := s.UpdateGoals(context.Background(), "um", nil, goals)

	if !updated[0].Completed {
		t.Error("completed goal was un-completed by a model false")
	}
	if !updated[1].Completed {
		t.Error("second goal should be completed")
	}
}

func TestUpdateGoals_ShortArrayLeavesRestUnchanged(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"[true]"}}
	s := newTestService(t, gen)

	goals := []Goal{
		{Goal: "First"},
		{Goal: "Second"},
		{Goal: "Third", Completed: true},
	}
	updated := s.UpdateGoals(context.Background(), "hello", nil, goals)

	if !updated[0].Completed {
		t.Error("first goal should be completed")
	}
	if updated[1].Completed {
		t.Error("second goal should be unchanged")
	}
	if !updated[2].Completed {
		t.Error("third goal should stay completed")
	}
}

func TestUpdateGoals_UnparsableKeepsState(t *testing.T) {
	for _, resp := range []string{
		"The user greeted the driver, so the first goal is done.",
		"```json\nnot json\n```",
		"",
	} {
		gen := &fakeGenerator{responses: []string{resp}}
		s := newTestService(t, gen)

		goals := []Goal{{Goal: "Greet", Completed: true}, {Goal: "Pay"}}
		updated := s.UpdateGoals(context.Background(), "hi", nil, goals)

		if !updated[0].Completed || updated[1].Completed {
			t.Errorf("response %q changed goal state: %+v", resp, updated)
		}
	}
}

func TestUpdateGoals_FencedArray(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"```json\n[true, true]\n```"}}
	s := newTestService(t, gen)

	updated := s.UpdateGoals(context.Background(), "done", nil, []Goal{{Goal: "a"}, {Goal: "b"}})
	if !updated[0].Completed || !updated[1].Completed {
		t.Errorf("fenced array not applied: %+v", updated)
	}
}

func TestChat_SessionFlow(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"Bonjour ! Où allez-vous ?", // chat reply
		"[true, false]",             // goal check
		"Très bien, on y va !",      // second chat reply
		"[true, true]",              // second goal check
	}}
	s := newTestService(t, gen)
	ctx := context.Background()

	sc := &Scenario{
		Title:     "Taxi",
		Character: "Taxi driver",
		Goals:     []Goal{{Goal: "Greet"}, {Goal: "Destination"}},
	}

	first, err := s.Chat(ctx, "sess-1", "Bonjour !", sc)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if first.Reply != "Bonjour ! Où allez-vous ?" {
		t.Errorf("Reply = %q", first.Reply)
	}
	if !first.Goals[0].Completed || first.Goals[1].Completed {
		t.Errorf("goals after first turn = %+v", first.Goals)
	}

	second, err := s.Chat(ctx, "sess-1", "À l'aéroport.", nil)
	if err != nil {
		t.Fatalf("second Chat failed: %v", err)
	}
	if !second.Goals[1].Completed {
		t.Errorf("goals after second turn = %+v", second.Goals)
	}

	// The second chat prompt carries the scenario captured at session start
	// and the running history.
	secondPrompt := gen.prompts[2]
	if !strings.Contains(secondPrompt, "Taxi driver") {
		t.Error("second prompt lost the scenario context")
	}
	if !strings.Contains(secondPrompt, "Bonjour ! Où allez-vous ?") {
		t.Error("second prompt missing prior assistant turn")
	}
}

func TestChat_NoGoalsSkipsGoalCheck(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"Hello there!"}}
	s := newTestService(t, gen)

	result, err := s.Chat(context.Background(), "sess-2", "hi", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(result.Goals) != 0 {
		t.Errorf("Goals = %+v, want none", result.Goals)
	}
	if len(gen.prompts) != 1 {
		t.Errorf("generator called %d times, want 1 (no goal check)", len(gen.prompts))
	}
}

func TestSessionStore_CapacityEviction(t *testing.T) {
	store := NewSessionStore(2, time.Minute)
	defer store.Stop()

	store.GetOrCreate("a")
	time.Sleep(2 * time.Millisecond)
	store.GetOrCreate("b")
	time.Sleep(2 * time.Millisecond)
	store.GetOrCreate("c")

	if store.Len() != 2 {
		t.Fatalf("Len = %d, want 2 after capacity eviction", store.Len())
	}

	// "a" was stalest, so re-fetching it creates a fresh session and evicts
	// the next-stalest instead of growing past capacity.
	store.GetOrCreate("a")
	if store.Len() != 2 {
		t.Fatalf("Len = %d, want 2 after re-adding", store.Len())
	}
}

func TestSessionStore_DeleteAndLen(t *testing.T) {
	store := NewSessionStore(10, time.Minute)
	defer store.Stop()

	store.GetOrCreate("a")
	store.GetOrCreate("b")
	if store.Len() != 2 {
		t.Fatalf("Len = %d, want 2", store.Len())
	}
	store.Delete("a")
	if store.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after delete", store.Len())
	}
}

func TestSessionStore_DeleteRefreshesGauge(t *testing.T) {
	observability.InitMetrics()

	store := NewSessionStore(10, time.Minute)
	defer store.Stop()

	store.GetOrCreate("a")
	store.GetOrCreate("b")
	store.Delete("a")

	rec := httptest.NewRecorder()
	observability.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "atlastalk_active_sessions 1") {
		t.Error("gauge not refreshed after delete, want atlastalk_active_sessions 1")
	}
}
