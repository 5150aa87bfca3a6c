package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hari-co/AtlasTalk/internal/conversation"
	"github.com/hari-co/AtlasTalk/internal/provider"
	"github.com/hari-co/AtlasTalk/internal/scenario"
	"github.com/hari-co/AtlasTalk/internal/speech"
	"github.com/hari-co/AtlasTalk/internal/store"
	"github.com/hari-co/AtlasTalk/pkg/observability"
)

type fakeClient struct {
	name  string
	reply string
	err   error
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) Converse(ctx context.Context, history []provider.Message) (string, error) {
	if c.err != nil {
		return "", &provider.UpstreamError{Agent: c.name, Err: c.err}
	}
	return c.reply, nil
}

func (c *fakeClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

type fakeResolver struct {
	clients map[string]*fakeClient
}

func (r *fakeResolver) Resolve(name string) (provider.Client, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownAgent, name)
	}
	return c, nil
}

type testEnv struct {
	srv   *httptest.Server
	api   *Server
	store store.Store
	taxi  *fakeClient
}

func setupAPI(t *testing.T) *testEnv {
	return setupAPIWithSpeech(t, nil)
}

func setupAPIWithSpeech(t *testing.T, sp *speech.Client) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisStoreFromClient(client, "atlastalk")
	t.Cleanup(func() { st.Close() })

	taxi := &fakeClient{name: "TAXI", reply: "Où allez-vous ?"}
	gemini := &fakeClient{name: provider.GeminiAgent, reply: "ok"}
	resolver := &fakeResolver{clients: map[string]*fakeClient{
		"TAXI":               taxi,
		provider.GeminiAgent: gemini,
	}}

	sessions := scenario.NewSessionStore(10, time.Minute)
	t.Cleanup(sessions.Stop)

	api := New(
		conversation.NewManager(st, resolver, nil),
		conversation.NewRouter(st, resolver, nil),
		scenario.NewService(gemini, sessions, nil),
		sp,
		st,
		nil,
	)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, api: api, store: st, taxi: taxi}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestSetupAndPostMessage(t *testing.T) {
	env := setupAPI(t)

	resp := postJSON(t, env.srv.URL+"/agents/TAXI/setup", map[string]string{
		"country":  "France",
		"language": "French",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("setup status = %d", resp.StatusCode)
	}
	setup := decode[conversation.SetupResult](t, resp)
	if setup.ConversationID == "" || !setup.WarmupOK {
		t.Fatalf("setup = %+v", setup)
	}

	resp = postJSON(t, env.srv.URL+"/conversations/"+setup.ConversationID+"/messages",
		map[string]string{"content": "Bonjour !"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post status = %d", resp.StatusCode)
	}
	post := decode[conversation.PostResult](t, resp)
	if post.Reply != "Où allez-vous ?" {
		t.Errorf("reply = %q", post.Reply)
	}
}

func TestSetupUnknownAgentIsBadGateway(t *testing.T) {
	env := setupAPI(t)

	resp := postJSON(t, env.srv.URL+"/agents/NOPE/setup", map[string]string{
		"country":  "Spain",
		"language": "Spanish",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestPostMessage_UpstreamFailureIsBadGateway(t *testing.T) {
	env := setupAPI(t)

	id, err := env.store.Create(context.Background(), "TAXI", nil, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	env.taxi.err = errors.New("upstream 500")

	resp := postJSON(t, env.srv.URL+"/conversations/"+id+"/messages",
		map[string]string{"content": "hello?"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	// The user message survived the failed exchange.
	tail, err := env.store.ReadTail(context.Background(), id, 10)
	if err != nil {
		t.Fatalf("ReadTail failed: %v", err)
	}
	if len(tail) != 1 || tail[0].Content != "hello?" {
		t.Errorf("tail = %+v", tail)
	}
}

func TestPostMessage_NotFound(t *testing.T) {
	env := setupAPI(t)

	resp := postJSON(t, env.srv.URL+"/conversations/missing/messages",
		map[string]string{"content": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetAndListConversations(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	id, err := env.store.Create(ctx, "TAXI", []store.Message{
		{Role: store.RoleSystem, Content: "sys"},
	}, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := env.store.SetOwner(ctx, id, "user-1"); err != nil {
		t.Fatalf("SetOwner failed: %v", err)
	}

	resp, err := http.Get(env.srv.URL + "/conversations/" + id)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	conv := decode[store.Conversation](t, resp)
	if conv.Agent != "TAXI" || len(conv.Messages) != 1 {
		t.Errorf("conversation = %+v", conv)
	}

	resp, err = http.Get(env.srv.URL + "/conversations?owner=user-1")
	if err != nil {
		t.Fatalf("GET list failed: %v", err)
	}
	list := decode[struct {
		Conversations []store.Conversation `json:"conversations"`
	}](t, resp)
	if len(list.Conversations) != 1 {
		t.Errorf("listed %d conversations, want 1", len(list.Conversations))
	}
}

func TestAttachOwner(t *testing.T) {
	env := setupAPI(t)

	id, err := env.store.Create(context.Background(), "TAXI", nil, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"owner": "user-7"})
	req, _ := http.NewRequest(http.MethodPut, env.srv.URL+"/conversations/"+id+"/owner", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	conv, err := env.store.Find(context.Background(), id)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if conv.Owner != "user-7" {
		t.Errorf("Owner = %q", conv.Owner)
	}
}

func TestEndConversation(t *testing.T) {
	env := setupAPI(t)

	id, err := env.store.Create(context.Background(), "TAXI", nil, map[string]any{
		"language":        "French",
		"scenario_prompt": "Order a taxi",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	env.taxi.reply = "Au revoir !"

	resp := postJSON(t, env.srv.URL+"/conversations/"+id+"/end", struct{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	result := decode[conversation.PostResult](t, resp)
	if result.Reply != "Au revoir !" {
		t.Errorf("reply = %q", result.Reply)
	}
}

func TestRoleplayChatAndGoals(t *testing.T) {
	env := setupAPI(t)

	resp := postJSON(t, env.srv.URL+"/roleplay/chat", map[string]any{
		"text":       "Bonjour !",
		"session_id": "s1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	chat := decode[scenario.ChatResult](t, resp)
	if chat.Reply == "" || chat.SessionID != "s1" {
		t.Errorf("chat = %+v", chat)
	}

	// The fake generator answers "ok", which is not a boolean array, so the
	// goal list comes back unchanged.
	resp = postJSON(t, env.srv.URL+"/roleplay/update-goals", map[string]any{
		"user_text": "done",
		"goals":     []scenario.Goal{{Goal: "Greet", Completed: true}},
	})
	goals := decode[struct {
		Updated []scenario.Goal `json:"updated_goals"`
	}](t, resp)
	if len(goals.Updated) != 1 || !goals.Updated[0].Completed {
		t.Errorf("goals = %+v", goals.Updated)
	}
}

func TestAudioNotConfigured(t *testing.T) {
	env := setupAPI(t)

	resp := postJSON(t, env.srv.URL+"/audio/tts", map[string]string{"text": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStartConversation(t *testing.T) {
	env := setupAPI(t)

	resp := postJSON(t, env.srv.URL+"/conversations", map[string]any{
		"metadata": map[string]any{"source": "notebook"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	created := decode[struct {
		ConversationID string `json:"conversation_id"`
	}](t, resp)
	if created.ConversationID == "" {
		t.Fatal("conversation_id missing")
	}

	conv, err := env.store.Find(context.Background(), created.ConversationID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if conv.Agent != "" {
		t.Errorf("Agent = %q, want plain conversation", conv.Agent)
	}
	if len(conv.Messages) != 0 {
		t.Errorf("messages = %+v, want empty", conv.Messages)
	}
	if conv.Metadata["source"] != "notebook" {
		t.Errorf("metadata = %+v", conv.Metadata)
	}
}

func TestStartConversation_EmptyBody(t *testing.T) {
	env := setupAPI(t)

	resp, err := http.Post(env.srv.URL+"/conversations", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	created := decode[struct {
		ConversationID string `json:"conversation_id"`
	}](t, resp)
	if created.ConversationID == "" {
		t.Fatal("conversation_id missing")
	}
}

func TestEndConversation_PlainIsBadRequest(t *testing.T) {
	env := setupAPI(t)

	id, err := env.store.Create(context.Background(), "", nil, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resp := postJSON(t, env.srv.URL+"/conversations/"+id+"/end", struct{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["error"] != "Conversation is not agent-backed" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestRoleplayConfig(t *testing.T) {
	env := setupAPI(t)
	env.api.SetRoleplayConfig(RoleplayConfig{
		VoiceID:           "voice-1",
		TTSModel:          "eleven_monolingual_v1",
		STTModel:          "scribe_v1",
		SessionCapacity:   10,
		SessionTTLMinutes: 30,
	})

	resp, err := http.Get(env.srv.URL + "/roleplay/config")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	cfg := decode[struct {
		AudioEnabled    bool   `json:"audio_enabled"`
		VoiceID         string `json:"voice_id"`
		SessionCapacity int    `json:"session_capacity"`
	}](t, resp)
	if cfg.AudioEnabled {
		t.Error("audio_enabled = true, want false without a speech client")
	}
	if cfg.VoiceID != "voice-1" || cfg.SessionCapacity != 10 {
		t.Errorf("config = %+v", cfg)
	}
}

func audioUpload(t *testing.T, sessionID string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "turn.webm")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte("audio-bytes"))
	if sessionID != "" {
		w.WriteField("session_id", sessionID)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestRoleplayTalk(t *testing.T) {
	eleven := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/speech-to-text"):
			w.Write([]byte(`{"text":"Bonjour, un taxi."}`))
		case strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/"):
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("mp3-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer eleven.Close()

	env := setupAPIWithSpeech(t, speech.NewClient(speech.Config{APIKey: "k", BaseURL: eleven.URL}))

	body, contentType := audioUpload(t, "s-talk")
	resp, err := http.Post(env.srv.URL+"/roleplay/talk", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	talk := decode[struct {
		Transcription string `json:"transcription"`
		Reply         string `json:"reply"`
		AudioBase64   string `json:"audio_base64"`
		SessionID     string `json:"session_id"`
	}](t, resp)
	if talk.Transcription != "Bonjour, un taxi." {
		t.Errorf("transcription = %q", talk.Transcription)
	}
	if talk.Reply == "" {
		t.Error("reply is empty")
	}
	if talk.SessionID != "s-talk" {
		t.Errorf("session_id = %q", talk.SessionID)
	}
	audio, err := base64.StdEncoding.DecodeString(talk.AudioBase64)
	if err != nil {
		t.Fatalf("audio_base64 not decodable: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Errorf("audio = %q", audio)
	}
}

func TestRoleplayTalk_NotConfigured(t *testing.T) {
	env := setupAPI(t)

	body, contentType := audioUpload(t, "")
	resp, err := http.Post(env.srv.URL+"/roleplay/talk", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	observability.InitMetrics()
	env := setupAPI(t)

	id, err := env.store.Create(context.Background(), "TAXI", nil, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	resp, err := http.Get(env.srv.URL + "/conversations/" + id)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()

	rec := httptest.NewRecorder()
	observability.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	exposition := rec.Body.String()

	if !strings.Contains(exposition, `path="GET /conversations/{id}"`) {
		t.Error("request counter missing the route template label")
	}
	if strings.Contains(exposition, id) {
		t.Errorf("metrics carry the raw conversation id %s", id)
	}
}

func TestBadRequestValidation(t *testing.T) {
	env := setupAPI(t)

	for _, tc := range []struct {
		path string
		body string
	}{
		{"/agents/TAXI/setup", `{"country":"France"}`},
		{"/conversations/x/messages", `{}`},
		{"/roleplay/chat", `{}`},
		{"/roleplay/scenario", `not json`},
	} {
		resp, err := http.Post(env.srv.URL+tc.path, "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("POST %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s with %q: status = %d, want 400", tc.path, tc.body, resp.StatusCode)
		}
	}
}
