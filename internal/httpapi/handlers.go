package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/hari-co/AtlasTalk/internal/conversation"
	"github.com/hari-co/AtlasTalk/internal/provider"
	"github.com/hari-co/AtlasTalk/internal/scenario"
	"github.com/hari-co/AtlasTalk/internal/speech"
	"github.com/hari-co/AtlasTalk/internal/store"
	"github.com/hari-co/AtlasTalk/pkg/observability"
)

const maxAudioUpload = 25 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// mapError translates the core error taxonomy to HTTP statuses: missing
// resources are 404, provider and registry problems are 502, an unreachable
// store is 503, anything else 500.
func (s *Server) mapError(w http.ResponseWriter, err error) {
	var upstream *provider.UpstreamError
	var tts *speech.TTSError
	var stt *speech.STTError

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrNotAgentBacked):
		writeError(w, http.StatusBadRequest, "Conversation is not agent-backed")
	case errors.Is(err, provider.ErrUnknownAgent):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, provider.ErrMissingCredential):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &upstream):
		writeError(w, http.StatusBadGateway, upstream.Error())
	case errors.As(err, &tts):
		writeError(w, http.StatusBadGateway, tts.Error())
	case errors.As(err, &stt):
		writeError(w, http.StatusBadGateway, stt.Error())
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type setupAgentRequest struct {
	Country        string `json:"country"`
	Language       string `json:"language"`
	ScenarioPrompt string `json:"scenario_prompt,omitempty"`
}

func (s *Server) handleSetupAgent(w http.ResponseWriter, r *http.Request) {
	agent := r.PathValue("agent")

	var req setupAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Country == "" || req.Language == "" {
		writeError(w, http.StatusBadRequest, "country and language are required")
		return
	}

	result, err := s.manager.SetupAgent(r.Context(), agent, req.Country, req.Language, req.ScenarioPrompt)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type startConversationRequest struct {
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleStartConversation creates a plain conversation with no upstream
// agent. The body is optional; any metadata it carries is stored verbatim.
func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.store.Create(r.Context(), "", nil, req.Metadata)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"conversation_id": id})
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	result, err := s.router.Post(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	result, err := s.router.EndInCharacter(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type attachOwnerRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) handleAttachOwner(w http.ResponseWriter, r *http.Request) {
	var req attachOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	if err := s.manager.AttachOwner(r.Context(), r.PathValue("id"), req.Owner); err != nil {
		s.mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.Find(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{Owner: r.URL.Query().Get("owner")}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}

	convs, err := s.store.List(r.Context(), opts)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

type scenarioRequest struct {
	Scenario string `json:"scenario"`
}

func (s *Server) handleGenerateScenario(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Scenario == "" {
		writeError(w, http.StatusBadRequest, "scenario is required")
		return
	}

	// Generation never fails outward; a bad model response degrades to a
	// synthesized scenario.
	writeJSON(w, http.StatusOK, s.scenario.GenerateScenario(r.Context(), req.Scenario))
}

type roleplayChatRequest struct {
	Text            string             `json:"text"`
	SessionID       string             `json:"session_id,omitempty"`
	ScenarioContext *scenario.Scenario `json:"scenario_context,omitempty"`
}

func (s *Server) handleRoleplayChat(w http.ResponseWriter, r *http.Request) {
	var req roleplayChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := s.scenario.Chat(r.Context(), req.SessionID, req.Text, req.ScenarioContext)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type updateGoalsRequest struct {
	UserText string          `json:"user_text"`
	Goals    []scenario.Goal `json:"goals"`
}

func (s *Server) handleUpdateGoals(w http.ResponseWriter, r *http.Request) {
	var req updateGoalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated := s.scenario.UpdateGoals(r.Context(), req.UserText, nil, req.Goals)
	writeJSON(w, http.StatusOK, map[string]any{"updated_goals": updated})
}

func (s *Server) handleRoleplayConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"audio_enabled":       s.speech != nil,
		"voice_id":            s.roleplayCfg.VoiceID,
		"tts_model":           s.roleplayCfg.TTSModel,
		"stt_model":           s.roleplayCfg.STTModel,
		"session_capacity":    s.roleplayCfg.SessionCapacity,
		"session_ttl_minutes": s.roleplayCfg.SessionTTLMinutes,
	})
}

// handleRoleplayTalk is the composed voice turn: the upload is transcribed,
// answered through the roleplay chat, and the reply voiced.
func (s *Server) handleRoleplayTalk(w http.ResponseWriter, r *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusServiceUnavailable, "audio is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart audio upload")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	transcription, err := s.speech.SpeechToText(r.Context(), file, hdr.Filename)
	if err != nil {
		observability.RecordSpeechCall("stt", "error")
		s.mapError(w, err)
		return
	}
	observability.RecordSpeechCall("stt", "ok")
	if transcription == "" {
		writeError(w, http.StatusBadRequest, "no speech detected in upload")
		return
	}

	result, err := s.scenario.Chat(r.Context(), r.FormValue("session_id"), transcription, nil)
	if err != nil {
		s.mapError(w, err)
		return
	}

	audio, err := s.speech.TextToSpeech(r.Context(), result.Reply)
	if err != nil {
		observability.RecordSpeechCall("tts", "error")
		s.mapError(w, err)
		return
	}
	observability.RecordSpeechCall("tts", "ok")

	writeJSON(w, http.StatusOK, map[string]any{
		"transcription": transcription,
		"reply":         result.Reply,
		"audio_base64":  base64.StdEncoding.EncodeToString(audio),
		"session_id":    result.SessionID,
	})
}

type ttsRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusServiceUnavailable, "audio is not configured")
		return
	}

	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, err := s.speech.TextToSpeech(r.Context(), req.Text)
	if err != nil {
		observability.RecordSpeechCall("tts", "error")
		s.mapError(w, err)
		return
	}
	observability.RecordSpeechCall("tts", "ok")

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func (s *Server) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusServiceUnavailable, "audio is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart audio upload")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	text, err := s.speech.SpeechToText(r.Context(), file, hdr.Filename)
	if err != nil {
		observability.RecordSpeechCall("stt", "error")
		s.mapError(w, err)
		return
	}
	observability.RecordSpeechCall("stt", "ok")

	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}
