// Package speech wraps the ElevenLabs text-to-speech and speech-to-text
// endpoints. Both are thin pass-throughs; the only logic here is error
// shaping, so upstream failures carry the status and body they came with.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultVoiceID = "pNInz6obpgDQGcFmaJgB"
	defaultTTSMode = "eleven_monolingual_v1"
	defaultSTTMode = "scribe_v1"
)

// TTSError is a non-200 from the text-to-speech endpoint.
type TTSError struct {
	Status int
	Body   string
}

func (e *TTSError) Error() string {
	return fmt.Sprintf("text-to-speech failed: status %d: %s", e.Status, e.Body)
}

// STTError is a non-200 from the speech-to-text endpoint.
type STTError struct {
	Status int
	Body   string
}

func (e *STTError) Error() string {
	return fmt.Sprintf("speech-to-text failed: status %d: %s", e.Status, e.Body)
}

// Config holds ElevenLabs connection parameters. Zero values take the
// service defaults.
type Config struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty"`
	VoiceID  string `yaml:"voice_id,omitempty"`
	TTSModel string `yaml:"tts_model,omitempty"`
	STTModel string `yaml:"stt_model,omitempty"`
}

// Client calls the ElevenLabs API. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates an ElevenLabs client, filling config defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultVoiceID
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = defaultTTSMode
	}
	if cfg.STTModel == "" {
		cfg.STTModel = defaultSTTMode
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// Settings returns the resolved configuration with defaults applied.
func (c *Client) Settings() Config {
	return c.cfg
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// TextToSpeech renders text to mp3 audio with the configured voice.
func (c *Client) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(ttsRequest{
		Text:          text,
		ModelID:       c.cfg.TTSModel,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.cfg.BaseURL, c.cfg.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("text-to-speech request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TTSError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// SpeechToText transcribes audio. An upstream response without a text field
// transcribes to the empty string, not an error.
func (c *Client) SpeechToText(ctx context.Context, audio io.Reader, filename string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build stt request: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := w.WriteField("model_id", c.cfg.STTModel); err != nil {
		return "", fmt.Errorf("build stt request: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("build stt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/speech-to-text", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech-to-text request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read stt response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &STTError{Status: resp.StatusCode, Body: string(data)}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return result.Text, nil
}
