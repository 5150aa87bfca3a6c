package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

// chatCmd is an interactive client against a running server: it sets up an
// agent conversation and relays each line as a message.
func chatCmd() *cobra.Command {
	var (
		server   string
		agent    string
		country  string
		language string
		prompt   string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(server, agent, country, language, prompt)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8000", "API server base URL")
	cmd.Flags().StringVar(&agent, "agent", "", "logical agent name")
	cmd.Flags().StringVar(&country, "country", "France", "practice country")
	cmd.Flags().StringVar(&language, "language", "French", "practice language")
	cmd.Flags().StringVar(&prompt, "scenario", "", "optional scenario prompt")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func runChat(server, agent, country, language, prompt string) error {
	setup, err := apiPost(server, "/agents/"+agent+"/setup", map[string]string{
		"country":         country,
		"language":        language,
		"scenario_prompt": prompt,
	})
	if err != nil {
		return fmt.Errorf("setup agent: %w", err)
	}

	var setupResp struct {
		ConversationID string `json:"conversation_id"`
		WarmupOK       bool   `json:"warmup_ok"`
	}
	if err := json.Unmarshal(setup, &setupResp); err != nil {
		return fmt.Errorf("decode setup response: %w", err)
	}
	fmt.Printf("conversation %s (warmup ok: %v)\n", setupResp.ConversationID, setupResp.WarmupOK)
	fmt.Println(`type your messages; "/end" closes in character, ctrl-d quits`)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := filepath.Join(os.TempDir(), ".atlastalk_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		path := "/conversations/" + setupResp.ConversationID + "/messages"
		body := map[string]string{"content": input}
		if input == "/end" {
			path = "/conversations/" + setupResp.ConversationID + "/end"
			body = nil
		}

		data, err := apiPost(server, path, body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		var resp struct {
			Reply string `json:"reply"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(resp.Reply)

		if input == "/end" {
			return nil
		}
	}
}

func apiPost(server, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(server+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(out)))
	}
	return out, nil
}
