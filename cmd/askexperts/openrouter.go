package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// openRouterComplete phrases an answer from retrieved context via
// OpenRouter's chat-completions API. OpenRouter has no SDK anywhere in
// this module's dependency corpus, so this talks to it with a plain
// net/http client rather than inventing a fabricated client package
// (remote.go does the same for the admin API; see DESIGN.md).
func openRouterComplete(ctx context.Context, cfg *cliConfig, retrievedContext, question string) (string, error) {
	baseURL := cfg.OpenRouterBaseURL
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}

	reqBody := map[string]any{
		"model": "openrouter/auto",
		"messages": []map[string]string{
			{"role": "system", "content": "Answer the question using only the provided context. If the context doesn't cover it, say so."},
			{"role": "user", "content": fmt.Sprintf("Context:\n%s\n\nQuestion: %s", retrievedContext, question)},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.OpenRouterKey)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("openrouter: %s: %s", resp.Status, string(data))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openrouter: empty response")
	}
	return out.Choices[0].Message.Content, nil
}
