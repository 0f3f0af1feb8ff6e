// Package ai normalizes user-supplied titles and forwarded text into
// task-ready title/description pairs using the OpenAI chat completions API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

const systemPrompt = `You are an assistant that helps create task-tracker tasks. ` +
	`Given a user-suggested title and the original message, gently improve the title ` +
	`(fix typos, grammar, capitalization, but do not rewrite or change the meaning), ` +
	`and generate a concise description (max 50 words). ` +
	`Return both as JSON: {"title": ..., "description": ...}`

// NormalizedTask is the structured output of a normalization call
type NormalizedTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Client calls the OpenAI chat completions API for title/description cleanup
type Client struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a new OpenAI client
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		apiURL: defaultAPIURL,
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// NewClientWithBaseURL creates a client against a custom endpoint (for testing)
func NewClientWithBaseURL(apiURL, apiKey, model string) *Client {
	c := NewClient(apiKey, model)
	c.apiURL = apiURL
	return c
}

// Normalize asks the model for a cleaned-up title and short description.
// Malformed model output is never an error: the raw user title is returned
// with an empty description so task creation can always proceed.
func (c *Client) Normalize(ctx context.Context, userTitle, originalText string) (NormalizedTask, error) {
	fallback := NormalizedTask{Title: userTitle}

	requestBody := map[string]interface{}{
		"model":      c.model,
		"max_tokens": 150,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": fmt.Sprintf("User title: %s\nOriginal message: %s", userTitle, originalText)},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return fallback, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return fallback, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fallback, fmt.Errorf("API request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fallback, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fallback, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return fallback, fmt.Errorf("empty response from API")
	}

	parsed, ok := parseStructured(apiResp.Choices[0].Message.Content)
	if !ok {
		// Malformed model output: fall back, not an error
		return fallback, nil
	}
	if parsed.Title == "" {
		parsed.Title = userTitle
	}
	return parsed, nil
}

// parseStructured extracts the {title, description} JSON from model output,
// tolerating markdown code fences around it.
func parseStructured(content string) (NormalizedTask, bool) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var result NormalizedTask
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return NormalizedTask{}, false
	}
	return result, true
}
