package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"spendwise/internal/classifier"
	"spendwise/internal/config"
)

// OpenAICompleter talks to any OpenAI-compatible chat completions API.
type OpenAICompleter struct {
	name     string
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
}

func NewOpenAICompleter(svc config.ServiceConfig, httpClient *http.Client) *OpenAICompleter {
	base := strings.TrimRight(svc.BaseURL, "/")
	endpoint := base + "/v1/chat/completions"
	if strings.HasSuffix(base, "/v1") {
		endpoint = base + "/chat/completions"
	}
	return &OpenAICompleter{
		name:     svc.Name,
		endpoint: endpoint,
		apiKey:   svc.APIKey,
		model:    svc.Model,
		http:     httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAICompleter) Complete(ctx context.Context, p classifier.Prompt) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &classifier.Error{Kind: classifier.KindConfig, Service: c.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		// Deadline and transport errors are classified by the caller.
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(data, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if decodeErr == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", classifier.FromStatus(c.name, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", &classifier.Error{Kind: classifier.KindReply, Service: c.name, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if len(parsed.Choices) == 0 {
		return "", &classifier.Error{Kind: classifier.KindReply, Service: c.name, Err: errors.New("response has no choices")}
	}
	return parsed.Choices[0].Message.Content, nil
}
