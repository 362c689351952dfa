package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"spendwise/internal/classifier"
	"spendwise/internal/config"
)

// GeminiCompleter calls the Gemini API through the genai SDK.
type GeminiCompleter struct {
	name   string
	model  string
	client *genai.Client
}

func NewGeminiCompleter(ctx context.Context, svc config.ServiceConfig, httpClient *http.Client) (*GeminiCompleter, error) {
	cfg := &genai.ClientConfig{
		APIKey:     svc.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if svc.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: svc.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiCompleter{name: svc.Name, model: svc.Model, client: client}, nil
}

func (c *GeminiCompleter) Complete(ctx context.Context, p classifier.Prompt) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(p.User), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", classifier.FromStatus(c.name, apiErr.Code, apiErr.Message)
		}
		return "", err
	}

	text := resp.Text()
	if text == "" {
		return "", &classifier.Error{Kind: classifier.KindReply, Service: c.name, Err: errors.New("empty response from model")}
	}
	return text, nil
}
