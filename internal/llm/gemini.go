package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type geminiProvider struct {
	model  string
	client *genai.Client
}

func newGeminiProvider(ctx context.Context, model, apiKey, baseURL string) (*geminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &geminiProvider{model: model, client: client}, nil
}

func (p *geminiProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens:  int32(maxTokens),
		ResponseMIMEType: "application/json",
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.UserPrompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	content := resp.Text()
	if content == "" {
		return nil, fmt.Errorf("gemini: no text content in response (got %d candidates)", len(resp.Candidates))
	}
	return &Response{
		Content: content,
		Model:   fmt.Sprintf("gemini:%s", model),
	}, nil
}
