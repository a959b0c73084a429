// Package llm provides the language model backends used by extract.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// sharedHTTPClient is used by all HTTP providers; a 5-minute timeout covers slow LLM responses.
var sharedHTTPClient = &http.Client{
	Timeout: 5 * time.Minute,
}

// defaultMaxTokens is the fallback when Request.MaxTokens is not set.
const defaultMaxTokens = 8192

// Request holds the parameters for an LLM completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	// Model overrides the provider's configured model when non-empty.
	Model string
}

// Response holds the result of an LLM completion call.
type Response struct {
	Content string
	Model   string // actual model used, echoed back for meta
}

// Provider is the interface for LLM completion backends.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Generator turns one prompt into raw model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options tunes provider construction.
type Options struct {
	MaxTokens   int
	Temperature float64
	// Retries is the number of extra attempts on 429 and 5xx responses.
	Retries int
	// BaseURL overrides the provider endpoint.
	BaseURL string
	Logger  *zap.Logger
}

// Client adapts a Provider to the Generator capability with fixed request
// settings.
type Client struct {
	Provider    Provider
	System      string
	MaxTokens   int
	Temperature float64
}

// Generate sends prompt as the user message.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Provider.Complete(ctx, &Request{
		SystemPrompt: c.System,
		UserPrompt:   prompt,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Providers lists the supported provider names.
var Providers = []string{"stub", "anthropic", "openai", "gemini"}

var apiKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// NewProvider parses a "provider:model" string and returns the appropriate Provider.
// The API key is read from the environment at construction time and validated immediately.
// "stub" needs no model or key.
// Example: "anthropic:claude-sonnet-4-5", "openai:gpt-4o" or "gemini:gemini-2.0-flash".
func NewProvider(ctx context.Context, providerModel string, opts Options) (Provider, error) {
	if providerModel == "stub" || strings.HasPrefix(providerModel, "stub:") {
		return stubProvider{}, nil
	}
	parts := strings.SplitN(providerModel, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid model format %q: expected provider:model (e.g. anthropic:claude-sonnet-4-5)", providerModel)
	}
	name, model := parts[0], parts[1]
	env, ok := apiKeyEnv[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q: supported providers are %s", name, strings.Join(Providers, ", "))
	}
	apiKey := os.Getenv(env)
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable not set", env)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	post := &poster{retries: opts.Retries, log: log.With(zap.String("provider", name))}
	switch name {
	case "anthropic":
		return &anthropicProvider{model: model, apiKey: apiKey, url: endpoint(opts.BaseURL, anthropicAPIURL), post: post}, nil
	case "openai":
		return &openaiProvider{model: model, apiKey: apiKey, url: endpoint(opts.BaseURL, openaiAPIURL), post: post}, nil
	default:
		return newGeminiProvider(ctx, model, apiKey, opts.BaseURL)
	}
}

func endpoint(override, def string) string {
	if override != "" {
		return override
	}
	return def
}

// truncate limits a string to maxLen runes, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
