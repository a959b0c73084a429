package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/bowtie/internal/schema"
)

func init() {
	retryBaseDelay = time.Millisecond
}

func TestBuildPrompt_SubstitutesPlaceholders(t *testing.T) {
	prompt := BuildPrompt(DefaultTemplate, schema.V23.Template(), "The PSV failed to lift.")

	if strings.Contains(prompt, SchemaPlaceholder) || strings.Contains(prompt, TextPlaceholder) {
		t.Errorf("prompt still contains placeholders")
	}
	if !strings.Contains(prompt, `"schema_version"`) {
		t.Errorf("prompt missing schema template")
	}
	if !strings.Contains(prompt, "<incident>\nThe PSV failed to lift.\n</incident>") {
		t.Errorf("prompt missing incident text: %q", prompt)
	}
}

func TestBuildPrompt_TextPlaceholderInNarrativeKept(t *testing.T) {
	prompt := BuildPrompt(DefaultTemplate, "{}", "odd text {{SCHEMA_TEMPLATE}}")
	if !strings.Contains(prompt, "odd text {{SCHEMA_TEMPLATE}}") {
		t.Errorf("narrative was rewritten: %q", prompt)
	}
}

func TestValidateTemplate(t *testing.T) {
	if err := ValidateTemplate(DefaultTemplate); err != nil {
		t.Errorf("default template: %v", err)
	}
	if err := ValidateTemplate("only {{INCIDENT_TEXT}}"); err == nil {
		t.Error("expected error for template without schema placeholder")
	}
}

func TestRepairPrompt_DoesNotEchoModelOutput(t *testing.T) {
	p := RepairPrompt("original prompt", errors.New("JSON parse failed: invalid character 'I' looking for beginning of value"))
	if !strings.HasPrefix(p, "original prompt\n\n") {
		t.Errorf("repair prompt should extend the original: %q", p)
	}
	if !strings.Contains(p, `"JSON syntax error"`) {
		t.Errorf("repair prompt missing error category: %q", p)
	}
	if strings.Contains(p, "invalid character") {
		t.Errorf("repair prompt leaks the raw error: %q", p)
	}
}

func TestErrorCategory(t *testing.T) {
	cases := map[string]string{
		"JSON parse failed: trailing data after JSON value":   "more than one JSON value",
		"JSON parse failed: top-level value is not an object": "top-level value is not an object",
		"JSON parse failed: unexpected end of JSON input":     "truncated JSON",
		"JSON parse failed: invalid character 'x' in literal": "JSON syntax error",
	}
	for msg, want := range cases {
		if got := errorCategory(errors.New(msg)); got != want {
			t.Errorf("errorCategory(%q) = %q, want %q", msg, got, want)
		}
	}
}

func TestNewProvider_UnknownPrefix(t *testing.T) {
	_, err := NewProvider(context.Background(), "mistral:large", Options{})
	if err == nil {
		t.Error("expected error for unknown provider prefix, got nil")
	}
}

func TestNewProvider_InvalidFormat(t *testing.T) {
	_, err := NewProvider(context.Background(), "nocolon", Options{})
	if err == nil {
		t.Error("expected error for missing colon separator, got nil")
	}
}

func TestNewProvider_MissingKeys(t *testing.T) {
	for model, env := range map[string]string{
		"anthropic:claude-sonnet-4-5": "ANTHROPIC_API_KEY",
		"openai:gpt-4o":               "OPENAI_API_KEY",
		"gemini:gemini-2.0-flash":     "GEMINI_API_KEY",
	} {
		t.Setenv(env, "")
		_, err := NewProvider(context.Background(), model, Options{})
		if err == nil || !strings.Contains(err.Error(), env) {
			t.Errorf("%s: expected error naming %s, got %v", model, env, err)
		}
	}
}

func TestNewProvider_Stub(t *testing.T) {
	p, err := NewProvider(context.Background(), "stub", Options{})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	resp, err := p.Complete(context.Background(), &Request{UserPrompt: "anything"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(resp.Content), &doc); err != nil {
		t.Fatalf("stub output is not JSON: %v", err)
	}
	notes := doc["notes"].(map[string]any)
	if notes["schema_version"] != schema.Version {
		t.Errorf("schema_version = %v", notes["schema_version"])
	}
}

func TestAnthropic_Complete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"claude-test","content":[{"type":"text","text":"{\"incident_id\":\"x\"}"}]}`)
	}))
	defer srv.Close()
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	p, err := NewProvider(context.Background(), "anthropic:claude-test", Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	gen := &Client{Provider: p, System: SystemPrompt}
	out, err := gen.Generate(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"incident_id":"x"}` {
		t.Errorf("content = %q", out)
	}
	if got.System != SystemPrompt || got.Messages[0].Content != "prompt text" {
		t.Errorf("request not forwarded: %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Errorf("temperature should be sent as 0, got %v", got.Temperature)
	}
	if got.MaxTokens != defaultMaxTokens {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
}

func TestOpenAI_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error":{"type":"rate_limit","message":"slow down"}}`)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, `{}`)
		default:
			io.WriteString(w, `{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"{}"}}]}`)
		}
	}))
	defer srv.Close()
	t.Setenv("OPENAI_API_KEY", "sk-test")

	p, err := NewProvider(context.Background(), "openai:gpt-test", Options{BaseURL: srv.URL, Retries: 2})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	resp, err := p.Complete(context.Background(), &Request{UserPrompt: "x"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "{}" || calls.Load() != 3 {
		t.Errorf("content %q after %d calls", resp.Content, calls.Load())
	}
}

func TestOpenAI_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"type":"overloaded","message":"try later"}}`)
	}))
	defer srv.Close()
	t.Setenv("OPENAI_API_KEY", "sk-test")

	p, _ := NewProvider(context.Background(), "openai:gpt-test", Options{BaseURL: srv.URL, Retries: 1})
	_, err := p.Complete(context.Background(), &Request{UserPrompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("expected overloaded error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOpenAI_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"type":"auth","message":"bad key"}}`)
	}))
	defer srv.Close()
	t.Setenv("OPENAI_API_KEY", "sk-test")

	p, _ := NewProvider(context.Background(), "openai:gpt-test", Options{BaseURL: srv.URL, Retries: 3})
	if _, err := p.Complete(context.Background(), &Request{UserPrompt: "x"}); err == nil {
		t.Error("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestGemini_Complete(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"ok\":true}"}]}}]}`)
	}))
	defer srv.Close()
	t.Setenv("GEMINI_API_KEY", "g-test")

	p, err := NewProvider(context.Background(), "gemini:gemini-test", Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	resp, err := p.Complete(context.Background(), &Request{SystemPrompt: "sys", UserPrompt: "x"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"ok":true}` {
		t.Errorf("content = %q", resp.Content)
	}
	if !strings.HasSuffix(path, "gemini-test:generateContent") {
		t.Errorf("unexpected request path %q", path)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("truncate short string: got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello..." {
		t.Errorf("truncate long string: got %q", got)
	}
	// Multi-byte: é is 2 bytes but 1 rune; truncating at 3 runes should not cut mid-codepoint.
	if got := truncate("héllo", 3); got != "hél..." {
		t.Errorf("truncate multibyte: got %q, want %q", got, "hél...")
	}
}
