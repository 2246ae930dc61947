package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"docchat/internal/config"
	"docchat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		APIKey:  "sk-test",
		APIBase: srv.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
		Formats: config.Defaults().AI.Formats,
		Logger:  testLogger(),
	})
}

func TestGenerateResponse_SendsSystemPromptAndFormatParams(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		io.WriteString(w, `{"model":"test-model","choices":[{"message":{"role":"assistant","content":"  Name,Age\nAlice,30  "}}],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`)
	})

	turns := []domain.Turn{{Role: "user", Content: "Summarize"}}
	resp, err := c.GenerateResponse(context.Background(), turns, domain.FormatExcel, Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Name,Age\nAlice,30" {
		t.Fatalf("content not trimmed: %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Fatalf("expected 7 total tokens, got %d", resp.Usage.TotalTokens)
	}

	if len(got.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != SystemPrompt(domain.FormatExcel) {
		t.Fatalf("unexpected system turn: %+v", got.Messages[0])
	}
	if got.Messages[1] != turns[0] {
		t.Fatalf("user turn altered: %+v", got.Messages[1])
	}
	excel := config.Defaults().AI.Formats.Excel
	if got.Temperature != excel.Temperature || got.MaxTokens != excel.MaxTokens || got.TopP != excel.TopP {
		t.Fatalf("expected excel defaults, got temp=%v topP=%v max=%d", got.Temperature, got.TopP, got.MaxTokens)
	}
}

func TestGenerateResponse_ExplicitOverrideWins(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})

	temp := 1.3
	maxTokens := 42
	_, err := c.GenerateResponse(context.Background(), nil, domain.FormatChecklist, Overrides{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"END"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Temperature != 1.3 || got.MaxTokens != 42 {
		t.Fatalf("overrides not applied: temp=%v max=%d", got.Temperature, got.MaxTokens)
	}
	if len(got.Stop) != 1 || got.Stop[0] != "END" {
		t.Fatalf("stop override not applied: %v", got.Stop)
	}
	if got.TopP != config.Defaults().AI.Formats.Checklist.TopP {
		t.Fatalf("topP should keep the checklist default, got %v", got.TopP)
	}
}

func TestGenerateResponse_FallbackContent(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"model":"m"}`},
		{"empty choices", `{"choices":[]}`},
		{"no message", `{"choices":[{"finish_reason":"stop"}]}`},
		{"empty content", `{"choices":[{"message":{"content":""}}]}`},
		{"whitespace content", `{"choices":[{"message":{"content":"  \n "}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			})
			resp, err := c.GenerateResponse(context.Background(), nil, domain.FormatText, Overrides{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Content != "No response from AI." {
				t.Fatalf("expected fallback, got %q", resp.Content)
			}
		})
	}
}

func TestGenerateResponse_ProviderErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	})
	_, err := c.GenerateResponse(context.Background(), nil, domain.FormatText, Overrides{})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if perr.Message != "Rate limit reached" || perr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected error: %+v", perr)
	}
}

func TestGenerateResponse_GenericStatusMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>bad gateway</html>")
	})
	_, err := c.GenerateResponse(context.Background(), nil, domain.FormatText, Overrides{})
	if err == nil || err.Error() != "Request failed with status code 502" {
		t.Fatalf("expected generic status message, got %v", err)
	}
}

func TestGenerateResponse_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{APIBase: base, Logger: testLogger()})
	_, err := c.GenerateResponse(context.Background(), nil, domain.FormatText, Overrides{})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if perr.StatusCode != 0 || perr.Err == nil {
		t.Fatalf("expected transport error, got %+v", perr)
	}
}

func TestGenerateResponse_NoRetry(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.GenerateResponse(context.Background(), nil, domain.FormatText, Overrides{})
	if calls != 1 {
		t.Fatalf("expected exactly one request, got %d", calls)
	}
}

func TestHealthy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"data":[]}`)
	})
	if err := c.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
}

func TestSystemPrompt_EveryFormat(t *testing.T) {
	for _, f := range domain.Formats() {
		p := SystemPrompt(f)
		if p == "" {
			t.Errorf("format %s has empty system prompt", f)
		}
		if f == domain.FormatText && p != baseSystemPrompt {
			t.Errorf("text should use only the base prompt, got %q", p)
		}
		if f != domain.FormatText && !strings.HasPrefix(p, baseSystemPrompt) {
			t.Errorf("format %s prompt lacks the base prompt", f)
		}
	}
}

func TestResolve(t *testing.T) {
	defaults := config.SamplingConfig{Temperature: 0.5, TopP: 0.9, MaxTokens: 100, Stop: []string{"x"}}
	zero := 0.0

	got := Resolve(defaults, Overrides{Temperature: &zero})
	if got.Temperature != 0 {
		t.Fatalf("explicit zero must override, got %v", got.Temperature)
	}
	if got.TopP != 0.9 || got.MaxTokens != 100 {
		t.Fatalf("unset fields should keep defaults: %+v", got)
	}
	got.Stop[0] = "mutated"
	if defaults.Stop[0] != "x" {
		t.Fatal("Resolve must not alias the default stop slice")
	}
}
