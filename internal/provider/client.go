package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"docchat/internal/config"
	"docchat/internal/domain"
)

// NoResponse is returned as content when the backend produced no text.
const NoResponse = "No response from AI."

// Error is the single error type of the client. Message is the most
// specific description available.
type Error struct {
	StatusCode int // 0 for transport failures
	Message    string
	Err        error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// Response is the normalized result of one completion.
type Response struct {
	Content string
	Model   string
	Usage   domain.Usage
}

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	apiKey  string
	apiBase string
	model   string
	formats config.FormatsConfig
	client  *http.Client
	logger  *slog.Logger
}

type ClientConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Formats config.FormatsConfig
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		formats: cfg.Formats,
		client:  SharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}
}

func (c *Client) Model() string { return c.model }

// Healthy probes the models endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ai backend not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("ai backend: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ai backend returned %d", resp.StatusCode)
	}
	return nil
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []domain.Turn `json:"messages"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	Stream           bool          `json:"stream"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   domain.Usage `json:"usage"`
}

type chatChoice struct {
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateResponse prepends the format's system prompt to turns and asks the
// backend for one completion. Sampling parameters come from the format's
// configured defaults, overridden by any non-nil field of o.
func (c *Client) GenerateResponse(ctx context.Context, turns []domain.Turn, format domain.Format, o Overrides) (*Response, error) {
	params := Resolve(c.formats.For(format), o)

	msgs := make([]domain.Turn, 0, len(turns)+1)
	msgs = append(msgs, domain.Turn{Role: "system", Content: SystemPrompt(format)})
	msgs = append(msgs, turns...)

	body := chatRequest{
		Model:            c.model,
		Messages:         msgs,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		MaxTokens:        params.MaxTokens,
		Stop:             params.Stop,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Message: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &Error{Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("ai request failed", "format", format, "error", err)
		return nil, &Error{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := &Error{StatusCode: resp.StatusCode, Message: fmt.Sprintf("Request failed with status code %d", resp.StatusCode)}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			e.Message = eb.Error.Message
		}
		c.logger.Warn("ai backend error", "format", format, "status", resp.StatusCode, "error", e.Message)
		return nil, e
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err), Err: err}
	}

	out := &Response{Content: NoResponse, Model: cr.Model, Usage: cr.Usage}
	if out.Model == "" {
		out.Model = c.model
	}
	if len(cr.Choices) > 0 && cr.Choices[0].Message != nil {
		if content := strings.TrimSpace(cr.Choices[0].Message.Content); content != "" {
			out.Content = content
		}
	}

	c.logger.Debug("ai response",
		"format", format,
		"model", out.Model,
		"tokens", out.Usage.TotalTokens,
		"duration", time.Since(start))
	return out, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
