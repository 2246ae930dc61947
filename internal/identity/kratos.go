// Package identity resolves the authenticated user behind a WebSocket
// upgrade request through an Ory Kratos public API.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type KratosConfig struct {
	PublicURL string // e.g. http://kratos:4433; empty disables lookups
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Identity is the subset of a Kratos identity the chat needs.
type Identity struct {
	ID   string
	Name string
}

type Kratos struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewKratos(cfg KratosConfig) *Kratos {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Kratos{
		baseURL: strings.TrimRight(cfg.PublicURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

// Enabled reports whether a Kratos URL is configured.
func (k *Kratos) Enabled() bool {
	return k != nil && k.baseURL != ""
}

type whoamiResponse struct {
	Active   bool `json:"active"`
	Identity struct {
		ID     string `json:"id"`
		Traits struct {
			Email string `json:"email"`
			Name  any    `json:"name"`
		} `json:"traits"`
	} `json:"identity"`
}

// Ping checks the public health endpoint.
func (k *Kratos) Ping(ctx context.Context) error {
	if !k.Enabled() {
		return fmt.Errorf("kratos is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/health/alive", nil)
	if err != nil {
		return err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("kratos not reachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kratos health returned %d", resp.StatusCode)
	}
	return nil
}

// Identify returns the identity id of the session on r, or "" for an
// anonymous request.
func (k *Kratos) Identify(ctx context.Context, r *http.Request) (string, error) {
	id, err := k.Whoami(ctx, r)
	if err != nil || id == nil {
		return "", err
	}
	return id.ID, nil
}

// Whoami forwards the session cookie or token of r to /sessions/whoami.
// It returns nil without error when there is no active session.
func (k *Kratos) Whoami(ctx context.Context, r *http.Request) (*Identity, error) {
	if !k.Enabled() {
		return nil, nil
	}
	cookie := r.Header.Get("Cookie")
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if cookie == "" && token == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/sessions/whoami", nil)
	if err != nil {
		return nil, fmt.Errorf("whoami request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	if token != "" {
		req.Header.Set("X-Session-Token", token)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whoami: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whoami: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out whoamiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whoami: decode: %w", err)
	}
	if !out.Active || out.Identity.ID == "" {
		return nil, nil
	}
	id := &Identity{ID: out.Identity.ID, Name: displayName(out.Identity.Traits.Name, out.Identity.Traits.Email)}
	k.logger.Debug("session resolved", "identity", id.ID)
	return id, nil
}

// displayName accepts both a plain name trait and the {first,last} shape
// of the default Kratos schema.
func displayName(name any, email string) string {
	switch v := name.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		first, _ := v["first"].(string)
		last, _ := v["last"].(string)
		if full := strings.TrimSpace(first + " " + last); full != "" {
			return full
		}
	}
	return email
}
