package identity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKratosServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health/alive" {
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
		if r.URL.Path != "/sessions/whoami" {
			http.NotFound(w, r)
			return
		}
		switch {
		case r.Header.Get("Cookie") == "ory_kratos_session=good":
			w.Write([]byte(`{"active":true,"identity":{"id":"id-1","traits":{"email":"a@example.com","name":{"first":"Ada","last":"Lovelace"}}}}`))
		case r.Header.Get("X-Session-Token") == "tok":
			w.Write([]byte(`{"active":true,"identity":{"id":"id-2","traits":{"email":"b@example.com"}}}`))
		case r.Header.Get("X-Session-Token") == "inactive":
			w.Write([]byte(`{"active":false,"identity":{"id":"id-3"}}`))
		case r.Header.Get("X-Session-Token") == "boom":
			http.Error(w, "db down", http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":401}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKratos_Whoami(t *testing.T) {
	srv := newKratosServer(t)
	k := NewKratos(KratosConfig{PublicURL: srv.URL + "/", Logger: testLogger()})

	tests := []struct {
		name     string
		header   string
		value    string
		wantID   string
		wantName string
		wantErr  bool
	}{
		{"cookie", "Cookie", "ory_kratos_session=good", "id-1", "Ada Lovelace", false},
		{"token header", "X-Session-Token", "tok", "id-2", "b@example.com", false},
		{"bearer", "Authorization", "Bearer tok", "id-2", "b@example.com", false},
		{"inactive", "X-Session-Token", "inactive", "", "", false},
		{"unauthorized", "Cookie", "ory_kratos_session=bad", "", "", false},
		{"anonymous", "", "", "", "", false},
		{"server error", "X-Session-Token", "boom", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?tempId=x", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			id, err := k.Whoami(context.Background(), r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantID == "" {
				if id != nil {
					t.Errorf("expected no identity, got %+v", id)
				}
				return
			}
			if id == nil || id.ID != tt.wantID || id.Name != tt.wantName {
				t.Errorf("identity = %+v, want %s/%s", id, tt.wantID, tt.wantName)
			}
		})
	}
}

func TestKratos_Identify(t *testing.T) {
	srv := newKratosServer(t)
	k := NewKratos(KratosConfig{PublicURL: srv.URL, Logger: testLogger()})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Cookie", "ory_kratos_session=good")
	id, err := k.Identify(context.Background(), r)
	if err != nil || id != "id-1" {
		t.Errorf("Identify = %q, %v", id, err)
	}

	anon := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if id, err := k.Identify(context.Background(), anon); err != nil || id != "" {
		t.Errorf("anonymous Identify = %q, %v", id, err)
	}
}

func TestKratos_Disabled(t *testing.T) {
	k := NewKratos(KratosConfig{Logger: testLogger()})
	if k.Enabled() {
		t.Fatal("empty URL should disable kratos")
	}
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Cookie", "ory_kratos_session=good")
	if id, err := k.Whoami(context.Background(), r); id != nil || err != nil {
		t.Errorf("disabled Whoami = %v, %v", id, err)
	}
}

func TestKratos_Ping(t *testing.T) {
	srv := newKratosServer(t)
	if err := NewKratos(KratosConfig{PublicURL: srv.URL, Logger: testLogger()}).Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v", err)
	}

	wrong := NewKratos(KratosConfig{PublicURL: srv.URL + "/nowhere", Logger: testLogger()})
	if err := wrong.Ping(context.Background()); err == nil {
		t.Error("expected error for a 404 health endpoint")
	}

	if err := NewKratos(KratosConfig{Logger: testLogger()}).Ping(context.Background()); err == nil {
		t.Error("expected error when not configured")
	}
}
