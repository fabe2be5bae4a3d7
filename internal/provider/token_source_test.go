package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeTokenFile(t *testing.T, dir string, token storedToken) string {
	t.Helper()

	data, err := json.Marshal(token)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	path := filepath.Join(dir, "gmail_token.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func readTokenFile(t *testing.T, path string) storedToken {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var token storedToken
	if err := json.Unmarshal(data, &token); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return token
}

// newGoogleStub serves both the token endpoint and the Gmail send endpoint.
func newGoogleStub(t *testing.T, refreshStatus int) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()

	var refreshes atomic.Int32
	var lastAuth atomic.Value
	lastAuth.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "refresh-1" {
			t.Errorf("unexpected refresh form: %v", r.PostForm)
		}
		if refreshStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(refreshStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc(gmailSendPath, func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"msg-9"}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &refreshes, &lastAuth
}

func TestTokenFileSourceUsesValidToken(t *testing.T) {
	t.Parallel()

	server, refreshes, lastAuth := newGoogleStub(t, http.StatusOK)
	path := writeTokenFile(t, t.TempDir(), storedToken{
		Token:        "access-1",
		RefreshToken: "refresh-1",
		TokenURI:     server.URL + "/token",
		ClientID:     "client",
		ClientSecret: "secret",
		Account:      "ops@fund.com",
		Expiry:       time.Now().Add(time.Hour).UTC().Format(tokenExpiryLayout),
	})

	source := NewTokenFileSource(path, server.URL, nil)
	capability, ok := source.Acquire(context.Background())
	if !ok {
		t.Fatal("Acquire() should succeed with a valid token")
	}

	outcome := capability.Send(context.Background(), "ayse@fund.com", "s", "b")
	if !outcome.Success {
		t.Fatalf("Send() outcome = %+v, want success", outcome)
	}
	if got := lastAuth.Load().(string); got != "Bearer access-1" {
		t.Fatalf("Authorization = %q, want Bearer access-1", got)
	}
	if refreshes.Load() != 0 {
		t.Fatalf("refreshes = %d, want 0", refreshes.Load())
	}
	if AccountOf(capability) != "ops@fund.com" {
		t.Fatalf("AccountOf() = %q, want ops@fund.com", AccountOf(capability))
	}
}

func TestTokenFileSourceRefreshesExpiredTokenAndSaves(t *testing.T) {
	t.Parallel()

	server, refreshes, lastAuth := newGoogleStub(t, http.StatusOK)
	path := writeTokenFile(t, t.TempDir(), storedToken{
		Token:        "access-1",
		RefreshToken: "refresh-1",
		TokenURI:     server.URL + "/token",
		ClientID:     "client",
		ClientSecret: "secret",
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.send"},
		Expiry:       time.Now().Add(-time.Hour).UTC().Format(tokenExpiryLayout),
	})

	source := NewTokenFileSource(path, server.URL, nil)
	capability, ok := source.Acquire(context.Background())
	if !ok {
		t.Fatal("Acquire() should refresh an expired token")
	}
	if refreshes.Load() != 1 {
		t.Fatalf("refreshes = %d, want 1", refreshes.Load())
	}

	saved := readTokenFile(t, path)
	if saved.Token != "access-2" {
		t.Fatalf("saved token = %q, want access-2", saved.Token)
	}
	if saved.RefreshToken != "refresh-1" {
		t.Fatalf("saved refresh token = %q, want refresh-1 kept", saved.RefreshToken)
	}
	if saved.ClientID != "client" || len(saved.Scopes) != 1 {
		t.Fatalf("saved token lost client fields: %+v", saved)
	}

	if outcome := capability.Send(context.Background(), "ayse@fund.com", "s", "b"); !outcome.Success {
		t.Fatalf("Send() outcome = %+v, want success", outcome)
	}
	if got := lastAuth.Load().(string); got != "Bearer access-2" {
		t.Fatalf("Authorization = %q, want Bearer access-2", got)
	}
	if refreshes.Load() != 1 {
		t.Fatalf("refreshes after send = %d, want 1", refreshes.Load())
	}
}

func TestTokenFileSourceUnavailable(t *testing.T) {
	t.Parallel()

	server, _, _ := newGoogleStub(t, http.StatusBadRequest)
	expired := time.Now().Add(-time.Hour).UTC().Format(tokenExpiryLayout)

	testCases := []struct {
		name  string
		setup func(t *testing.T, dir string) string
	}{
		{
			name: "missing file",
			setup: func(t *testing.T, dir string) string {
				return filepath.Join(dir, "absent.json")
			},
		},
		{
			name: "malformed json",
			setup: func(t *testing.T, dir string) string {
				path := filepath.Join(dir, "gmail_token.json")
				if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
					t.Fatalf("WriteFile() error = %v", err)
				}
				return path
			},
		},
		{
			name: "expired without refresh token",
			setup: func(t *testing.T, dir string) string {
				return writeTokenFile(t, dir, storedToken{Token: "access-1", Expiry: expired})
			},
		},
		{
			name: "refresh rejected",
			setup: func(t *testing.T, dir string) string {
				return writeTokenFile(t, dir, storedToken{
					Token:        "access-1",
					RefreshToken: "refresh-1",
					TokenURI:     server.URL + "/token",
					ClientID:     "client",
					Expiry:       expired,
				})
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := tc.setup(t, t.TempDir())
			capability, ok := NewTokenFileSource(path, server.URL, nil).Acquire(context.Background())
			if ok || capability != nil {
				t.Fatalf("Acquire() = (%v, %v), want (nil, false)", capability, ok)
			}
		})
	}
}

func TestStoredTokenParsesGoogleExpiryFormat(t *testing.T) {
	t.Parallel()

	token, err := storedToken{Token: "a", Expiry: "2026-03-01T12:00:00.123456Z"}.oauthToken()
	if err != nil {
		t.Fatalf("oauthToken() error = %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	if !token.Expiry.Equal(want) {
		t.Fatalf("Expiry = %v, want %v", token.Expiry, want)
	}

	if _, err := (storedToken{Token: "a", Expiry: "yesterday"}).oauthToken(); err == nil || !strings.Contains(err.Error(), "invalid token expiry") {
		t.Fatalf("oauthToken() error = %v, want invalid expiry", err)
	}
}
