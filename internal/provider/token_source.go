package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultTokenURI   = "https://oauth2.googleapis.com/token"
	tokenExpiryLayout = "2006-01-02T15:04:05.000000Z"
)

// storedToken mirrors the authorized-user JSON written by Google's client
// libraries, so a token produced by the desktop login flow loads unchanged.
type storedToken struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes,omitempty"`
	Account      string   `json:"account,omitempty"`
	Expiry       string   `json:"expiry,omitempty"`
}

func (s storedToken) oauthToken() (*oauth2.Token, error) {
	token := &oauth2.Token{
		AccessToken:  s.Token,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
	}
	if s.Expiry != "" {
		expiry, err := time.Parse(time.RFC3339Nano, s.Expiry)
		if err != nil {
			return nil, fmt.Errorf("invalid token expiry %q: %w", s.Expiry, err)
		}
		token.Expiry = expiry
	}
	return token, nil
}

var _ Acquirer = (*TokenFileSource)(nil)

// TokenFileSource acquires a Gmail capability from an OAuth token kept on
// disk. Expired access tokens are refreshed silently and the refreshed token
// is written back to the same file.
type TokenFileSource struct {
	path       string
	apiBaseURL string
	timeout    time.Duration
	logger     *zap.Logger

	mu sync.Mutex
}

func NewTokenFileSource(path string, apiBaseURL string, logger *zap.Logger) *TokenFileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenFileSource{
		path:       path,
		apiBaseURL: apiBaseURL,
		timeout:    defaultGmailTimeout,
		logger:     logger,
	}
}

// Acquire loads the token, refreshes it when needed and returns a capability
// bound to it. Any load or refresh failure yields false.
func (s *TokenFileSource) Acquire(ctx context.Context) (Capability, bool) {
	stored, err := s.load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("gmail token file not found", zap.String("path", s.path))
		} else {
			s.logger.Warn("gmail token could not be loaded", zap.String("path", s.path), zap.Error(err))
		}
		return nil, false
	}

	initial, err := stored.oauthToken()
	if err != nil {
		s.logger.Warn("gmail token is malformed", zap.String("path", s.path), zap.Error(err))
		return nil, false
	}
	if initial.RefreshToken == "" && !initial.Valid() {
		s.logger.Warn("gmail token expired and cannot be refreshed", zap.String("path", s.path))
		return nil, false
	}

	tokenURI := stored.TokenURI
	if tokenURI == "" {
		tokenURI = defaultTokenURI
	}
	conf := &oauth2.Config{
		ClientID:     stored.ClientID,
		ClientSecret: stored.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURI, AuthStyle: oauth2.AuthStyleInParams},
		Scopes:       stored.Scopes,
	}

	persisting := &persistingTokenSource{
		base:   conf.TokenSource(ctx, initial),
		last:   initial.AccessToken,
		save:   func(t *oauth2.Token) error { return s.save(stored, t) },
		logger: s.logger,
	}
	source := oauth2.ReuseTokenSource(initial, persisting)

	if _, err := source.Token(); err != nil {
		s.logger.Warn("gmail token refresh failed", zap.String("path", s.path), zap.Error(err))
		return nil, false
	}

	client := resty.NewWithClient(oauth2.NewClient(ctx, source))
	client.SetTimeout(s.timeout)

	capability, err := NewGmailCapability(client, s.apiBaseURL, stored.Account, s.logger)
	if err != nil {
		s.logger.Warn("gmail capability could not be built", zap.Error(err))
		return nil, false
	}
	return capability, true
}

func (s *TokenFileSource) load() (storedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return storedToken{}, err
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return storedToken{}, fmt.Errorf("failed to decode token file: %w", err)
	}
	if strings.TrimSpace(stored.Token) == "" && strings.TrimSpace(stored.RefreshToken) == "" {
		return storedToken{}, fmt.Errorf("token file has neither access nor refresh token")
	}
	return stored, nil
}

func (s *TokenFileSource) save(stored storedToken, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored.Token = token.AccessToken
	if token.RefreshToken != "" {
		stored.RefreshToken = token.RefreshToken
	}
	stored.Expiry = ""
	if !token.Expiry.IsZero() {
		stored.Expiry = token.Expiry.UTC().Format(tokenExpiryLayout)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".gmail-token-*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

// persistingTokenSource writes every newly minted access token back to disk.
type persistingTokenSource struct {
	base   oauth2.TokenSource
	save   func(*oauth2.Token) error
	logger *zap.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if token.AccessToken != p.last {
		if err := p.save(token); err != nil {
			p.logger.Warn("refreshed gmail token could not be saved", zap.Error(err))
		} else {
			p.last = token.AccessToken
		}
	}
	return token, nil
}
