package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"school-transit/pkg/logger"
)

var (
	// ErrRequiresLogin means the session is gone for good: the token was
	// rejected and the refresh failed.
	ErrRequiresLogin = errors.New("api: session expired, login required")
	ErrRequestFailed = errors.New("api: request failed")
)

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// TokenStore holds the current access/refresh token pair.
type TokenStore interface {
	Tokens() (access, refresh string)
	SetTokens(access, refresh string)
	Clear()
}

// MemoryTokenStore is the in-process TokenStore.
type MemoryTokenStore struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (s *MemoryTokenStore) Tokens() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, s.refresh
}

func (s *MemoryTokenStore) SetTokens(access, refresh string) {
	s.mu.Lock()
	s.access, s.refresh = access, refresh
	s.mu.Unlock()
}

func (s *MemoryTokenStore) Clear() {
	s.mu.Lock()
	s.access, s.refresh = "", ""
	s.mu.Unlock()
}

// Observer is the metrics hook.
type Observer interface {
	RequestRetried()
}

type nopObserver struct{}

func (nopObserver) RequestRetried() {}

// Client talks to the backend REST API under /api/v1. A 401/403 triggers one
// token refresh and one retry of the original request; a failed refresh
// clears the stored credentials and surfaces ErrRequiresLogin.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	logger     logger.Logger
	observer   Observer
}

func NewClient(baseURL string, tokens TokenStore, log logger.Logger, obs Observer) *Client {
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tokens:     tokens,
		logger:     log,
		observer:   obs,
	}
}

// BaseURL returns the configured API base, for socket URL derivation.
func (c *Client) BaseURL() string { return c.baseURL }

// do sends one authenticated request and decodes the envelope's data into
// out. Auth failures go through the refresh-and-retry path once.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	access, _ := c.tokens.Tokens()

	// A token already past its expiry will be rejected anyway; refresh up
	// front and save the round trip.
	if access != "" && tokenExpired(access) {
		if err := c.refresh(ctx); err != nil {
			return err
		}
		access, _ = c.tokens.Tokens()
	}

	status, err := c.send(ctx, method, path, body, access, out)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if err := c.refresh(ctx); err != nil {
			return err
		}
		c.observer.RequestRetried()
		access, _ = c.tokens.Tokens()
		_, err = c.send(ctx, method, path, body, access, out)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, access string, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp.StatusCode, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response for %s %s: %w", method, path, err)
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrRequestFailed, msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode data for %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

type tokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func (c *Client) refresh(ctx context.Context) error {
	_, refresh := c.tokens.Tokens()
	if refresh == "" {
		c.tokens.Clear()
		return ErrRequiresLogin
	}

	var pair tokenPair
	_, err := c.send(ctx, http.MethodPost, "/common/auth/refresh-token",
		map[string]string{"refreshToken": refresh}, "", &pair)
	if err == nil && pair.Token == "" {
		err = errors.New("refresh response carried no token")
	}
	if err != nil {
		c.logger.Error("api.refresh_failed", err)
		c.tokens.Clear()
		return ErrRequiresLogin
	}

	c.tokens.SetTokens(pair.Token, pair.RefreshToken)
	c.logger.Debug("api.token_refreshed", "access token renewed")
	return nil
}

// tokenExpired inspects the JWT exp claim without verifying the signature;
// the server remains the authority, this only short-circuits a doomed call.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
