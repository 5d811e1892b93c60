package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/api"
)

// ErrNotAuthenticated is returned when a token is requested before a
// successful Authenticate call.
var ErrNotAuthenticated = errors.New("auth: not authenticated")

// tokenResult is the /public/auth response payload.
type tokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// Authenticator obtains and holds the venue access token. It is safe for
// concurrent use; the trading client reads the token through TokenSource.
type Authenticator struct {
	client       *api.Client
	clientID     string
	clientSecret string
	logger       *slog.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// New creates an Authenticator backed by the given REST client.
func New(client *api.Client, clientID, clientSecret string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Authenticator{
		client:       client,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
	}
}

// Authenticate exchanges the client credentials for an access token.
func (a *Authenticator) Authenticate(ctx context.Context) error {
	query := url.Values{}
	query.Set("client_id", a.clientID)
	query.Set("client_secret", a.clientSecret)
	query.Set("grant_type", "client_credentials")

	return a.fetch(ctx, query)
}

// Refresh trades the stored refresh token for a new access token.
func (a *Authenticator) Refresh(ctx context.Context) error {
	a.mu.Lock()
	refresh := a.refreshToken
	a.mu.Unlock()

	if refresh == "" {
		return ErrNotAuthenticated
	}

	query := url.Values{}
	query.Set("refresh_token", refresh)
	query.Set("grant_type", "refresh_token")

	return a.fetch(ctx, query)
}

func (a *Authenticator) fetch(ctx context.Context, query url.Values) error {
	var result tokenResult
	if err := a.client.Get(ctx, "/public/auth", query, &result); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if result.AccessToken == "" {
		return fmt.Errorf("authenticate: empty access token in response")
	}

	a.mu.Lock()
	a.accessToken = result.AccessToken
	a.refreshToken = result.RefreshToken
	a.expiresAt = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	a.mu.Unlock()

	a.logger.Info("authenticated with venue",
		"scope", result.Scope,
		"expires_in", result.ExpiresIn,
	)

	return nil
}

// AccessToken returns the current token, or ErrNotAuthenticated.
func (a *Authenticator) AccessToken() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken == "" {
		return "", ErrNotAuthenticated
	}
	return a.accessToken, nil
}

// IsAuthenticated reports whether a non-expired token is held.
func (a *Authenticator) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.accessToken != "" && time.Now().Before(a.expiresAt)
}

// TokenSource adapts the authenticator for api.WithTokenSource. It returns
// the current token, or empty when unauthenticated.
func (a *Authenticator) TokenSource() api.TokenSource {
	return func() string {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.accessToken
	}
}
