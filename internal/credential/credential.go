// Package credential supplies bearer tokens for remote access.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNoCredential means no usable token is available. It is fatal for a
// sync attempt and never retried.
var ErrNoCredential = errors.New("no credential available")

// Provider returns a bearer token, performing any refresh it needs.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static serves a fixed token.
type Static string

// Token returns the token, or ErrNoCredential when it is empty.
func (s Static) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrNoCredential
	}
	return tok, nil
}

// OAuth2Config configures the refresh-token flow.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	Scopes       []string
}

// OAuth2 exchanges a long-lived refresh token for access tokens, reusing
// each access token until it expires.
type OAuth2 struct {
	cfg  oauth2.Config
	seed *oauth2.Token

	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewOAuth2 returns a refresh-token provider.
func NewOAuth2(cfg OAuth2Config) *OAuth2 {
	return &OAuth2{
		cfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		seed: &oauth2.Token{RefreshToken: cfg.RefreshToken},
	}
}

// Token returns a valid access token. Any refresh failure is reported as
// ErrNoCredential wrapping the cause.
func (o *OAuth2) Token(ctx context.Context) (string, error) {
	if o.seed.RefreshToken == "" {
		return "", ErrNoCredential
	}

	o.mu.Lock()
	if o.src == nil {
		// The source keeps the context for later refreshes, so it must
		// not be bound to a single request.
		o.src = oauth2.ReuseTokenSource(nil, o.cfg.TokenSource(context.WithoutCancel(ctx), o.seed))
	}
	src := o.src
	o.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: refresh access token: %w", ErrNoCredential, err)
	}
	if tok.AccessToken == "" {
		return "", ErrNoCredential
	}
	return tok.AccessToken, nil
}

// Func adapts a function to Provider.
type Func func(ctx context.Context) (string, error)

// Token calls f.
func (f Func) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
