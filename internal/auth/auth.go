// Package auth supplies bearer tokens for the market-data API by exchanging a
// long-lived refresh token for short-lived access tokens.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTokenURL is the TradeStation OAuth token endpoint.
	DefaultTokenURL = "https://signin.tradestation.com/oauth/token"

	// Tokens are treated as expired this long before their real expiry.
	expiryMargin = 5 * time.Minute

	// defaultTTL applies when the token response omits expires_in.
	defaultTTL = 1200 * time.Second
)

// Error reports a failed refresh exchange.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "auth: refresh access token: " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Credentials holds the client registration and the long-lived refresh token.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string // DefaultTokenURL when empty
}

type token struct {
	value     string
	expiresAt time.Time
}

// Provider hands out access tokens, refreshing lazily and on Invalidate.
// Safe for concurrent use; concurrent refreshes are collapsed into one.
type Provider struct {
	conf   *oauth2.Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	refreshToken string
	current      token
	epoch        uint64 // bumped on every successful refresh

	group singleflight.Group
}

// NewProvider creates a Provider. client may be nil (http.DefaultClient).
func NewProvider(creds Credentials, client *http.Client, logger *slog.Logger) *Provider {
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:       client,
		logger:       logger,
		now:          time.Now,
		refreshToken: creds.RefreshToken,
	}
}

// AccessToken returns a valid access token, refreshing when the cached one is
// missing, invalidated, or within 5 minutes of expiry.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	tok, epoch := p.current, p.epoch
	p.mu.Unlock()
	if p.valid(tok) {
		return tok.value, nil
	}

	key := fmt.Sprintf("refresh-%d", epoch)
	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		return p.refresh(ctx, epoch)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate forces the next AccessToken call to refresh.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.current = token{}
	p.mu.Unlock()
}

// InvalidateToken drops value only if it is still the cached token. A caller
// holding a token that was already replaced by a concurrent refresh gets the
// new token on its next call instead of triggering another refresh.
func (p *Provider) InvalidateToken(value string) {
	p.mu.Lock()
	if p.current.value == value {
		p.current = token{}
	}
	p.mu.Unlock()
}

func (p *Provider) valid(t token) bool {
	return t.value != "" && p.now().Before(t.expiresAt.Add(-expiryMargin))
}

func (p *Provider) refresh(ctx context.Context, seen uint64) (string, error) {
	p.mu.Lock()
	if p.epoch != seen && p.valid(p.current) {
		// another refresh finished between our check and the flight
		v := p.current.value
		p.mu.Unlock()
		return v, nil
	}
	rt := p.refreshToken
	p.mu.Unlock()

	p.logger.Info("refreshing access token")
	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}
	issued := p.now()
	tok, err := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: rt}).Token()
	if err != nil {
		return "", &Error{Err: err}
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = issued.Add(defaultTTL)
	}

	p.mu.Lock()
	p.current = token{value: tok.AccessToken, expiresAt: expiresAt}
	if tok.RefreshToken != "" {
		p.refreshToken = tok.RefreshToken
	}
	p.epoch++
	p.mu.Unlock()

	p.logger.Info("token refreshed", "expires_in_sec", int(expiresAt.Sub(issued).Seconds()))
	return tok.AccessToken, nil
}
