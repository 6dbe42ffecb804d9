package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no provider in a chain can supply a token.
var ErrNoToken = errors.New("no upstream token available")

// TokenProvider supplies the bearer token for calls to the lab backend.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticTokenProvider always returns the same token.
type StaticTokenProvider string

func (s StaticTokenProvider) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// ForwardedTokenProvider returns the caller's own bearer token so the
// backend sees the patient's identity.
type ForwardedTokenProvider struct{}

func (ForwardedTokenProvider) Token(ctx context.Context) (string, error) {
	if tok := BearerFromContext(ctx); tok != "" {
		return tok, nil
	}
	return "", ErrNoToken
}

// ServiceTokenProvider mints short-lived HS256 service tokens and reuses one
// until it is close to expiry.
type ServiceTokenProvider struct {
	key      []byte
	issuer   string
	subject  string
	lifetime time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewServiceTokenProvider creates a provider signing with key.
func NewServiceTokenProvider(key []byte, issuer, subject string, lifetime time.Duration) *ServiceTokenProvider {
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	return &ServiceTokenProvider{
		key:      key,
		issuer:   issuer,
		subject:  subject,
		lifetime: lifetime,
		now:      time.Now,
	}
}

func (p *ServiceTokenProvider) Token(context.Context) (string, error) {
	if len(p.key) == 0 {
		return "", ErrNoToken
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	// Refresh once less than a tenth of the lifetime remains.
	if p.cached != "" && now.Before(p.expires.Add(-p.lifetime/10)) {
		return p.cached, nil
	}

	exp := now.Add(p.lifetime)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   p.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Roles: []string{"service"},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	p.cached = signed
	p.expires = exp
	return signed, nil
}

// ChainTokenProvider tries each provider in order and returns the first
// token obtained. Errors other than ErrNoToken stop the chain.
type ChainTokenProvider []TokenProvider

func (c ChainTokenProvider) Token(ctx context.Context) (string, error) {
	for _, p := range c {
		tok, err := p.Token(ctx)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrNoToken) {
			return "", err
		}
	}
	return "", ErrNoToken
}
