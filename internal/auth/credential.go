// Package auth provides the bearer credentials the chat engine injects into the channel URI
// and the REST collaborator.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ErrNoCredential is returned when no access token is available.
var ErrNoCredential = errors.New("no credential available")

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}

// StaticCredential always returns the same token.
type StaticCredential string

// Token returns the wrapped token.
func (c StaticCredential) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(c))
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// RefreshingCredential hands out an access token and renews it through the backend when it
// is expired, close to expiry, or explicitly invalidated.
type RefreshingCredential struct {
	mu          sync.Mutex
	access      string
	refresh     string
	invalidated bool
	refresher   Refresher
	skew        time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// NewRefreshingCredential creates a credential seeded with the given token pair.
func NewRefreshingCredential(access, refresh string, refresher Refresher, skew time.Duration, logger zerolog.Logger) *RefreshingCredential {
	if skew < 0 {
		skew = 0
	}
	return &RefreshingCredential{
		access:    strings.TrimSpace(access),
		refresh:   strings.TrimSpace(refresh),
		refresher: refresher,
		skew:      skew,
		now:       time.Now,
		logger:    logger.With().Str("component", "credential").Logger(),
	}
}

// Token returns a usable access token, refreshing it first when required.
func (c *RefreshingCredential) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.access != "" && !c.invalidated && !c.expiring(c.access) {
		return c.access, nil
	}

	if c.refresh == "" || c.refresher == nil {
		if c.access == "" {
			return "", ErrNoCredential
		}
		// Nothing to refresh with; let the backend decide.
		return c.access, nil
	}

	access, err := c.refresher.RefreshAccessToken(ctx, c.refresh)
	if err != nil {
		c.logger.Warn().Err(err).Msg("access token refresh failed")
		return "", fmt.Errorf("refresh access token: %w", err)
	}

	c.access = strings.TrimSpace(access)
	c.invalidated = false
	c.logger.Debug().Msg("access token refreshed")
	return c.access, nil
}

// Invalidate forces the next Token call to refresh, used after a 401 from the backend.
func (c *RefreshingCredential) Invalidate() {
	c.mu.Lock()
	c.invalidated = true
	c.mu.Unlock()
}

func (c *RefreshingCredential) expiring(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque tokens carry no expiry we can inspect.
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return !c.now().Add(c.skew).Before(exp.Time)
}
