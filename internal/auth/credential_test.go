package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubRefresher struct {
	calls int
	token string
	err   error
}

func (s *stubRefresher) RefreshAccessToken(_ context.Context, refresh string) (string, error) {
	s.calls++
	if refresh == "" {
		return "", errors.New("refresh token missing")
	}
	return s.token, s.err
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 7,
		"exp":     exp.Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

func TestStaticCredential(t *testing.T) {
	token, err := StaticCredential(" abc ").Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	_, err = StaticCredential("").Token(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestRefreshingCredentialKeepsValidToken(t *testing.T) {
	access := signedToken(t, time.Now().Add(time.Hour))
	refresher := &stubRefresher{token: "renewed"}
	cred := NewRefreshingCredential(access, "refresh", refresher, time.Minute, zerolog.Nop())

	token, err := cred.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, access, token)
	require.Zero(t, refresher.calls)
}

func TestRefreshingCredentialRefreshesExpiredToken(t *testing.T) {
	access := signedToken(t, time.Now().Add(-time.Minute))
	renewed := signedToken(t, time.Now().Add(time.Hour))
	refresher := &stubRefresher{token: renewed}
	cred := NewRefreshingCredential(access, "refresh", refresher, 30*time.Second, zerolog.Nop())

	token, err := cred.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, renewed, token)
	require.Equal(t, 1, refresher.calls)

	token, err = cred.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, renewed, token)
	require.Equal(t, 1, refresher.calls)
}

func TestRefreshingCredentialInvalidate(t *testing.T) {
	refresher := &stubRefresher{token: "second"}
	cred := NewRefreshingCredential("opaque-token", "refresh", refresher, 0, zerolog.Nop())

	token, err := cred.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "opaque-token", token)

	cred.Invalidate()
	token, err = cred.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "second", token)
	require.Equal(t, 1, refresher.calls)
}

func TestRefreshingCredentialSurfacesRefreshFailure(t *testing.T) {
	access := signedToken(t, time.Now().Add(-time.Minute))
	refresher := &stubRefresher{err: errors.New("401")}
	cred := NewRefreshingCredential(access, "refresh", refresher, 0, zerolog.Nop())

	_, err := cred.Token(context.Background())
	require.Error(t, err)
}
