package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "uid-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func writeKey(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "identity.key")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

// authServer answers /token with the given token and counts exchanges.
func authServer(t *testing.T, token string, exchanges *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotEmpty(t, body["secretKey"])
		*exchanges++
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHasCredential(t *testing.T) {
	p := NewProvider("https://auth.example.com", filepath.Join(t.TempDir(), "missing.key"), zap.NewNop().Sugar())
	assert.False(t, p.HasCredential())

	p = NewProvider("https://auth.example.com", writeKey(t, "  secret-key \n"), zap.NewNop().Sugar())
	assert.True(t, p.HasCredential())

	p = NewProvider("https://auth.example.com", writeKey(t, "   "), zap.NewNop().Sugar())
	assert.False(t, p.HasCredential(), "whitespace-only key file is no credential")
}

func TestTokenExchangeAndCache(t *testing.T) {
	exchanges := 0
	srv := authServer(t, signedToken(t, time.Now().Add(time.Hour)), &exchanges)

	p := NewProvider(srv.URL, writeKey(t, "secret-key"), zap.NewNop().Sugar())

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, 1, exchanges)

	again, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, again)
	assert.Equal(t, 1, exchanges, "a fresh token is served from cache")
}

func TestTokenMissingKeyFile(t *testing.T) {
	p := NewProvider("https://auth.example.com", filepath.Join(t.TempDir(), "missing.key"), zap.NewNop().Sugar())
	_, err := p.Token(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestRefreshIfDue(t *testing.T) {
	exchanges := 0
	// Expiry inside the refresh margin, so every check rotates.
	srv := authServer(t, signedToken(t, time.Now().Add(time.Minute)), &exchanges)

	p := NewProvider(srv.URL, writeKey(t, "secret-key"), zap.NewNop().Sugar())

	rotated, err := p.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, rotated)

	rotated, err = p.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, rotated, "a token already inside the margin rotates again")
}

func TestRefreshNotDue(t *testing.T) {
	exchanges := 0
	srv := authServer(t, signedToken(t, time.Now().Add(time.Hour)), &exchanges)

	p := NewProvider(srv.URL, writeKey(t, "secret-key"), zap.NewNop().Sugar())
	_, err := p.Token(context.Background())
	require.NoError(t, err)

	rotated, err := p.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.Equal(t, 1, exchanges)
}

func TestInvalidateForcesExchange(t *testing.T) {
	exchanges := 0
	srv := authServer(t, signedToken(t, time.Now().Add(time.Hour)), &exchanges)

	p := NewProvider(srv.URL, writeKey(t, "secret-key"), zap.NewNop().Sugar())
	_, err := p.Token(context.Background())
	require.NoError(t, err)

	p.Invalidate()
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, exchanges)
}

func TestExchangeRejectsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	p := NewProvider(srv.URL, writeKey(t, "secret-key"), zap.NewNop().Sugar())
	_, err := p.Token(context.Background())
	require.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	got := tokenExpiry(signedToken(t, exp))
	assert.True(t, got.Equal(exp), "exp claim read without verification")

	// Garbage tokens still get a short synthetic lifetime.
	synthetic := tokenExpiry("not-a-jwt")
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), synthetic, time.Minute)
}
