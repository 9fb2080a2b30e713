// Package tokens exchanges the stored secret key for short-lived relay
// bearer tokens and tracks their expiry so the session can rotate before
// the relay starts rejecting calls.
package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Project-GagSpeak/gagspeak-client/internal/util"
)

// ErrNoCredential is returned when no secret key is stored for this
// character. The session surfaces it as a distinct terminal state rather
// than retrying.
var ErrNoCredential = errors.New("no secret key configured")

// refreshMargin is how long before expiry a token is considered due for
// rotation.
const refreshMargin = 5 * time.Minute

// Provider exchanges a secret key for bearer tokens at the auth endpoint
// and caches the result until it nears expiry.
type Provider struct {
	authURL string
	keyPath string
	http    *http.Client
	log     *zap.SugaredLogger

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewProvider(authURL, keyPath string, log *zap.SugaredLogger) *Provider {
	return &Provider{
		authURL: util.NormalizeURL(authURL),
		keyPath: keyPath,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// HasCredential reports whether a secret key is stored, without touching
// the network.
func (p *Provider) HasCredential() bool {
	key, err := p.readKey()
	return err == nil && key != ""
}

// Token returns a valid bearer token, exchanging the secret key when the
// cache is empty or stale.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Until(p.expires) > refreshMargin {
		return p.token, nil
	}
	return p.exchangeLocked(ctx)
}

// RefreshIfDue rotates the token when it is inside the refresh margin.
// Returns true when a new token was issued, which forces the session to
// rebuild its stream on the fresh credential.
func (p *Provider) RefreshIfDue(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Until(p.expires) > refreshMargin {
		return false, nil
	}
	if _, err := p.exchangeLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate drops the cached token. Called when the relay answers 401 so
// the next call performs a fresh exchange.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.expires = time.Time{}
}

func (p *Provider) readKey() (string, error) {
	b, err := os.ReadFile(p.keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoCredential
		}
		return "", err
	}
	return strings.TrimSpace(string(util.StripBOM(b))), nil
}

func (p *Provider) exchangeLocked(ctx context.Context) (string, error) {
	key, err := p.readKey()
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrNoCredential
	}

	body, _ := json.Marshal(map[string]string{"secretKey": key})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authURL+"/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("token exchange: status %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("token exchange: empty token")
	}

	p.token = out.Token
	p.expires = tokenExpiry(out.Token)
	p.log.Debugw("token rotated", "expires", p.expires)
	return p.token, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// relay verifies, the client only schedules rotation. An unreadable claim
// yields a short synthetic lifetime so rotation still happens.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Now().Add(10 * time.Minute)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(10 * time.Minute)
	}
	return exp.Time
}
