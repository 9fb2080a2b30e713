// Package relay is the HTTP and websocket client for the GagSpeak relay
// server: connect/disconnect, pair and state queries, state pushes, and the
// live event stream.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Project-GagSpeak/gagspeak-client/internal/perms"
	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
	"github.com/Project-GagSpeak/gagspeak-client/internal/util"
)

// ExpectedVersion is sent on every request so the relay can refuse clients
// it no longer speaks to.
const ExpectedVersion = 1

var (
	// ErrUnauthorized maps a 401: the token was rejected.
	ErrUnauthorized = errors.New("relay rejected token")
	// ErrVersionMismatch maps a 426: the relay no longer accepts this
	// client version.
	ErrVersionMismatch = errors.New("relay requires a newer client")
)

// TokenSource supplies the bearer token for a request. It may block on a
// token exchange, hence the context.
type TokenSource func(ctx context.Context) (string, error)

// Client talks to the relay over HTTP. All calls take a context; the
// session owns cancellation.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	token TokenSource
}

func NewClient(baseURL string, token TokenSource) *Client {
	baseURL = strings.TrimSpace(baseURL)
	baseURL = util.NormalizeURL(baseURL)
	return &Client{
		BaseURL: baseURL,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
		token: token,
	}
}

// newRequest builds an authenticated request with the version header set.
func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	tok, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("X-GagSpeak-Version", strconv.Itoa(ExpectedVersion))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do runs the request, drains the body, and maps the auth and version
// statuses to their sentinel errors. On 2xx it decodes JSON into v when v
// is non-nil.
func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusUpgradeRequired:
		return ErrVersionMismatch
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("%s %s: status %s", req.Method, req.URL.Path, resp.Status)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, v)
}

func (c *Client) postJSON(ctx context.Context, path string, body, v any) error {
	var b []byte
	if body != nil {
		var err error
		if b, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, b)
	if err != nil {
		return err
	}
	return c.do(req, v)
}

// Connect registers this client with the relay and returns its identity
// descriptor.
func (c *Client) Connect(ctx context.Context) (proto.ConnectionDescriptor, error) {
	var desc proto.ConnectionDescriptor
	if err := c.postJSON(ctx, "/connect", nil, &desc); err != nil {
		return proto.ConnectionDescriptor{}, err
	}
	return desc, nil
}

// Disconnect tells the relay this client is leaving. Best effort; the
// caller proceeds to teardown regardless.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.postJSON(ctx, "/disconnect", nil, nil)
}

// Health probes the relay. Used by the session's liveness ticker.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/health", nil)
}

// GetPairedKinksters returns the full pair list for the bulk load.
func (c *Client) GetPairedKinksters(ctx context.Context) ([]proto.KinksterDescriptor, error) {
	var out []proto.KinksterDescriptor
	if err := c.getJSON(ctx, "/pairs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOnlineKinksters returns which of the paired kinksters are connected
// right now.
func (c *Client) GetOnlineKinksters(ctx context.Context) ([]proto.OnlineKinkster, error) {
	var out []proto.OnlineKinkster
	if err := c.getJSON(ctx, "/pairs/online", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPairRequests returns the pending incoming and outgoing pair requests.
func (c *Client) GetPairRequests(ctx context.Context) ([]proto.PairRequest, error) {
	var out []proto.PairRequest
	if err := c.getJSON(ctx, "/pairs/requests", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendPairRequest asks the relay to pair with another kinkster by UID.
func (c *Client) SendPairRequest(ctx context.Context, uid string) error {
	return c.postJSON(ctx, "/pairs/requests", map[string]string{"to": uid}, nil)
}

// AcceptPairRequest accepts a pending incoming request.
func (c *Client) AcceptPairRequest(ctx context.Context, uid string) error {
	return c.postJSON(ctx, "/pairs/requests/accept", map[string]string{"from": uid}, nil)
}

// CancelPairRequest withdraws a pending outgoing request or rejects an
// incoming one.
func (c *Client) CancelPairRequest(ctx context.Context, uid string) error {
	return c.postJSON(ctx, "/pairs/requests/cancel", map[string]string{"uid": uid}, nil)
}

// RemovePair dissolves an established pair.
func (c *Client) RemovePair(ctx context.Context, uid string) error {
	return c.postJSON(ctx, "/pairs/remove", map[string]string{"uid": uid}, nil)
}

// PushCategoryUpdate broadcasts one slot change to every online pair.
func (c *Client) PushCategoryUpdate(ctx context.Context, upd proto.CategoryUpdate) error {
	if upd.TS == 0 {
		upd.TS = proto.NowMillis()
	}
	return c.postJSON(ctx, "/push/update", upd, nil)
}

// PushCompositeState sends the full local snapshot to the named recipients,
// or to all online pairs when recipients is empty.
func (c *Client) PushCompositeState(ctx context.Context, state proto.CompositeState, recipients []string) error {
	if state.TS == 0 {
		state.TS = proto.NowMillis()
	}
	payload := struct {
		State      proto.CompositeState `json:"state"`
		Recipients []string             `json:"recipients,omitempty"`
	}{state, recipients}
	return c.postJSON(ctx, "/push/composite", payload, nil)
}

// PushEphemeral sends transient host data to the named recipients only.
// The relay never fans this out beyond the list.
func (c *Client) PushEphemeral(ctx context.Context, upd proto.EphemeralUpdate, recipients []string) error {
	if upd.TS == 0 {
		upd.TS = proto.NowMillis()
	}
	payload := struct {
		Update     proto.EphemeralUpdate `json:"update"`
		Recipients []string              `json:"recipients"`
	}{upd, recipients}
	return c.postJSON(ctx, "/push/ephemeral", payload, nil)
}

// PushPermissionChange sends a single permission edit to the relay, which
// validates it against edit access and broadcasts it on acceptance.
func (c *Client) PushPermissionChange(ctx context.Context, ch perms.Change) error {
	if ch.TS == 0 {
		ch.TS = proto.NowMillis()
	}
	return c.postJSON(ctx, "/push/permission", ch, nil)
}

// PushLightStorage publishes the local definitions in light form so pairs
// can resolve snapshots to visuals.
func (c *Client) PushLightStorage(ctx context.Context, ls proto.LightStorage) error {
	return c.postJSON(ctx, "/push/light-storage", ls, nil)
}
