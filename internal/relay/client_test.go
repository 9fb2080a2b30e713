package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-GagSpeak/gagspeak-client/internal/perms"
	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
)

func staticToken(tok string) TokenSource {
	return func(context.Context) (string, error) { return tok, nil }
}

func TestRequestCarriesAuthAndVersionHeaders(t *testing.T) {
	var gotAuth, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("X-GagSpeak-Version")
		json.NewEncoder(w).Encode(proto.ConnectionDescriptor{UID: "self", ServerVersion: 1})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("jwt-token"))
	desc, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "self", desc.UID)
	assert.Equal(t, "Bearer jwt-token", gotAuth)
	assert.Equal(t, "1", gotVersion)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusUpgradeRequired, ErrVersionMismatch},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewClient(srv.URL, staticToken("t"))
		err := c.Health(context.Background())
		assert.ErrorIs(t, err, tc.want)
		srv.Close()
	}
}

func TestUnexpectedStatusIsPlainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("t"))
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrVersionMismatch)
}

func TestGetPairedKinksters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pairs", r.URL.Path)
		json.NewEncoder(w).Encode([]proto.KinksterDescriptor{{UID: "uid-1", Alias: "Sera"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("t"))
	pairs, err := c.GetPairedKinksters(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "uid-1", pairs[0].UID)
}

func TestPairManagementEndpoints(t *testing.T) {
	type call struct {
		path string
		body map[string]string
	}
	var got call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = call{path: r.URL.Path}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("t"))
	ctx := context.Background()

	require.NoError(t, c.SendPairRequest(ctx, "uid-1"))
	assert.Equal(t, call{"/pairs/requests", map[string]string{"to": "uid-1"}}, got)

	require.NoError(t, c.AcceptPairRequest(ctx, "uid-2"))
	assert.Equal(t, call{"/pairs/requests/accept", map[string]string{"from": "uid-2"}}, got)

	require.NoError(t, c.CancelPairRequest(ctx, "uid-3"))
	assert.Equal(t, call{"/pairs/requests/cancel", map[string]string{"uid": "uid-3"}}, got)

	require.NoError(t, c.RemovePair(ctx, "uid-4"))
	assert.Equal(t, call{"/pairs/remove", map[string]string{"uid": "uid-4"}}, got)
}

func TestPushEphemeralAddressesRecipients(t *testing.T) {
	var got struct {
		Update     proto.EphemeralUpdate `json:"update"`
		Recipients []string              `json:"recipients"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/push/ephemeral", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("t"))
	err := c.PushEphemeral(context.Background(), proto.EphemeralUpdate{Kind: "garbled-chat"}, []string{"uid-a"})
	require.NoError(t, err)
	assert.Equal(t, "garbled-chat", got.Update.Kind)
	assert.Equal(t, []string{"uid-a"}, got.Recipients)
	assert.NotZero(t, got.Update.TS)
}

func TestPushCategoryUpdateDefaultsTimestamp(t *testing.T) {
	var got proto.CategoryUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/push/update", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("t"))
	err := c.PushCategoryUpdate(context.Background(), proto.CategoryUpdate{
		Category: proto.CategoryGag, Kind: proto.KindApplied,
	})
	require.NoError(t, err)
	assert.NotZero(t, got.TS)
}

func TestPushCompositeStateAddressesRecipients(t *testing.T) {
	var got struct {
		State      proto.CompositeState `json:"state"`
		Recipients []string             `json:"recipients"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/push/composite", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("t"))
	err := c.PushCompositeState(context.Background(), proto.CompositeState{}, []string{"uid-a", "uid-b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"uid-a", "uid-b"}, got.Recipients)
	assert.NotZero(t, got.State.TS)
}

func TestPushPermissionChange(t *testing.T) {
	var got perms.Change
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/push/permission", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("t"))
	err := c.PushPermissionChange(context.Background(), perms.Change{
		Target: "uid-1", Direction: perms.DirectionOwn, Scope: perms.ScopePair,
		Field: perms.KeyApplyGags, Value: json.RawMessage(`true`),
	})
	require.NoError(t, err)
	assert.Equal(t, "uid-1", got.Target)
	assert.Equal(t, perms.KeyApplyGags, got.Field)
}

func TestTokenFailureShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	c := NewClient(srv.URL, func(context.Context) (string, error) {
		return "", ErrUnauthorized
	})
	err := c.Health(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, called, "no request goes out without a token")
}

func TestNormalizesBaseURL(t *testing.T) {
	c := NewClient(" relay.example.com/ ", staticToken("t"))
	assert.Equal(t, "https://relay.example.com", c.BaseURL)
}
