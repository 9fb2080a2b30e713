package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
)

// Envelope is one event off the relay stream: a type tag plus the
// type-specific payload, decoded by the consumer.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	TS   int64           `json:"ts"`
}

// Stream is one live websocket subscription to the relay's event feed. A
// stream is single-use: once Closed fires, the session opens a new one.
type Stream struct {
	conn   *websocket.Conn
	events chan Envelope
	closed chan struct{}
}

// OpenStream dials the relay's websocket endpoint with the same auth and
// version headers as the HTTP calls, then starts the read pump.
func (c *Client) OpenStream(ctx context.Context) (*Stream, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/events"
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+tok)
	hdr.Set("X-GagSpeak-Version", strconv.Itoa(ExpectedVersion))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, hdr)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, ErrUnauthorized
			case http.StatusUpgradeRequired:
				return nil, ErrVersionMismatch
			}
		}
		return nil, err
	}

	s := &Stream{
		conn:   conn,
		events: make(chan Envelope, 64),
		closed: make(chan struct{}),
	}
	go s.readPump()
	return s, nil
}

// Events delivers decoded envelopes. The channel closes when the stream
// dies.
func (s *Stream) Events() <-chan Envelope { return s.events }

// Closed fires when the underlying connection is gone, for any reason.
func (s *Stream) Closed() <-chan struct{} { return s.closed }

// Close tears the stream down. Safe to call after the stream already died.
func (s *Stream) Close() error {
	err := s.conn.Close()
	<-s.closed
	return err
}

func (s *Stream) readPump() {
	defer func() {
		s.conn.Close()
		close(s.events)
		close(s.closed)
	}()
	for {
		var env Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Type == "" {
			continue
		}
		if env.TS == 0 {
			env.TS = proto.NowMillis()
		}
		// Drop on a full buffer rather than stall the pump; the session
		// resyncs composite state after reconnects anyway.
		select {
		case s.events <- env:
		default:
		}
	}
}
