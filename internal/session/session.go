// Package session owns the relay connection lifecycle: presence gating,
// token acquisition, handshake, bulk load, health probing, and the
// reconnect policy.
package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Project-GagSpeak/gagspeak-client/internal/events"
	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
	"github.com/Project-GagSpeak/gagspeak-client/internal/relay"
	"github.com/Project-GagSpeak/gagspeak-client/internal/tokens"
)

// State is the session's connection state.
type State string

const (
	StateOffline             State = "offline"
	StateDisconnected        State = "disconnected"
	StateConnecting          State = "connecting"
	StateConnected           State = "connected"
	StateConnectedDataSynced State = "connected-data-synced"
	StateReconnecting        State = "reconnecting"
	StateDisconnecting       State = "disconnecting"
	StateUnauthorized        State = "unauthorized"
	StateVersionMismatch     State = "version-mismatch"
	StateNoCredential        State = "no-credential"
)

// Terminal reports whether the state ends the attempt without auto-retry.
func (s State) Terminal() bool {
	return s == StateUnauthorized || s == StateVersionMismatch || s == StateNoCredential
}

const (
	presencePoll   = time.Second
	healthInterval = 30 * time.Second
	healthStrikes  = 3
	backoffMin     = 5 * time.Second
	backoffSpread  = 15 * time.Second
	flushTimeout   = 3 * time.Second
)

// errReconnect signals the supervisor to tear down and re-enter the
// connect loop.
var errReconnect = errors.New("reconnect requested")

// Relay is the slice of the relay client the session drives.
type Relay interface {
	Connect(ctx context.Context) (proto.ConnectionDescriptor, error)
	Disconnect(ctx context.Context) error
	Health(ctx context.Context) error
	GetPairedKinksters(ctx context.Context) ([]proto.KinksterDescriptor, error)
	GetOnlineKinksters(ctx context.Context) ([]proto.OnlineKinkster, error)
	GetPairRequests(ctx context.Context) ([]proto.PairRequest, error)
	PushCompositeState(ctx context.Context, state proto.CompositeState, recipients []string) error
	OpenStream(ctx context.Context) (EventStream, error)
}

// EventStream is the live relay subscription the session supervises.
type EventStream interface {
	Events() <-chan relay.Envelope
	Closed() <-chan struct{}
	Close() error
}

// Tokens is the credential surface the session needs.
type Tokens interface {
	HasCredential() bool
	Token(ctx context.Context) (string, error)
	RefreshIfDue(ctx context.Context) (bool, error)
	Invalidate()
}

// Presence reports whether the local user is loaded in the host. The
// session polls it before connecting rather than assuming it.
type Presence interface {
	Present() bool
}

// BulkSink receives the initial peer load.
type BulkSink interface {
	AddPeer(desc proto.KinksterDescriptor)
	MarkOnline(uid string) error
}

// Session is the connection state machine. One Connect attempt runs at a
// time; starting a new one cancels the previous run.
type Session struct {
	log      *zap.SugaredLogger
	relay    Relay
	tokens   Tokens
	presence Presence
	sink     BulkSink

	// finalState, when set, supplies the snapshot flushed best-effort on
	// disconnect.
	finalState func() (proto.CompositeState, []string)

	mu       sync.Mutex
	state    State
	paused   bool
	cancel   context.CancelFunc
	requests []proto.PairRequest

	wg     sync.WaitGroup
	rng    *rand.Rand
	states *events.Feed[State]
	stream *events.Feed[relay.Envelope]
}

func New(r Relay, t Tokens, p Presence, sink BulkSink, log *zap.SugaredLogger) *Session {
	return &Session{
		log:      log,
		relay:    r,
		tokens:   t,
		presence: p,
		sink:     sink,
		state:    StateOffline,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		states:   events.NewFeed[State](),
		stream:   events.NewFeed[relay.Envelope](),
	}
}

// SetFinalStateSource registers the snapshot provider for the disconnect
// flush.
func (s *Session) SetFinalStateSource(fn func() (proto.CompositeState, []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalState = fn
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// States is the state-change feed.
func (s *Session) States() *events.Feed[State] { return s.states }

// Events republishes relay stream envelopes for the composition root to
// route. The feed survives reconnects; individual streams do not.
func (s *Session) Events() *events.Feed[relay.Envelope] { return s.stream }

// PairRequests returns the pending requests captured in the last bulk load.
func (s *Session) PairRequests() []proto.PairRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]proto.PairRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// SetPaused administratively blocks connecting. Pausing while a run is
// active disconnects it.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	active := s.cancel != nil
	s.mu.Unlock()
	if paused && active {
		s.Disconnect(StateDisconnected)
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.log.Infow("session state", "state", st)
	s.states.Publish(st)
}

// Connect starts a connection run. Preconditions are checked inside the
// run so the host thread never blocks: the run waits for presence, then
// verifies a credential exists. A run already in flight is cancelled first.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		s.log.Infow("connect skipped, session paused")
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Disconnect flushes final state best-effort, tears the run down, and
// lands on the given reason state. Idempotent.
func (s *Session) Disconnect(reason State) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	already := s.state == reason && cancel == nil
	fn := s.finalState
	s.mu.Unlock()
	if already {
		return
	}

	s.setState(StateDisconnecting)
	if fn != nil {
		ctx, done := context.WithTimeout(context.Background(), flushTimeout)
		state, recipients := fn()
		if err := s.relay.PushCompositeState(ctx, state, recipients); err != nil {
			s.log.Debugw("final state flush failed", "error", err)
		}
		done()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), flushTimeout)
	if err := s.relay.Disconnect(ctx); err != nil {
		s.log.Debugw("relay disconnect failed", "error", err)
	}
	done()
	s.setState(reason)
}

// Reconnect is disconnect, delay, connect.
func (s *Session) Reconnect() {
	s.Disconnect(StateDisconnected)
	time.Sleep(s.backoff())
	s.Connect()
}

// Close tears everything down for shutdown.
func (s *Session) Close() {
	s.Disconnect(StateOffline)
	s.states.Close()
	s.stream.Close()
}

// run is one connection lifetime: presence wait, then attempt loop with
// randomized backoff, then supervision until the stream dies or the run is
// cancelled.
func (s *Session) run(ctx context.Context) {
	if !s.waitPresent(ctx) {
		return
	}
	if !s.tokens.HasCredential() {
		s.setState(StateNoCredential)
		return
	}

	for {
		err := s.attempt(ctx)
		switch {
		case err == nil || errors.Is(err, context.Canceled):
			return
		case errors.Is(err, relay.ErrUnauthorized):
			s.tokens.Invalidate()
			s.setState(StateUnauthorized)
			return
		case errors.Is(err, relay.ErrVersionMismatch):
			s.setState(StateVersionMismatch)
			return
		case errors.Is(err, tokens.ErrNoCredential):
			s.setState(StateNoCredential)
			return
		}

		s.setState(StateReconnecting)
		delay := s.backoff()
		s.log.Warnw("connect attempt failed", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// waitPresent polls until the local user is loaded in the host. Unbounded;
// only cancellation ends it.
func (s *Session) waitPresent(ctx context.Context) bool {
	for !s.presence.Present() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(presencePoll):
		}
	}
	return true
}

// attempt is one handshake plus supervision. Returning errReconnect-wrapped
// transport errors re-enters the backoff loop; nil means the run was
// cancelled cleanly.
func (s *Session) attempt(ctx context.Context) error {
	s.setState(StateConnecting)

	if _, err := s.tokens.Token(ctx); err != nil {
		return err
	}
	desc, err := s.relay.Connect(ctx)
	if err != nil {
		return err
	}
	s.log.Infow("relay connected", "uid", desc.UID, "server_version", desc.ServerVersion)

	stream, err := s.relay.OpenStream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	s.setState(StateConnected)

	if err := s.bulkLoad(ctx); err != nil {
		return err
	}
	s.setState(StateConnectedDataSynced)

	err = s.supervise(ctx, stream)
	if errors.Is(err, errReconnect) {
		return err
	}
	return ctx.Err()
}

// bulkLoad pulls the pair list, the online set, and the pending requests.
func (s *Session) bulkLoad(ctx context.Context) error {
	pairs, err := s.relay.GetPairedKinksters(ctx)
	if err != nil {
		return err
	}
	for _, desc := range pairs {
		s.sink.AddPeer(desc)
	}

	online, err := s.relay.GetOnlineKinksters(ctx)
	if err != nil {
		return err
	}
	for _, o := range online {
		if err := s.sink.MarkOnline(o.UID); err != nil {
			s.log.Errorw("bulk online mark failed", "uid", o.UID, "error", err)
		}
	}

	requests, err := s.relay.GetPairRequests(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.requests = requests
	s.mu.Unlock()
	return nil
}

// supervise republishes stream events and runs the health probe. Three
// consecutive probe failures, a token rotation, or a stream close all
// demand a reconnect.
func (s *Session) supervise(ctx context.Context, stream EventStream) error {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	strikes := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-stream.Closed():
			s.log.Warnw("relay stream closed")
			return errReconnect

		case env, ok := <-stream.Events():
			if !ok {
				return errReconnect
			}
			s.stream.Publish(env)

		case <-ticker.C:
			rotated, err := s.tokens.RefreshIfDue(ctx)
			if err != nil {
				if errors.Is(err, relay.ErrUnauthorized) {
					return err
				}
				s.log.Warnw("token refresh failed", "error", err)
			}
			if rotated {
				s.log.Infow("token rotated, forcing reconnect")
				return errReconnect
			}
			if err := s.relay.Health(ctx); err != nil {
				if errors.Is(err, relay.ErrUnauthorized) || errors.Is(err, relay.ErrVersionMismatch) {
					return err
				}
				strikes++
				s.log.Warnw("health probe failed", "strikes", strikes, "error", err)
				if strikes >= healthStrikes {
					return errReconnect
				}
			} else {
				strikes = 0
			}
		}
	}
}

// backoff picks a random delay in the 5 to 20 second window.
func (s *Session) backoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return backoffMin + time.Duration(s.rng.Int63n(int64(backoffSpread)))
}
