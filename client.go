// Package gagspeak is the composition root of the GagSpeak client: it wires
// the category stores, the peer registry, the relay session, and the
// outbound distributor, and exposes the host lifecycle hooks.
package gagspeak

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Project-GagSpeak/gagspeak-client/internal/bridge"
	"github.com/Project-GagSpeak/gagspeak-client/internal/config"
	"github.com/Project-GagSpeak/gagspeak-client/internal/distrib"
	"github.com/Project-GagSpeak/gagspeak-client/internal/peers"
	"github.com/Project-GagSpeak/gagspeak-client/internal/perms"
	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
	"github.com/Project-GagSpeak/gagspeak-client/internal/relay"
	"github.com/Project-GagSpeak/gagspeak-client/internal/session"
	"github.com/Project-GagSpeak/gagspeak-client/internal/storage"
	"github.com/Project-GagSpeak/gagspeak-client/internal/tokens"
	"github.com/Project-GagSpeak/gagspeak-client/internal/util"
	"github.com/Project-GagSpeak/gagspeak-client/internal/wardrobe"
)

// Bridges are the host-side collaborators. Zero-value fields fall back to
// the no-op implementations.
type Bridges struct {
	Equipment    bridge.EquipmentBridge
	Status       bridge.StatusBridge
	Look         bridge.LookBridge
	Achievements bridge.AchievementSink
}

func (b *Bridges) fillDefaults() {
	if b.Equipment == nil {
		b.Equipment = bridge.NoopEquipment{}
	}
	if b.Status == nil {
		b.Status = bridge.NoopStatus{}
	}
	if b.Look == nil {
		b.Look = bridge.NoopLook{}
	}
	if b.Achievements == nil {
		b.Achievements = bridge.NoopAchievements{}
	}
}

// Client owns every subsystem. One Client per host process.
type Client struct {
	log *zap.SugaredLogger
	cfg config.Config

	db           *storage.DB
	gags         *wardrobe.GagStore
	restrictions *wardrobe.RestrictionStore
	restraints   *wardrobe.RestraintStore

	registry   *peers.Registry
	relay      *relay.Client
	tokens     *tokens.Provider
	session    *session.Session
	distrib    *distrib.Distributor
	propagator *perms.Propagator
	bridges    Bridges

	present atomic.Bool

	globalMu  sync.Mutex
	ownGlobal perms.GlobalPerms

	stop    chan struct{}
	cancels []func()
	wg      sync.WaitGroup
}

// New builds and wires a client from a validated config.
func New(cfg config.Config, bridges Bridges, log *zap.SugaredLogger) (*Client, error) {
	bridges.fillDefaults()

	db, err := storage.Open(cfg.Paths.DataDir)
	if err != nil {
		return nil, err
	}

	c := &Client{
		log:     log,
		cfg:     cfg,
		db:      db,
		bridges: bridges,
		stop:    make(chan struct{}),
	}

	c.gags = wardrobe.NewGagStore(cfg.GagFile(), log)
	c.restrictions = wardrobe.NewRestrictionStore(cfg.RestrictionFile(), log)
	c.restraints = wardrobe.NewRestraintStore(cfg.RestraintFile(), log)
	c.gags.SetSiblings(c.restrictions, c.restraints)
	c.restrictions.SetSiblings(c.gags, c.restraints)
	c.restraints.SetSiblings(c.gags, c.restrictions)
	c.loadDefinitions()

	c.registry = peers.NewRegistry(db, bridges.Achievements, log)
	c.tokens = tokens.NewProvider(cfg.Server.AuthURL, cfg.Identity.KeyFile, log)
	c.relay = relay.NewClient(cfg.Server.RelayURL, c.tokens.Token)
	c.session = session.New(relayAdapter{c.relay}, c.tokens, presenceFlag{&c.present}, c.registry, log)
	c.session.SetPaused(cfg.Session.Paused)
	c.session.SetFinalStateSource(func() (proto.CompositeState, []string) {
		return c.Composite(), nil
	})
	c.distrib = distrib.New(c.relay, snapshotSource{c}, log)
	c.propagator = perms.NewPropagator(c.relay, c.registry, log)

	c.subscribeStores()
	c.routeSessionStates()
	c.routeRelayEvents()
	c.watchDefinitions()
	return c, nil
}

// loadDefinitions reads the three definition files. A failed load leaves
// that store empty rather than half-filled.
func (c *Client) loadDefinitions() {
	if err := c.gags.Load(); err != nil {
		c.log.Errorw("gag definitions load failed", "error", err)
	}
	if err := c.restrictions.Load(); err != nil {
		c.log.Errorw("restriction definitions load failed", "error", err)
	}
	if err := c.restraints.Load(); err != nil {
		c.log.Errorw("restraint definitions load failed", "error", err)
	}
}

// Composite renders the full local snapshot in wire form.
func (c *Client) Composite() proto.CompositeState {
	return proto.CompositeState{
		Gags:         c.gags.Snapshot(),
		Restrictions: c.restrictions.Snapshot(),
		Restraint:    c.restraints.Snapshot(),
		TS:           proto.NowMillis(),
	}
}

// Gags exposes the gag store to the UI surface.
func (c *Client) Gags() *wardrobe.GagStore { return c.gags }

// Restrictions exposes the restriction store.
func (c *Client) Restrictions() *wardrobe.RestrictionStore { return c.restrictions }

// Restraints exposes the restraint store.
func (c *Client) Restraints() *wardrobe.RestraintStore { return c.restraints }

// Registry exposes the peer registry.
func (c *Client) Registry() *peers.Registry { return c.registry }

// Session exposes the connection session.
func (c *Client) Session() *session.Session { return c.session }

// Permissions exposes the permission propagator for own-change edits.
func (c *Client) Permissions() *perms.Propagator { return c.propagator }

// GlobalPerms returns the local user's account-wide toggles.
func (c *Client) GlobalPerms() perms.GlobalPerms {
	c.globalMu.Lock()
	defer c.globalMu.Unlock()
	return c.ownGlobal
}

// SetGlobalPerm optimistically applies one of the local user's global
// toggles, confirms it with the relay, and reverts on rejection.
func (c *Client) SetGlobalPerm(ctx context.Context, key perms.Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.globalMu.Lock()
	before := c.ownGlobal
	if err := perms.ApplyToGlobal(&c.ownGlobal, key, raw); err != nil {
		c.globalMu.Unlock()
		return err
	}
	c.globalMu.Unlock()

	chg := perms.Change{
		Direction: perms.DirectionOwn,
		Scope:     perms.ScopeGlobal,
		Field:     key,
		Value:     raw,
		TS:        proto.NowMillis(),
	}
	if err := c.relay.PushPermissionChange(ctx, chg); err != nil {
		c.globalMu.Lock()
		c.ownGlobal = before
		c.globalMu.Unlock()
		c.log.Warnw("global permission change rejected, reverted", "field", key, "error", err)
		return err
	}
	return nil
}

// SendPairRequest asks the relay to pair with another kinkster. The pair
// materializes through the pair-added stream event, not here.
func (c *Client) SendPairRequest(ctx context.Context, uid string) error {
	return c.relay.SendPairRequest(ctx, uid)
}

// AcceptPairRequest accepts a pending incoming request.
func (c *Client) AcceptPairRequest(ctx context.Context, uid string) error {
	return c.relay.AcceptPairRequest(ctx, uid)
}

// CancelPairRequest withdraws an outgoing request or rejects an incoming
// one.
func (c *Client) CancelPairRequest(ctx context.Context, uid string) error {
	return c.relay.CancelPairRequest(ctx, uid)
}

// RemovePair dissolves an established pair. Local cleanup happens when the
// relay echoes the pair-removed event.
func (c *Client) RemovePair(ctx context.Context, uid string) error {
	return c.relay.RemovePair(ctx, uid)
}

// PushEphemeral sends transient host data (appearance blobs, garbled chat)
// to the pairs whose characters are currently rendered.
func (c *Client) PushEphemeral(upd proto.EphemeralUpdate) {
	c.distrib.PushEphemeral(upd)
}

// OnLogin marks the local user present and, when configured, starts a
// connection run.
func (c *Client) OnLogin() {
	c.present.Store(true)
	if c.cfg.Session.AutoConnect {
		c.session.Connect()
	}
}

// OnLogout marks the user absent and drops the connection.
func (c *Client) OnLogout() {
	c.present.Store(false)
	c.session.Disconnect(session.StateOffline)
}

// OnTick runs the per-frame work: the lock expiry sweep and the composite
// drain. Hosts call it at their update cadence.
func (c *Client) OnTick(now time.Time) {
	for _, upd := range c.gags.CheckForExpiredLocks(now) {
		c.distrib.PushUpdate(upd)
	}
	for _, upd := range c.restrictions.CheckForExpiredLocks(now) {
		c.distrib.PushUpdate(upd)
	}
	for _, upd := range c.restraints.CheckForExpiredLocks(now) {
		c.distrib.PushUpdate(upd)
	}
	c.distrib.Drain()
}

// Close tears everything down in dependency order. The subscriber
// goroutines must drain before the distributor closes its queue, or a
// buffered change event could land on a closed channel.
func (c *Client) Close() error {
	close(c.stop)
	for _, cancel := range c.cancels {
		cancel()
	}
	c.session.Close()
	c.wg.Wait()
	c.distrib.Close()

	c.gags.Close()
	c.restrictions.Close()
	c.restraints.Close()
	c.registry.Close()
	return c.db.Close()
}

// subscribeStores routes committed store mutations to the distributor and
// the host bridges.
func (c *Client) subscribeStores() {
	for _, feed := range []interface {
		Subscribe() (<-chan wardrobe.ChangeEvent, func())
	}{c.gags.Changes(), c.restrictions.Changes(), c.restraints.Changes()} {
		ch, cancel := feed.Subscribe()
		c.cancels = append(c.cancels, cancel)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for ev := range ch {
				c.distrib.OnLocalChange(ev)
				c.enactDelta(ev)
			}
		}()
	}
}

// enactDelta forwards a change event's visual deltas to the bridges.
// Reverts run first so swaps do not leave both items' claims applied.
func (c *Client) enactDelta(ev wardrobe.ChangeEvent) {
	if !ev.Reverted.IsEmpty() {
		if err := c.bridges.Equipment.RevertClaims(ev.Reverted); err != nil {
			c.log.Errorw("equipment revert failed", "category", ev.Update.Category, "error", err)
		}
		if len(ev.Reverted.Moodles) > 0 {
			if err := c.bridges.Status.RemoveMoodles(ev.Reverted.Moodles); err != nil {
				c.log.Errorw("moodle removal failed", "error", err)
			}
		}
		if ev.Reverted.Profile != uuid.Nil {
			if err := c.bridges.Look.ClearProfile(); err != nil {
				c.log.Errorw("profile clear failed", "error", err)
			}
		}
	}
	if !ev.Applied.IsEmpty() {
		if err := c.bridges.Equipment.ApplyClaims(ev.Applied); err != nil {
			c.log.Errorw("equipment apply failed", "category", ev.Update.Category, "error", err)
		}
		if len(ev.Applied.Moodles) > 0 {
			if err := c.bridges.Status.ApplyMoodles(ev.Applied.Moodles); err != nil {
				c.log.Errorw("moodle apply failed", "error", err)
			}
		}
		if ev.Applied.Profile != uuid.Nil {
			if err := c.bridges.Look.SetProfile(ev.Applied.Profile); err != nil {
				c.log.Errorw("profile switch failed", "error", err)
			}
		}
	}
}

// distribGate maps a session state to the outbound gate. The second
// result is false for states that leave the gate untouched.
func distribGate(st session.State) (enabled, ok bool) {
	switch st {
	case session.StateConnectedDataSynced:
		return true, true
	case session.StateConnecting, session.StateReconnecting, session.StateDisconnecting,
		session.StateDisconnected, session.StateOffline,
		session.StateUnauthorized, session.StateVersionMismatch, session.StateNoCredential:
		// Terminal states disable too: a mid-session 401 must not leave
		// the distributor queueing pushes the relay will refuse.
		return false, true
	}
	return false, false
}

// routeSessionStates gates the distributor on the session state and runs
// the post-sync publication: composite resync plus light storage.
func (c *Client) routeSessionStates() {
	ch, cancel := c.session.States().Subscribe()
	c.cancels = append(c.cancels, cancel)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for st := range ch {
			if enabled, ok := distribGate(st); ok {
				c.distrib.SetEnabled(enabled)
			}
			if st == session.StateConnectedDataSynced {
				c.distrib.PushComposite(nil)
				c.publishLightStorage()
			}
		}
	}()
}

// publishLightStorage pushes the local definitions in light form so pairs
// can resolve our snapshots.
func (c *Client) publishLightStorage() {
	items := c.gags.LightItems()
	items = append(items, c.restrictions.LightItems()...)
	items = append(items, c.restraints.LightItems()...)

	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultFetchTimeout)
	defer cancel()
	if err := c.relay.PushLightStorage(ctx, proto.LightStorage{Items: items}); err != nil {
		c.log.Warnw("light storage publish failed", "error", err)
	}
}

// routeRelayEvents dispatches stream envelopes to the registry and the
// propagator.
func (c *Client) routeRelayEvents() {
	ch, cancel := c.session.Events().Subscribe()
	c.cancels = append(c.cancels, cancel)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for env := range ch {
			c.handleRelayEvent(env)
		}
	}()
}

func (c *Client) handleRelayEvent(env relay.Envelope) {
	switch env.Type {
	case proto.EventKinksterOnline:
		var o proto.OnlineKinkster
		if err := json.Unmarshal(env.Data, &o); err != nil {
			c.log.Errorw("bad online event", "error", err)
			return
		}
		if err := c.registry.MarkOnline(o.UID); err != nil {
			c.log.Errorw("online mark failed", "uid", o.UID, "error", err)
		}

	case proto.EventKinksterOffline:
		var o proto.OnlineKinkster
		if err := json.Unmarshal(env.Data, &o); err != nil {
			c.log.Errorw("bad offline event", "error", err)
			return
		}
		if err := c.registry.MarkOffline(o.UID); err != nil {
			c.log.Errorw("offline mark failed", "uid", o.UID, "error", err)
		}

	case proto.EventPairAdded:
		var desc proto.KinksterDescriptor
		if err := json.Unmarshal(env.Data, &desc); err != nil {
			c.log.Errorw("bad pair-added event", "error", err)
			return
		}
		c.registry.AddPeer(desc)

	case proto.EventPairRemoved:
		var o proto.OnlineKinkster
		if err := json.Unmarshal(env.Data, &o); err != nil {
			c.log.Errorw("bad pair-removed event", "error", err)
			return
		}
		if err := c.registry.RemovePeer(o.UID); err != nil {
			c.log.Errorw("pair removal failed", "uid", o.UID, "error", err)
		}

	case proto.EventCategoryUpdate:
		var ev struct {
			UID    string               `json:"uid"`
			Update proto.CategoryUpdate `json:"update"`
		}
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			c.log.Errorw("bad category-update event", "error", err)
			return
		}
		if err := c.registry.ReceiveCategoryUpdate(ev.UID, ev.Update); err != nil {
			c.log.Errorw("category update failed", "uid", ev.UID, "error", err)
		}

	case proto.EventCompositeState:
		var ev struct {
			UID   string               `json:"uid"`
			State proto.CompositeState `json:"state"`
		}
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			c.log.Errorw("bad composite event", "error", err)
			return
		}
		if err := c.registry.ReceiveComposite(ev.UID, ev.State); err != nil {
			c.log.Errorw("composite receive failed", "uid", ev.UID, "error", err)
		}

	case proto.EventPermissionChange:
		var chg perms.Change
		if err := json.Unmarshal(env.Data, &chg); err != nil {
			c.log.Errorw("bad permission event", "error", err)
			return
		}
		if err := c.propagator.ApplyRemote(chg); err != nil {
			c.log.Errorw("remote permission apply failed", "target", chg.Target, "error", err)
		}

	case proto.EventLightStorage:
		var ls proto.LightStorage
		if err := json.Unmarshal(env.Data, &ls); err != nil {
			c.log.Errorw("bad light-storage event", "error", err)
			return
		}
		if err := c.registry.ReceiveLightStorage(ls); err != nil {
			c.log.Errorw("light storage receive failed", "uid", ls.UID, "error", err)
		}

	default:
		c.log.Debugw("unhandled relay event", "type", env.Type)
	}
}

// watchDefinitions hot-reloads stores when their files change on disk.
func (c *Client) watchDefinitions() {
	dir := c.cfg.Paths.DefinitionsDir
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := config.WatchDefinitions(dir, func(path string) {
			switch path {
			case c.cfg.GagFile():
				if err := c.gags.Load(); err != nil {
					c.log.Errorw("gag definitions reload failed", "error", err)
				}
			case c.cfg.RestrictionFile():
				if err := c.restrictions.Load(); err != nil {
					c.log.Errorw("restriction definitions reload failed", "error", err)
				}
			case c.cfg.RestraintFile():
				if err := c.restraints.Load(); err != nil {
					c.log.Errorw("restraint definitions reload failed", "error", err)
				}
			}
		}, c.stop, c.log)
		if err != nil {
			c.log.Warnw("definitions watcher unavailable", "dir", dir, "error", err)
		}
	}()
}

// presenceFlag adapts the client's presence bit to the session interface.
type presenceFlag struct{ b *atomic.Bool }

func (p presenceFlag) Present() bool { return p.b.Load() }

// relayAdapter narrows *relay.Client to the session interface, wrapping
// OpenStream's concrete return type.
type relayAdapter struct{ *relay.Client }

func (a relayAdapter) OpenStream(ctx context.Context) (session.EventStream, error) {
	return a.Client.OpenStream(ctx)
}

// snapshotSource feeds the distributor from the stores and the registry.
type snapshotSource struct{ c *Client }

func (s snapshotSource) Composite() proto.CompositeState { return s.c.Composite() }
func (s snapshotSource) DrainCompositeRequests() []string {
	return s.c.registry.DrainCompositeRequests()
}
func (s snapshotSource) VisibleUIDs() []string { return s.c.registry.VisibleUIDs() }
