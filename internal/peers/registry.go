// Package peers keeps the in-memory registry of paired kinksters: pairing
// state, permissions per direction, last-known snapshots, and the derived
// locked-slot projection.
package peers

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Project-GagSpeak/gagspeak-client/internal/events"
	"github.com/Project-GagSpeak/gagspeak-client/internal/perms"
	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
	"github.com/Project-GagSpeak/gagspeak-client/internal/storage"
	"github.com/Project-GagSpeak/gagspeak-client/internal/wardrobe"
)

// ErrUnknownKinkster marks an operation referencing a peer the registry
// never saw. That is an ordering bug (a callback beat the pair load), so
// callers log it at error level, but the registry itself stays intact.
var ErrUnknownKinkster = errors.New("no such kinkster")

// AchievementSink receives the snapshot side-channel. Implemented by the
// bridge layer; a nil sink disables it.
type AchievementSink interface {
	OnCategorySnapshot(uid string, category proto.Category)
}

// NoticeKind tags registry notices for UI-facing collaborators.
type NoticeKind string

const (
	NoticePairAdded          NoticeKind = "pair-added"
	NoticePairRemoved        NoticeKind = "pair-removed"
	NoticeProfileCleared     NoticeKind = "profile-cleared"
	NoticeProfileInvalidated NoticeKind = "profile-invalidated"
	NoticeProjectionUpdated  NoticeKind = "projection-updated"
)

// Notice is one registry event.
type Notice struct {
	Kind NoticeKind
	UID  string
}

// Registry owns every Kinkster. All access is mutex-guarded; methods never
// hand out pointers into the guarded state.
type Registry struct {
	mu  sync.Mutex
	log *zap.SugaredLogger

	db  *storage.DB
	ach AchievementSink

	kinksters map[string]*Kinkster
	directs   []string

	// pendingComposite coalesces snapshot pushes for peers that came online
	// in the same tick.
	pendingComposite map[string]struct{}

	notices *events.Feed[Notice]
}

func NewRegistry(db *storage.DB, ach AchievementSink, log *zap.SugaredLogger) *Registry {
	return &Registry{
		log:              log,
		db:               db,
		ach:              ach,
		kinksters:        make(map[string]*Kinkster),
		pendingComposite: make(map[string]struct{}),
		notices:          events.NewFeed[Notice](),
	}
}

// Notices is the registry's event feed.
func (r *Registry) Notices() *events.Feed[Notice] { return r.notices }

// Close releases the notice feed listeners.
func (r *Registry) Close() { r.notices.Close() }

// AddPeer upserts a kinkster from a relay descriptor. Unknown peers are
// constructed, seeded from the persistent cache when one exists; known
// peers refresh pairing state in place and reproject from the cached
// snapshot.
func (r *Registry) AddPeer(desc proto.KinksterDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, known := r.kinksters[desc.UID]
	if !known {
		k = &Kinkster{UID: desc.UID}
		if cached, ok := r.db.GetKinkster(desc.UID); ok {
			k.Alias = cached.Alias
		}
		r.kinksters[desc.UID] = k
	}
	k.Alias = firstNonEmpty(desc.Alias, k.Alias)
	k.PairedSince = desc.PairedSince
	k.OwnPerms = desc.OwnPerms
	k.TheirPerms = desc.TheirPerms
	k.TheirGlobal = desc.TheirGlobal

	r.persistLocked(k)
	r.reprojectLocked(k)
	r.recomputeDirectsLocked()
	if !known {
		r.notices.Publish(Notice{Kind: NoticePairAdded, UID: desc.UID})
	}
}

// RemovePeer drops a kinkster and its cached state. Used on unpair.
func (r *Registry) RemovePeer(uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.kinksters[uid]; !ok {
		r.log.Errorw("remove for unknown kinkster", "uid", uid)
		return fmt.Errorf("%w: %s", ErrUnknownKinkster, uid)
	}
	delete(r.kinksters, uid)
	delete(r.pendingComposite, uid)
	if err := r.db.DeleteKinkster(uid); err != nil {
		r.log.Errorw("kinkster cache delete failed", "uid", uid, "error", err)
	}
	r.recomputeDirectsLocked()
	r.notices.Publish(Notice{Kind: NoticePairRemoved, UID: uid})
	return nil
}

// MarkOnline flips the online flag and queues a composite push to the
// newly-online peer. Pushes queued in the same tick drain as one batch.
func (r *Registry) MarkOnline(uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.kinksters[uid]
	if !ok {
		r.log.Errorw("online pulse for unknown kinkster", "uid", uid)
		return fmt.Errorf("%w: %s", ErrUnknownKinkster, uid)
	}
	if k.Online {
		return nil
	}
	k.Online = true
	r.pendingComposite[uid] = struct{}{}
	return nil
}

// MarkOffline flips the online flag, clears the presence handle, and
// notifies collaborators that the peer's profile view is gone.
func (r *Registry) MarkOffline(uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.kinksters[uid]
	if !ok {
		r.log.Errorw("offline pulse for unknown kinkster", "uid", uid)
		return fmt.Errorf("%w: %s", ErrUnknownKinkster, uid)
	}
	if !k.Online {
		return nil
	}
	k.Online = false
	k.Visible = false
	k.handle = ""
	delete(r.pendingComposite, uid)
	r.notices.Publish(Notice{Kind: NoticeProfileCleared, UID: uid})
	return nil
}

// MarkVisible records that the host started rendering this peer's
// character. Visibility drives the ephemeral-push audience.
func (r *Registry) MarkVisible(uid string) error {
	return r.setVisible(uid, true)
}

// MarkInvisible records that the peer's character left render range.
func (r *Registry) MarkInvisible(uid string) error {
	return r.setVisible(uid, false)
}

func (r *Registry) setVisible(uid string, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.kinksters[uid]
	if !ok {
		r.log.Errorw("visibility pulse for unknown kinkster", "uid", uid)
		return fmt.Errorf("%w: %s", ErrUnknownKinkster, uid)
	}
	k.Visible = visible
	return nil
}

// VisibleUIDs returns the peers whose characters the host is rendering
// right now, the audience for ephemeral pushes.
func (r *Registry) VisibleUIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for uid, k := range r.kinksters {
		if k.Visible {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}

// BindHandle attaches the host's presence handle to an online peer.
func (r *Registry) BindHandle(uid, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.kinksters[uid]
	if !ok {
		r.log.Errorw("handle bind for unknown kinkster", "uid", uid)
		return fmt.Errorf("%w: %s", ErrUnknownKinkster, uid)
	}
	k.handle = handle
	return nil
}

// DrainCompositeRequests returns and clears the set of peers waiting for a
// full snapshot. Called once per tick by the distributor path.
func (r *Registry) DrainCompositeRequests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pendingComposite) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.pendingComposite))
	for uid := range r.pendingComposite {
		out = append(out, uid)
	}
	sort.Strings(out)
	r.pendingComposite = make(map[string]struct{})
	return out
}

// SetAlias stores a local nickname for a peer.
func (r *Registry) SetAlias(uid, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.kinksters[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKinkster, uid)
	}
	k.Alias = alias
	r.persistLocked(k)
	return nil
}

// Kinkster returns a copy of one peer's record.
func (r *Registry) Kinkster(uid string) (Kinkster, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.kinksters[uid]
	if !ok {
		return Kinkster{}, false
	}
	return k.clone(), true
}

// List returns copies of every peer, sorted by UID.
func (r *Registry) List() []Kinkster {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Kinkster, 0, len(r.kinksters))
	for _, k := range r.kinksters {
		out = append(out, k.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// OnlineUIDs returns the peers currently online.
func (r *Registry) OnlineUIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for uid, k := range r.kinksters {
		if k.Online {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}

// DirectPairs is the derived view of unpaused pairs, recomputed on every
// permission change.
func (r *Registry) DirectPairs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.directs))
	copy(out, r.directs)
	return out
}

func (r *Registry) recomputeDirectsLocked() {
	r.directs = r.directs[:0]
	for uid, k := range r.kinksters {
		if !k.IsPaused() {
			r.directs = append(r.directs, uid)
		}
	}
	sort.Strings(r.directs)
}

func (r *Registry) persistLocked(k *Kinkster) {
	err := r.db.UpsertKinkster(storage.CachedKinkster{
		UID:         k.UID,
		Alias:       k.Alias,
		OwnPerms:    k.OwnPerms,
		TheirPerms:  k.TheirPerms,
		TheirGlobal: k.TheirGlobal,
		PairedSince: k.PairedSince,
	})
	if err != nil {
		r.log.Errorw("kinkster cache write failed", "uid", k.UID, "error", err)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// ApplyChange routes a permission delta into the correct bucket of the
// targeted peer. Implements the propagator's registry interface. Unknown
// fields or unconvertible values reject the change without mutation.
func (r *Registry) ApplyChange(ch perms.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.kinksters[ch.Target]
	if !ok {
		r.log.Errorw("permission change for unknown kinkster", "uid", ch.Target)
		return fmt.Errorf("%w: %s", ErrUnknownKinkster, ch.Target)
	}

	pausedBefore := k.IsPaused()
	if err := applyToKinkster(k, ch); err != nil {
		return err
	}
	r.persistLocked(k)
	r.recomputeDirectsLocked()
	if k.IsPaused() != pausedBefore {
		r.notices.Publish(Notice{Kind: NoticeProfileInvalidated, UID: ch.Target})
	}
	return nil
}

func applyToKinkster(k *Kinkster, ch perms.Change) error {
	switch ch.Scope {
	case perms.ScopeGlobal:
		if ch.Direction != perms.DirectionOther {
			return perms.ErrBadScope
		}
		if ch.IsBulk() {
			var g perms.GlobalPerms
			if err := json.Unmarshal(ch.Bulk, &g); err != nil {
				return fmt.Errorf("%w: %v", perms.ErrBadValue, err)
			}
			k.TheirGlobal = g
			return nil
		}
		return perms.ApplyToGlobal(&k.TheirGlobal, ch.Field, ch.Value)

	case perms.ScopePair:
		bucket := &k.OwnPerms.Perms
		if ch.Direction == perms.DirectionOther {
			bucket = &k.TheirPerms.Perms
		}
		if ch.IsBulk() {
			var p perms.PairPerms
			if err := json.Unmarshal(ch.Bulk, &p); err != nil {
				return fmt.Errorf("%w: %v", perms.ErrBadValue, err)
			}
			*bucket = p
			return nil
		}
		return perms.ApplyToPair(bucket, ch.Field, ch.Value)

	case perms.ScopeAccess:
		bucket := &k.OwnPerms.Access
		if ch.Direction == perms.DirectionOther {
			bucket = &k.TheirPerms.Access
		}
		if ch.IsBulk() {
			var a perms.EditAccess
			if err := json.Unmarshal(ch.Bulk, &a); err != nil {
				return fmt.Errorf("%w: %v", perms.ErrBadValue, err)
			}
			*bucket = a
			return nil
		}
		return perms.ApplyToAccess(bucket, ch.Field, ch.Value)

	default:
		return fmt.Errorf("%w: %q", perms.ErrBadScope, ch.Scope)
	}
}

// SnapshotScope marshals the current value of one permission bucket, used
// by the propagator as the revert image for optimistic changes.
func (r *Registry) SnapshotScope(target string, dir perms.Direction, scope perms.Scope) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.kinksters[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKinkster, target)
	}

	var v any
	switch scope {
	case perms.ScopeGlobal:
		v = k.TheirGlobal
	case perms.ScopePair:
		if dir == perms.DirectionOther {
			v = k.TheirPerms.Perms
		} else {
			v = k.OwnPerms.Perms
		}
	case perms.ScopeAccess:
		if dir == perms.DirectionOther {
			v = k.TheirPerms.Access
		} else {
			v = k.OwnPerms.Access
		}
	default:
		return nil, fmt.Errorf("%w: %q", perms.ErrBadScope, scope)
	}
	return json.Marshal(v)
}

// ReceiveComposite stores a peer's full snapshot, fires the achievement
// side-channel once per category, and rebuilds the locked-slot projection.
func (r *Registry) ReceiveComposite(uid string, state proto.CompositeState) error {
	r.mu.Lock()
	k, ok := r.kinksters[uid]
	if !ok {
		r.mu.Unlock()
		r.log.Errorw("composite snapshot for unknown kinkster", "uid", uid)
		return fmt.Errorf("%w: %s", ErrUnknownKinkster, uid)
	}
	k.LastComposite = state
	r.persistLocked(k)
	r.reprojectLocked(k)
	r.mu.Unlock()

	if r.ach != nil {
		r.ach.OnCategorySnapshot(uid, proto.CategoryGag)
		r.ach.OnCategorySnapshot(uid, proto.CategoryRestriction)
		r.ach.OnCategorySnapshot(uid, proto.CategoryRestraint)
	}
	r.notices.Publish(Notice{Kind: NoticeProjectionUpdated, UID: uid})
	return nil
}

// ReceiveCategoryUpdate patches one slot of a peer's last-known snapshot
// from an incremental update, then reprojects.
func (r *Registry) ReceiveCategoryUpdate(uid string, upd proto.CategoryUpdate) error {
	r.mu.Lock()
	k, ok := r.kinksters[uid]
	if !ok {
		r.mu.Unlock()
		r.log.Errorw("category update for unknown kinkster", "uid", uid)
		return fmt.Errorf("%w: %s", ErrUnknownKinkster, uid)
	}
	if err := patchComposite(&k.LastComposite, upd); err != nil {
		r.mu.Unlock()
		r.log.Errorw("category update rejected", "uid", uid, "error", err)
		return err
	}
	r.persistLocked(k)
	r.reprojectLocked(k)
	r.mu.Unlock()

	if r.ach != nil {
		r.ach.OnCategorySnapshot(uid, upd.Category)
	}
	r.notices.Publish(Notice{Kind: NoticeProjectionUpdated, UID: uid})
	return nil
}

// ReceiveLightStorage caches a peer's published definitions and reprojects,
// since claim resolution may now succeed where it could not before.
func (r *Registry) ReceiveLightStorage(ls proto.LightStorage) error {
	if err := r.db.ReplaceLightStorage(ls.UID, ls.Items); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.kinksters[ls.UID]; ok {
		r.reprojectLocked(k)
	}
	return nil
}

func patchComposite(c *proto.CompositeState, upd proto.CategoryUpdate) error {
	slot := proto.SlotState{Item: upd.Item, Enabler: upd.Enabler, Lock: upd.Lock}
	if upd.Kind == proto.KindRemoved {
		slot = proto.SlotState{Lock: proto.LockData{Padlock: proto.PadlockNone}}
	}
	switch upd.Category {
	case proto.CategoryGag:
		if upd.Layer < 0 || upd.Layer >= proto.GagSlots {
			return fmt.Errorf("gag layer %d out of range", upd.Layer)
		}
		c.Gags.Slots[upd.Layer] = slot
	case proto.CategoryRestriction:
		if upd.Layer < 0 || upd.Layer >= proto.RestrictionSlots {
			return fmt.Errorf("restriction layer %d out of range", upd.Layer)
		}
		c.Restrictions.Slots[upd.Layer] = slot
	case proto.CategoryRestraint:
		switch upd.Kind {
		case proto.KindRemoved:
			c.Restraint = proto.RestraintState{Lock: proto.LockData{Padlock: proto.PadlockNone}}
		case proto.KindLayersChanged:
			c.Restraint.Layers = uint32(upd.Layer)
		default:
			c.Restraint.Set = upd.Item
			c.Restraint.Enabler = upd.Enabler
			c.Restraint.Lock = upd.Lock
		}
	default:
		return fmt.Errorf("unknown category %q", upd.Category)
	}
	c.TS = upd.TS
	return nil
}

// reprojectLocked rebuilds the locked-slot projection: scan the snapshot in
// fixed priority order (cursed holds, then gags, restrictions, restraint)
// and record the first claim on each equipment slot. Claims resolve through
// the light-storage cache; unresolvable items contribute nothing.
func (r *Registry) reprojectLocked(k *Kinkster) {
	proj := make(LockedSlots)

	claim := func(slots []proto.SlotState) {
		for _, s := range slots {
			if s.Item == uuid.Nil {
				continue
			}
			item, ok := r.db.GetLightItem(k.UID, s.Item)
			if !ok {
				continue
			}
			var cs wardrobe.ClaimSet
			if err := json.Unmarshal(item.Claims, &cs); err != nil {
				continue
			}
			for slot := range cs.Glamour {
				if _, taken := proj[string(slot)]; !taken {
					proj[string(slot)] = SlotClaim{Item: s.Item, Category: item.Category, Label: item.Label}
				}
			}
		}
	}

	claim(k.LastComposite.Cursed)
	claim(k.LastComposite.Gags.Slots[:])
	claim(k.LastComposite.Restrictions.Slots[:])
	if k.LastComposite.Restraint.Set != uuid.Nil {
		claim([]proto.SlotState{{
			Item:    k.LastComposite.Restraint.Set,
			Enabler: k.LastComposite.Restraint.Enabler,
			Lock:    k.LastComposite.Restraint.Lock,
		}})
	}
	k.Projection = proj
}
