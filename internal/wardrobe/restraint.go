package wardrobe

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Project-GagSpeak/gagspeak-client/internal/events"
	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
)

// RestraintStore owns the restraint set definitions and the single active
// set. At most one set is enabled at a time; its optional sub-layers toggle
// through a bitfield. The Layer field on published updates carries the
// bitfield for layer changes and is zero otherwise.
type RestraintStore struct {
	mu  sync.Mutex
	log *zap.SugaredLogger

	path string
	defs map[uuid.UUID]*RestraintDefinition

	active  *RestraintDefinition
	layers  uint32
	enabler string
	lock    Lock
	swept   bool

	external []RankedClaims
	siblings []OccupancyQuery

	editing   *RestraintDefinition
	editingID uuid.UUID

	composed ClaimSet
	changes  *events.Feed[ChangeEvent]
}

func NewRestraintStore(path string, log *zap.SugaredLogger) *RestraintStore {
	return &RestraintStore{
		log:     log,
		path:    path,
		defs:    make(map[uuid.UUID]*RestraintDefinition),
		changes: events.NewFeed[ChangeEvent](),
	}
}

func (s *RestraintStore) SetSiblings(qs ...OccupancyQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.siblings = qs
}

func (s *RestraintStore) Changes() *events.Feed[ChangeEvent] { return s.changes }

func (s *RestraintStore) Close() { s.changes.Close() }

func (s *RestraintStore) Load() error {
	defs, err := loadVersioned(s.path, restraintLoaders)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = make(map[uuid.UUID]*RestraintDefinition, len(defs))
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	return nil
}

func (s *RestraintStore) Save() error {
	s.mu.Lock()
	defs := s.sortedDefs()
	s.mu.Unlock()
	return saveRestraints(s.path, defs)
}

func (s *RestraintStore) sortedDefs() []*RestraintDefinition {
	out := make([]*RestraintDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func (s *RestraintStore) Definitions() []*RestraintDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedDefs()
}

func (s *RestraintStore) Definition(id uuid.UUID) (*RestraintDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[id]
	return d, ok
}

func (s *RestraintStore) AddDefinition(def *RestraintDefinition) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	s.defs[def.ID] = def
	return def.ID
}

func (s *RestraintStore) RemoveDefinition(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.ID == id {
		s.log.Debugw("restraint definition removal rejected, set is active", "id", id)
		return false
	}
	if _, ok := s.defs[id]; !ok {
		return false
	}
	delete(s.defs, id)
	return true
}

func (s *RestraintStore) StartEditing(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing != nil {
		s.log.Debugw("restraint edit rejected, another edit in progress", "editing", s.editingID)
		return false
	}
	def, ok := s.defs[id]
	if !ok {
		return false
	}
	s.editing = def.Clone()
	s.editingID = id
	return true
}

func (s *RestraintStore) EditingDefinition() (*RestraintDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing, s.editing != nil
}

func (s *RestraintStore) SaveChangesAndStopEditing() bool {
	s.mu.Lock()
	if s.editing == nil {
		s.mu.Unlock()
		return false
	}
	s.editing.ID = s.editingID
	s.defs[s.editingID] = s.editing
	if s.active != nil && s.active.ID == s.editingID {
		s.active = s.editing
	}
	s.editing = nil
	s.editingID = uuid.Nil
	s.recompute()
	defs := s.sortedDefs()
	s.mu.Unlock()

	if err := saveRestraints(s.path, defs); err != nil {
		s.log.Errorw("restraint definitions save failed", "path", s.path, "error", err)
	}
	return true
}

func (s *RestraintStore) StopEditing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = nil
	s.editingID = uuid.Nil
}

func (s *RestraintStore) SetExternalClaims(claims []RankedClaims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.external = claims
	s.recompute()
}

// Enable activates a set with no sub-layers engaged. Rejected while another
// set is active.
func (s *RestraintStore) Enable(id uuid.UUID, enactor string) (ClaimSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.log.Debugw("restraint enable rejected, another set active", "active", s.active.ID, "id", id)
		return ClaimSet{}, false
	}
	def, ok := s.defs[id]
	if !ok {
		s.log.Debugw("restraint enable rejected, unknown definition", "id", id)
		return ClaimSet{}, false
	}
	others := s.otherClaims()
	s.active = def
	s.layers = 0
	s.enabler = enactor
	s.lock = Lock{}
	s.swept = false

	delta := applyDelta(RankedClaims{Claims: def.Claims, Rank: def.Rank}, others)
	s.recompute()
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryRestraint, Item: def.ID, Enabler: enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindApplied, TS: proto.NowMillis(),
	}, delta, ClaimSet{})
	return delta, true
}

// Disable deactivates the set when it is unlocked, reverting both its base
// claims and any engaged sub-layer claims.
func (s *RestraintStore) Disable(enactor string) (ClaimSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.lock.IsLocked() {
		s.log.Debugw("restraint disable rejected", "enactor", enactor)
		return ClaimSet{}, false
	}
	removed := s.activeSetClaims()
	s.active = nil
	s.layers = 0
	s.enabler = ""
	s.lock = Lock{}

	others := s.otherClaims()
	reverted := ClaimSet{}
	for _, rc := range removed {
		reverted = mergeClaims(reverted, removeDelta(rc.Claims, others))
	}
	s.recompute()
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryRestraint, Enabler: enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindRemoved, TS: proto.NowMillis(),
	}, ClaimSet{}, reverted)
	return reverted, true
}

// SetLayers replaces the sub-layer bitfield on the active, unlocked set and
// returns the claims newly engaged and newly reverted by the change.
func (s *RestraintStore) SetLayers(mask uint32, enactor string) (applied, reverted ClaimSet, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.lock.IsLocked() {
		s.log.Debugw("restraint layer change rejected", "mask", mask)
		return ClaimSet{}, ClaimSet{}, false
	}
	if mask >= 1<<uint(len(s.active.Layers)) {
		s.log.Debugw("restraint layer change rejected, mask out of range", "mask", mask, "layers", len(s.active.Layers))
		return ClaimSet{}, ClaimSet{}, false
	}
	prev := s.layers
	if mask == prev {
		return ClaimSet{}, ClaimSet{}, true
	}
	s.layers = mask

	applied = ClaimSet{}
	reverted = ClaimSet{}
	for i, layer := range s.active.Layers {
		bit := uint32(1) << uint(i)
		was, is := prev&bit != 0, mask&bit != 0
		if was == is {
			continue
		}
		others := append(s.activeSetClaimsExcept(i), s.otherClaims()...)
		rc := RankedClaims{Claims: layer.Claims, Rank: s.active.Rank, Order: i + 1}
		if is {
			applied = mergeClaims(applied, applyDelta(rc, others))
		} else {
			reverted = mergeClaims(reverted, removeDelta(layer.Claims, others))
		}
	}
	s.recompute()
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryRestraint, Layer: int(mask), Item: s.active.ID, Enabler: enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindLayersChanged, TS: proto.NowMillis(),
	}, applied, reverted)
	return applied, reverted, true
}

// Lock attaches a padlock to the active, unlocked set.
func (s *RestraintStore) Lock(kind proto.Padlock, password string, expires time.Time, enactor string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := Lock{Kind: kind, Password: password, Expires: expires, Assigner: enactor}
	if s.active == nil || s.lock.IsLocked() || !validLock(lock, time.Now()) {
		s.log.Debugw("restraint lock rejected", "padlock", kind)
		return false
	}
	s.lock = lock
	s.swept = false
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryRestraint, Item: s.active.ID, Enabler: enactor,
		Lock: lock.Data(), Kind: proto.KindLocked, TS: proto.NowMillis(),
	}, ClaimSet{}, ClaimSet{})
	return true
}

// Unlock removes the padlock when the intent permits it.
func (s *RestraintStore) Unlock(in UnlockIntent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lock.IsLocked() || !s.lock.Permits(in, time.Now()) {
		s.log.Debugw("restraint unlock rejected", "enactor", in.Enactor)
		return false
	}
	s.lock = Lock{}
	s.swept = false
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryRestraint, Item: s.active.ID, Enabler: in.Enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindUnlocked, TS: proto.NowMillis(),
	}, ClaimSet{}, ClaimSet{})
	return true
}

// CheckForExpiredLocks reports the expired timer lock, at most once per
// lock, as a server-bound unlock request carrying the original lock data.
func (s *RestraintStore) CheckForExpiredLocks(now time.Time) []proto.CategoryUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || !s.lock.IsLocked() || !s.lock.Expired(now) || s.swept {
		return nil
	}
	s.swept = true
	return []proto.CategoryUpdate{{
		Category: proto.CategoryRestraint, Item: s.active.ID,
		Enabler: s.lock.Assigner, Lock: s.lock.Data(),
		Kind: proto.KindUnlocked, TS: proto.NowMillis(),
	}}
}

func (s *RestraintStore) Composed() ClaimSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composed.Clone()
}

func (s *RestraintStore) Snapshot() proto.RestraintState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *RestraintStore) snapshotLocked() proto.RestraintState {
	st := proto.RestraintState{Layers: s.layers, Lock: proto.LockData{Padlock: proto.PadlockNone}}
	if s.active != nil {
		st.Set = s.active.ID
		st.Enabler = s.enabler
		st.Lock = s.lock.Data()
	}
	return st
}

func (s *RestraintStore) ActiveClaims() []RankedClaims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(s.activeSetClaims(), s.external...)
}

func (s *RestraintStore) LightItems() []proto.LightItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]proto.LightItem, 0, len(s.defs))
	for _, d := range s.sortedDefs() {
		claims, _ := json.Marshal(d.Claims)
		out = append(out, proto.LightItem{ID: d.ID, Category: proto.CategoryRestraint, Label: d.Label, Claims: claims})
	}
	return out
}

// activeSetClaims is the base claims plus every engaged sub-layer's claims.
func (s *RestraintStore) activeSetClaims() []RankedClaims {
	if s.active == nil {
		return nil
	}
	out := []RankedClaims{{Claims: s.active.Claims, Rank: s.active.Rank}}
	for i, layer := range s.active.Layers {
		if s.layers&(1<<uint(i)) != 0 {
			out = append(out, RankedClaims{Claims: layer.Claims, Rank: s.active.Rank, Order: i + 1})
		}
	}
	return out
}

// activeSetClaimsExcept is activeSetClaims without one sub-layer, used when
// computing that layer's own delta.
func (s *RestraintStore) activeSetClaimsExcept(layerIdx int) []RankedClaims {
	if s.active == nil {
		return nil
	}
	out := []RankedClaims{{Claims: s.active.Claims, Rank: s.active.Rank}}
	for i, layer := range s.active.Layers {
		if i != layerIdx && s.layers&(1<<uint(i)) != 0 {
			out = append(out, RankedClaims{Claims: layer.Claims, Rank: s.active.Rank, Order: i + 1})
		}
	}
	return out
}

func (s *RestraintStore) otherClaims() []RankedClaims {
	return append(append([]RankedClaims{}, s.external...), gatherClaims(s.siblings)...)
}

func (s *RestraintStore) recompute() {
	s.composed = Compose(append(s.activeSetClaims(), s.external...))
}

func (s *RestraintStore) publish(upd proto.CategoryUpdate, applied, reverted ClaimSet) {
	s.changes.Publish(ChangeEvent{Update: upd, Applied: applied, Reverted: reverted, Payload: s.snapshotLocked()})
}
