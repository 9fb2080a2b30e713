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

// RestrictionStore owns the restriction definitions and the five
// restriction layers bound to the local user. It mirrors GagStore with a
// wider rack and its own file format.
type RestrictionStore struct {
	mu  sync.Mutex
	log *zap.SugaredLogger

	path     string
	rack     *Rack
	defs     map[uuid.UUID]*RestrictionDefinition
	external []RankedClaims
	siblings []OccupancyQuery

	editing   *RestrictionDefinition
	editingID uuid.UUID

	composed ClaimSet
	changes  *events.Feed[ChangeEvent]
}

func NewRestrictionStore(path string, log *zap.SugaredLogger) *RestrictionStore {
	return &RestrictionStore{
		log:     log,
		path:    path,
		rack:    NewRack(proto.RestrictionSlots),
		defs:    make(map[uuid.UUID]*RestrictionDefinition),
		changes: events.NewFeed[ChangeEvent](),
	}
}

func (s *RestrictionStore) SetSiblings(qs ...OccupancyQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.siblings = qs
}

func (s *RestrictionStore) Changes() *events.Feed[ChangeEvent] { return s.changes }

func (s *RestrictionStore) Close() { s.changes.Close() }

func (s *RestrictionStore) Load() error {
	defs, err := loadVersioned(s.path, restrictionLoaders)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = make(map[uuid.UUID]*RestrictionDefinition, len(defs))
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	return nil
}

func (s *RestrictionStore) Save() error {
	s.mu.Lock()
	defs := s.sortedDefs()
	s.mu.Unlock()
	return saveRestrictions(s.path, defs)
}

func (s *RestrictionStore) sortedDefs() []*RestrictionDefinition {
	out := make([]*RestrictionDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func (s *RestrictionStore) Definitions() []*RestrictionDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedDefs()
}

func (s *RestrictionStore) Definition(id uuid.UUID) (*RestrictionDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[id]
	return d, ok
}

func (s *RestrictionStore) AddDefinition(def *RestrictionDefinition) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	s.defs[def.ID] = def
	return def.ID
}

func (s *RestrictionStore) RemoveDefinition(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.rack.Len(); i++ {
		if slot, _ := s.rack.Get(i); slot.Occupied() && slot.Item.ItemID() == id {
			s.log.Debugw("restriction definition removal rejected, item is active", "id", id, "layer", i)
			return false
		}
	}
	if _, ok := s.defs[id]; !ok {
		return false
	}
	delete(s.defs, id)
	return true
}

func (s *RestrictionStore) StartEditing(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing != nil {
		s.log.Debugw("restriction edit rejected, another edit in progress", "editing", s.editingID)
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

func (s *RestrictionStore) EditingDefinition() (*RestrictionDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing, s.editing != nil
}

func (s *RestrictionStore) SaveChangesAndStopEditing() bool {
	s.mu.Lock()
	if s.editing == nil {
		s.mu.Unlock()
		return false
	}
	s.editing.ID = s.editingID
	s.defs[s.editingID] = s.editing
	s.editing = nil
	s.editingID = uuid.Nil
	s.recompute()
	defs := s.sortedDefs()
	s.mu.Unlock()

	if err := saveRestrictions(s.path, defs); err != nil {
		s.log.Errorw("restriction definitions save failed", "path", s.path, "error", err)
	}
	return true
}

func (s *RestrictionStore) StopEditing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = nil
	s.editingID = uuid.Nil
}

func (s *RestrictionStore) SetExternalClaims(claims []RankedClaims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.external = claims
	s.recompute()
}

func (s *RestrictionStore) Apply(layer int, id uuid.UUID, enactor string) (ClaimSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[id]
	if !ok {
		s.log.Debugw("restriction apply rejected, unknown definition", "id", id)
		return ClaimSet{}, false
	}
	others := s.otherClaims(layer)
	if !s.rack.Apply(layer, def, enactor) {
		s.log.Debugw("restriction apply rejected", "layer", layer, "id", id)
		return ClaimSet{}, false
	}
	delta := applyDelta(RankedClaims{Claims: def.Claims, Rank: def.Rank, Order: layer}, others)
	s.recompute()
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryRestriction, Layer: layer, Item: def.ID, Enabler: enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindApplied, TS: proto.NowMillis(),
	}, delta, ClaimSet{})
	return delta, true
}

func (s *RestrictionStore) Swap(layer int, id uuid.UUID, enactor string) (applied, reverted ClaimSet, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, defOK := s.defs[id]
	if !defOK {
		s.log.Debugw("restriction swap rejected, unknown definition", "id", id)
		return ClaimSet{}, ClaimSet{}, false
	}
	others := s.otherClaims(layer)
	prev, swapOK := s.rack.Swap(layer, def, enactor)
	if !swapOK {
		s.log.Debugw("restriction swap rejected", "layer", layer, "id", id)
		return ClaimSet{}, ClaimSet{}, false
	}

	next := RankedClaims{Claims: def.Claims, Rank: def.Rank, Order: layer}
	applied = applyDelta(next, others)
	reverted = removeDelta(prev.ItemClaims(), append(others, next))
	s.recompute()
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryRestriction, Layer: layer, Item: def.ID, Enabler: enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindSwapped, TS: proto.NowMillis(),
	}, applied, reverted)
	return applied, reverted, true
}

func (s *RestrictionStore) Remove(layer int, enactor string) (ClaimSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, ok := s.rack.Remove(layer)
	if !ok {
		s.log.Debugw("restriction remove rejected", "layer", layer)
		return ClaimSet{}, false
	}
	reverted := removeDelta(removed.ItemClaims(), s.otherClaims(layer))
	s.recompute()
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryRestriction, Layer: layer, Enabler: enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindRemoved, TS: proto.NowMillis(),
	}, ClaimSet{}, reverted)
	return reverted, true
}

func (s *RestrictionStore) Lock(layer int, kind proto.Padlock, password string, expires time.Time, enactor string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := Lock{Kind: kind, Password: password, Expires: expires, Assigner: enactor}
	if !s.rack.Lock(layer, lock, time.Now()) {
		s.log.Debugw("restriction lock rejected", "layer", layer, "padlock", kind)
		return false
	}
	slot, _ := s.rack.Get(layer)
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryRestriction, Layer: layer, Item: slot.Item.ItemID(), Enabler: enactor,
		Lock: lock.Data(), Kind: proto.KindLocked, TS: proto.NowMillis(),
	}, ClaimSet{}, ClaimSet{})
	return true
}

func (s *RestrictionStore) Unlock(layer int, in UnlockIntent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rack.Unlock(layer, in, time.Now()) {
		s.log.Debugw("restriction unlock rejected", "layer", layer, "enactor", in.Enactor)
		return false
	}
	slot, _ := s.rack.Get(layer)
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryRestriction, Layer: layer, Item: slot.Item.ItemID(), Enabler: in.Enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindUnlocked, TS: proto.NowMillis(),
	}, ClaimSet{}, ClaimSet{})
	return true
}

func (s *RestrictionStore) CheckForExpiredLocks(now time.Time) []proto.CategoryUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []proto.CategoryUpdate
	for _, layer := range s.rack.ExpiredLocks(now) {
		slot, _ := s.rack.Get(layer)
		out = append(out, proto.CategoryUpdate{
			Category: proto.CategoryRestriction, Layer: layer, Item: slot.Item.ItemID(),
			Enabler: slot.Lock.Assigner, Lock: slot.Lock.Data(),
			Kind: proto.KindUnlocked, TS: proto.NowMillis(),
		})
	}
	return out
}

func (s *RestrictionStore) Composed() ClaimSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composed.Clone()
}

func (s *RestrictionStore) Snapshot() proto.RestrictionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *RestrictionStore) snapshotLocked() proto.RestrictionState {
	var st proto.RestrictionState
	copy(st.Slots[:], s.rack.SlotStates())
	return st
}

func (s *RestrictionStore) ActiveClaims() []RankedClaims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(s.rack.Active(), s.external...)
}

func (s *RestrictionStore) LightItems() []proto.LightItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]proto.LightItem, 0, len(s.defs))
	for _, d := range s.sortedDefs() {
		claims, _ := json.Marshal(d.Claims)
		out = append(out, proto.LightItem{ID: d.ID, Category: proto.CategoryRestriction, Label: d.Label, Claims: claims})
	}
	return out
}

func (s *RestrictionStore) otherClaims(layer int) []RankedClaims {
	others := s.rack.activeExcept(layer)
	others = append(others, s.external...)
	return append(others, gatherClaims(s.siblings)...)
}

func (s *RestrictionStore) recompute() {
	s.composed = Compose(append(s.rack.Active(), s.external...))
}

func (s *RestrictionStore) publish(upd proto.CategoryUpdate, applied, reverted ClaimSet) {
	s.changes.Publish(ChangeEvent{Update: upd, Applied: applied, Reverted: reverted, Payload: s.snapshotLocked()})
}
