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

// GagStore owns the gag definitions and the three gag layers bound to the
// local user.
type GagStore struct {
	mu  sync.Mutex
	log *zap.SugaredLogger

	path     string
	rack     *Rack
	defs     map[uuid.UUID]*GagDefinition
	external []RankedClaims
	siblings []OccupancyQuery

	editing   *GagDefinition
	editingID uuid.UUID

	composed ClaimSet
	changes  *events.Feed[ChangeEvent]
}

func NewGagStore(path string, log *zap.SugaredLogger) *GagStore {
	return &GagStore{
		log:     log,
		path:    path,
		rack:    NewRack(proto.GagSlots),
		defs:    make(map[uuid.UUID]*GagDefinition),
		changes: events.NewFeed[ChangeEvent](),
	}
}

// SetSiblings injects the read-only occupancy views of the other category
// stores. Called once by the composition root after all stores exist.
func (s *GagStore) SetSiblings(qs ...OccupancyQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.siblings = qs
}

// Changes is the store's mutation feed, consumed by the distributor and the
// bridge router.
func (s *GagStore) Changes() *events.Feed[ChangeEvent] { return s.changes }

// Close releases the change feed listeners.
func (s *GagStore) Close() { s.changes.Close() }

// Load reads the definitions file. On any failure the store is left empty;
// a partial load never happens.
func (s *GagStore) Load() error {
	defs, err := loadVersioned(s.path, gagLoaders)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = make(map[uuid.UUID]*GagDefinition, len(defs))
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	return nil
}

// Save writes the definitions file.
func (s *GagStore) Save() error {
	s.mu.Lock()
	defs := s.sortedDefs()
	s.mu.Unlock()
	return saveGags(s.path, defs)
}

func (s *GagStore) sortedDefs() []*GagDefinition {
	out := make([]*GagDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Definitions returns all definitions sorted by label.
func (s *GagStore) Definitions() []*GagDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedDefs()
}

// Definition returns one definition by id.
func (s *GagStore) Definition(id uuid.UUID) (*GagDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[id]
	return d, ok
}

// AddDefinition stores a new definition, assigning an identifier when the
// caller left it zero.
func (s *GagStore) AddDefinition(def *GagDefinition) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	s.defs[def.ID] = def
	return def.ID
}

// RemoveDefinition deletes a definition unless a slot currently holds it.
func (s *GagStore) RemoveDefinition(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.rack.Len(); i++ {
		if slot, _ := s.rack.Get(i); slot.Occupied() && slot.Item.ItemID() == id {
			s.log.Debugw("gag definition removal rejected, item is active", "id", id, "layer", i)
			return false
		}
	}
	if _, ok := s.defs[id]; !ok {
		return false
	}
	delete(s.defs, id)
	return true
}

// StartEditing clones the target definition into the scratch slot. Only one
// definition may be under edit at a time.
func (s *GagStore) StartEditing(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing != nil {
		s.log.Debugw("gag edit rejected, another edit in progress", "editing", s.editingID)
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

// EditingDefinition exposes the scratch slot to the editor surface.
func (s *GagStore) EditingDefinition() (*GagDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing, s.editing != nil
}

// SaveChangesAndStopEditing commits the scratch slot over the stored
// definition and recomputes the composed cache.
func (s *GagStore) SaveChangesAndStopEditing() bool {
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

	if err := saveGags(s.path, defs); err != nil {
		s.log.Errorw("gag definitions save failed", "path", s.path, "error", err)
	}
	return true
}

// StopEditing discards the scratch slot.
func (s *GagStore) StopEditing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = nil
	s.editingID = uuid.Nil
}

// SetExternalClaims replaces the higher-priority external claim set (for
// example cursed-loot holds) folded into composition and delta scans.
func (s *GagStore) SetExternalClaims(claims []RankedClaims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.external = claims
	s.recompute()
}

// Apply places a definition into an empty layer and returns the visual
// claims newly introduced by it — claims already made by a higher-precedence
// source, or identical claims from any other source, are suppressed.
func (s *GagStore) Apply(layer int, id uuid.UUID, enactor string) (ClaimSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[id]
	if !ok {
		s.log.Debugw("gag apply rejected, unknown definition", "id", id)
		return ClaimSet{}, false
	}
	others := s.otherClaims(layer)
	if !s.rack.Apply(layer, def, enactor) {
		s.log.Debugw("gag apply rejected", "layer", layer, "id", id)
		return ClaimSet{}, false
	}
	delta := applyDelta(RankedClaims{Claims: def.Claims, Rank: def.Rank, Order: layer}, others)
	s.recompute()
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryGag, Layer: layer, Item: def.ID, Enabler: enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindApplied, TS: proto.NowMillis(),
	}, delta, ClaimSet{})
	return delta, true
}

// Swap atomically replaces the item on an occupied, unlocked layer. The
// returned deltas cover only what actually changes on the character.
func (s *GagStore) Swap(layer int, id uuid.UUID, enactor string) (applied, reverted ClaimSet, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, defOK := s.defs[id]
	if !defOK {
		s.log.Debugw("gag swap rejected, unknown definition", "id", id)
		return ClaimSet{}, ClaimSet{}, false
	}
	others := s.otherClaims(layer)
	prev, swapOK := s.rack.Swap(layer, def, enactor)
	if !swapOK {
		s.log.Debugw("gag swap rejected", "layer", layer, "id", id)
		return ClaimSet{}, ClaimSet{}, false
	}

	next := RankedClaims{Claims: def.Claims, Rank: def.Rank, Order: layer}
	applied = applyDelta(next, others)
	reverted = removeDelta(prev.ItemClaims(), append(others, next))
	s.recompute()
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryGag, Layer: layer, Item: def.ID, Enabler: enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindSwapped, TS: proto.NowMillis(),
	}, applied, reverted)
	return applied, reverted, true
}

// Remove clears an occupied, unlocked layer and returns the claims that
// should now be reverted — claims still made by another source stay.
func (s *GagStore) Remove(layer int, enactor string) (ClaimSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, ok := s.rack.Remove(layer)
	if !ok {
		s.log.Debugw("gag remove rejected", "layer", layer)
		return ClaimSet{}, false
	}
	reverted := removeDelta(removed.ItemClaims(), s.otherClaims(layer))
	s.recompute()
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryGag, Layer: layer, Enabler: enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindRemoved, TS: proto.NowMillis(),
	}, ClaimSet{}, reverted)
	return reverted, true
}

// Lock attaches a padlock to an occupied, unlocked layer. Pure metadata,
// no visual delta.
func (s *GagStore) Lock(layer int, kind proto.Padlock, password string, expires time.Time, enactor string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := Lock{Kind: kind, Password: password, Expires: expires, Assigner: enactor}
	if !s.rack.Lock(layer, lock, time.Now()) {
		s.log.Debugw("gag lock rejected", "layer", layer, "padlock", kind)
		return false
	}
	slot, _ := s.rack.Get(layer)
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryGag, Layer: layer, Item: slot.Item.ItemID(), Enabler: enactor,
		Lock: lock.Data(), Kind: proto.KindLocked, TS: proto.NowMillis(),
	}, ClaimSet{}, ClaimSet{})
	return true
}

// Unlock removes the padlock when the intent permits it.
func (s *GagStore) Unlock(layer int, in UnlockIntent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rack.Unlock(layer, in, time.Now()) {
		s.log.Debugw("gag unlock rejected", "layer", layer, "enactor", in.Enactor)
		return false
	}
	slot, _ := s.rack.Get(layer)
	s.publish(proto.CategoryUpdate{
		Category: proto.CategoryGag, Layer: layer, Item: slot.Item.ItemID(), Enabler: in.Enactor,
		Lock: proto.LockData{Padlock: proto.PadlockNone}, Kind: proto.KindUnlocked, TS: proto.NowMillis(),
	}, ClaimSet{}, ClaimSet{})
	return true
}

// CheckForExpiredLocks synthesizes one server-bound unlock request per newly
// expired timer lock, carrying the original padlock, password and assigner
// so the relay can validate and broadcast it. The slot stays locked until
// the confirmed unlock arrives.
func (s *GagStore) CheckForExpiredLocks(now time.Time) []proto.CategoryUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []proto.CategoryUpdate
	for _, layer := range s.rack.ExpiredLocks(now) {
		slot, _ := s.rack.Get(layer)
		out = append(out, proto.CategoryUpdate{
			Category: proto.CategoryGag, Layer: layer, Item: slot.Item.ItemID(),
			Enabler: slot.Lock.Assigner, Lock: slot.Lock.Data(),
			Kind: proto.KindUnlocked, TS: proto.NowMillis(),
		})
	}
	return out
}

// Composed returns the current composed visual cache.
func (s *GagStore) Composed() ClaimSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composed.Clone()
}

// Snapshot renders the active layers in wire form.
func (s *GagStore) Snapshot() proto.GagState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *GagStore) snapshotLocked() proto.GagState {
	var st proto.GagState
	copy(st.Slots[:], s.rack.SlotStates())
	return st
}

// ActiveClaims implements OccupancyQuery for sibling stores.
func (s *GagStore) ActiveClaims() []RankedClaims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(s.rack.Active(), s.external...)
}

// LightItems renders every definition in publishable light form.
func (s *GagStore) LightItems() []proto.LightItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]proto.LightItem, 0, len(s.defs))
	for _, d := range s.sortedDefs() {
		claims, _ := json.Marshal(d.Claims)
		out = append(out, proto.LightItem{ID: d.ID, Category: proto.CategoryGag, Label: d.Label, Claims: claims})
	}
	return out
}

// otherClaims collects every claim source except the given layer: the other
// local slots, the external holds, and the sibling categories.
func (s *GagStore) otherClaims(layer int) []RankedClaims {
	others := s.rack.activeExcept(layer)
	others = append(others, s.external...)
	return append(others, gatherClaims(s.siblings)...)
}

// recompute rebuilds the composed cache from scratch. Always a full fold,
// never an incremental patch.
func (s *GagStore) recompute() {
	s.composed = Compose(append(s.rack.Active(), s.external...))
}

func (s *GagStore) publish(upd proto.CategoryUpdate, applied, reverted ClaimSet) {
	s.changes.Publish(ChangeEvent{Update: upd, Applied: applied, Reverted: reverted, Payload: s.snapshotLocked()})
}
