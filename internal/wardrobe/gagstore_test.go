package wardrobe

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
)

func newTestGagStore(t *testing.T) *GagStore {
	t.Helper()
	s := NewGagStore(filepath.Join(t.TempDir(), "gags.json"), zap.NewNop().Sugar())
	t.Cleanup(s.Close)
	return s
}

func ringGag() *GagDefinition {
	return &GagDefinition{
		ID:    uuid.New(),
		Label: "Ring Gag",
		Rank:  PrecNormal,
		Claims: ClaimSet{
			Glamour: map[EquipSlot]string{SlotHead: "ring-gag"},
			Mods:    []string{"open-mouth"},
		},
	}
}

func TestGagApplyRingGagScenario(t *testing.T) {
	s := newTestGagStore(t)
	def := ringGag()
	s.AddDefinition(def)

	delta, ok := s.Apply(0, def.ID, "A")
	require.True(t, ok)
	assert.Equal(t, "ring-gag", delta.Glamour[SlotHead])

	snap := s.Snapshot()
	assert.Equal(t, def.ID, snap.Slots[0].Item)
	assert.Equal(t, "A", snap.Slots[0].Enabler)
	assert.Equal(t, proto.PadlockNone, snap.Slots[0].Lock.Padlock)
	assert.Equal(t, "ring-gag", s.Composed().Glamour[SlotHead])

	require.True(t, s.Lock(0, proto.PadlockPassword, "1234", time.Time{}, "A"))

	// B has neither the password nor override permission.
	assert.False(t, s.Unlock(0, UnlockIntent{Enactor: "B"}))
	assert.Equal(t, proto.PadlockPassword, s.Snapshot().Slots[0].Lock.Padlock)

	require.True(t, s.Unlock(0, UnlockIntent{Enactor: "A"}))
	assert.Equal(t, proto.PadlockNone, s.Snapshot().Slots[0].Lock.Padlock)
	assert.Equal(t, def.ID, s.Snapshot().Slots[0].Item, "unlock keeps the slot occupied")
}

func TestGagApplyRemoveRoundTrip(t *testing.T) {
	s := newTestGagStore(t)
	def := ringGag()
	s.AddDefinition(def)

	before := s.Composed()
	_, ok := s.Apply(1, def.ID, "A")
	require.True(t, ok)

	reverted, ok := s.Remove(1, "A")
	require.True(t, ok)
	assert.True(t, reverted.Equal(def.Claims))
	assert.True(t, s.Composed().Equal(before), "apply then remove must restore the composed cache")
}

func TestGagApplyGuards(t *testing.T) {
	s := newTestGagStore(t)
	def := ringGag()
	s.AddDefinition(def)

	_, ok := s.Apply(0, uuid.New(), "A")
	assert.False(t, ok, "unknown definition")

	_, ok = s.Apply(3, def.ID, "A")
	assert.False(t, ok, "layer out of range")

	_, ok = s.Apply(0, def.ID, "A")
	require.True(t, ok)
	_, ok = s.Apply(0, def.ID, "A")
	assert.False(t, ok, "occupied layer")
}

func TestGagLockedSlotRejectsRemoveAndSwap(t *testing.T) {
	s := newTestGagStore(t)
	def, other := ringGag(), ringGag()
	other.Label = "Bit Gag"
	s.AddDefinition(def)
	s.AddDefinition(other)

	_, ok := s.Apply(0, def.ID, "A")
	require.True(t, ok)
	require.True(t, s.Lock(0, proto.PadlockOwner, "", time.Time{}, "A"))

	_, ok = s.Remove(0, "A")
	assert.False(t, ok)
	_, _, ok = s.Swap(0, other.ID, "A")
	assert.False(t, ok)
}

func TestGagSwapComputesBothDeltas(t *testing.T) {
	s := newTestGagStore(t)
	hood := &GagDefinition{ID: uuid.New(), Label: "Hood", Rank: PrecNormal,
		Claims: ClaimSet{Glamour: map[EquipSlot]string{SlotHead: "hood", SlotEars: "muffs"}}}
	helm := &GagDefinition{ID: uuid.New(), Label: "Helm", Rank: PrecNormal,
		Claims: ClaimSet{Glamour: map[EquipSlot]string{SlotHead: "helm"}}}
	s.AddDefinition(hood)
	s.AddDefinition(helm)

	_, ok := s.Apply(0, hood.ID, "A")
	require.True(t, ok)

	applied, reverted, ok := s.Swap(0, helm.ID, "A")
	require.True(t, ok)
	assert.Equal(t, "helm", applied.Glamour[SlotHead])
	_, headReverted := reverted.Glamour[SlotHead]
	assert.False(t, headReverted, "head is re-claimed by the incoming item")
	assert.Equal(t, "muffs", reverted.Glamour[SlotEars])
}

func TestGagExpirySweepReportsOnce(t *testing.T) {
	s := newTestGagStore(t)
	def := ringGag()
	s.AddDefinition(def)

	_, ok := s.Apply(0, def.ID, "A")
	require.True(t, ok)
	require.True(t, s.Lock(0, proto.PadlockTimer, "", time.Now().Add(50*time.Millisecond), "A"))

	assert.Empty(t, s.CheckForExpiredLocks(time.Now()), "lock has not expired yet")

	later := time.Now().Add(time.Second)
	reqs := s.CheckForExpiredLocks(later)
	require.Len(t, reqs, 1)
	assert.Equal(t, proto.KindUnlocked, reqs[0].Kind)
	assert.Equal(t, proto.PadlockTimer, reqs[0].Lock.Padlock, "request carries the original lock")
	assert.Equal(t, "A", reqs[0].Enabler)

	assert.Empty(t, s.CheckForExpiredLocks(later.Add(time.Second)), "consecutive sweeps stay quiet")
	assert.Equal(t, proto.PadlockTimer, s.Snapshot().Slots[0].Lock.Padlock,
		"sweep must not unlock locally")

	// The confirmed unlock resets the sweep marker.
	require.True(t, s.Unlock(0, UnlockIntent{Enactor: "A"}))
	assert.Empty(t, s.CheckForExpiredLocks(later.Add(2*time.Second)))
}

func TestGagCrossCategorySuppression(t *testing.T) {
	gags := newTestGagStore(t)
	restrictions := NewRestrictionStore(filepath.Join(t.TempDir(), "restrictions.json"), zap.NewNop().Sugar())
	t.Cleanup(restrictions.Close)
	gags.SetSiblings(restrictions)
	restrictions.SetSiblings(gags)

	blind := &RestrictionDefinition{ID: uuid.New(), Label: "Blindfold", Rank: PrecHigh,
		Claims: ClaimSet{Glamour: map[EquipSlot]string{SlotHead: "blindfold"}}}
	restrictions.AddDefinition(blind)
	_, ok := restrictions.Apply(0, blind.ID, "A")
	require.True(t, ok)

	hood := &GagDefinition{ID: uuid.New(), Label: "Hood", Rank: PrecLow,
		Claims: ClaimSet{Glamour: map[EquipSlot]string{SlotHead: "hood"}}}
	gags.AddDefinition(hood)
	delta, ok := gags.Apply(0, hood.ID, "A")
	require.True(t, ok)
	assert.True(t, delta.IsEmpty(), "higher-rank sibling claim suppresses the delta")
}

func TestGagEditingBuffer(t *testing.T) {
	s := newTestGagStore(t)
	def := ringGag()
	id := s.AddDefinition(def)

	require.True(t, s.StartEditing(id))
	assert.False(t, s.StartEditing(id), "one edit at a time")

	scratch, ok := s.EditingDefinition()
	require.True(t, ok)
	scratch.Label = "Ring Gag XL"
	scratch.Claims.setGlamour(SlotNeck, "collar")

	stored, _ := s.Definition(id)
	assert.Equal(t, "Ring Gag", stored.Label, "edits stay in the scratch copy until committed")

	require.True(t, s.SaveChangesAndStopEditing())
	stored, _ = s.Definition(id)
	assert.Equal(t, "Ring Gag XL", stored.Label)
	assert.Equal(t, "collar", stored.Claims.Glamour[SlotNeck])
}

func TestGagEditingDiscard(t *testing.T) {
	s := newTestGagStore(t)
	id := s.AddDefinition(ringGag())

	require.True(t, s.StartEditing(id))
	scratch, _ := s.EditingDefinition()
	scratch.Label = "changed"
	s.StopEditing()

	stored, _ := s.Definition(id)
	assert.Equal(t, "Ring Gag", stored.Label)
	require.True(t, s.StartEditing(id), "discard releases the edit slot")
}

func TestGagPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gags.json")
	log := zap.NewNop().Sugar()

	s := NewGagStore(path, log)
	defer s.Close()
	id := s.AddDefinition(ringGag())
	require.NoError(t, s.Save())

	reloaded := NewGagStore(path, log)
	defer reloaded.Close()
	require.NoError(t, reloaded.Load())
	def, ok := reloaded.Definition(id)
	require.True(t, ok)
	assert.Equal(t, "Ring Gag", def.Label)
	assert.Equal(t, "ring-gag", def.Claims.Glamour[SlotHead])
}

func TestGagRemoveActiveDefinitionRejected(t *testing.T) {
	s := newTestGagStore(t)
	id := s.AddDefinition(ringGag())
	_, ok := s.Apply(0, id, "A")
	require.True(t, ok)

	assert.False(t, s.RemoveDefinition(id))
	_, ok = s.Remove(0, "A")
	require.True(t, ok)
	assert.True(t, s.RemoveDefinition(id))
}

func TestGagChangeFeed(t *testing.T) {
	s := newTestGagStore(t)
	def := ringGag()
	s.AddDefinition(def)

	ch, cancel := s.Changes().Subscribe()
	defer cancel()

	_, ok := s.Apply(0, def.ID, "A")
	require.True(t, ok)

	select {
	case ev := <-ch:
		assert.Equal(t, proto.CategoryGag, ev.Update.Category)
		assert.Equal(t, proto.KindApplied, ev.Update.Kind)
		assert.Equal(t, def.ID, ev.Update.Item)
		snap, isSnap := ev.Payload.(proto.GagState)
		require.True(t, isSnap)
		assert.Equal(t, def.ID, snap.Slots[0].Item)
	case <-time.After(time.Second):
		t.Fatal("no change event published")
	}
}
