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

func newTestRestraintStore(t *testing.T) *RestraintStore {
	t.Helper()
	s := NewRestraintStore(filepath.Join(t.TempDir(), "restraints.json"), zap.NewNop().Sugar())
	t.Cleanup(s.Close)
	return s
}

func hogtieSet() *RestraintDefinition {
	return &RestraintDefinition{
		ID:    uuid.New(),
		Label: "Hogtie",
		Rank:  PrecNormal,
		Claims: ClaimSet{
			Glamour: map[EquipSlot]string{SlotBody: "rope-harness", SlotWrists: "rope-cuffs"},
		},
		Layers: []RestraintLayer{
			{ID: uuid.New(), Label: "Legs", Claims: ClaimSet{Glamour: map[EquipSlot]string{SlotLegs: "rope-bind"}}},
			{ID: uuid.New(), Label: "Blindfold", Claims: ClaimSet{Glamour: map[EquipSlot]string{SlotHead: "rope-blindfold"}}},
		},
	}
}

func TestRestraintSingleActiveSet(t *testing.T) {
	s := newTestRestraintStore(t)
	a, b := hogtieSet(), hogtieSet()
	b.Label = "Straitjacket"
	s.AddDefinition(a)
	s.AddDefinition(b)

	delta, ok := s.Enable(a.ID, "A")
	require.True(t, ok)
	assert.Equal(t, "rope-harness", delta.Glamour[SlotBody])

	_, ok = s.Enable(b.ID, "A")
	assert.False(t, ok, "a second set cannot be enabled")

	snap := s.Snapshot()
	assert.Equal(t, a.ID, snap.Set)
	assert.Equal(t, uint32(0), snap.Layers)
}

func TestRestraintLayerToggle(t *testing.T) {
	s := newTestRestraintStore(t)
	set := hogtieSet()
	s.AddDefinition(set)
	_, ok := s.Enable(set.ID, "A")
	require.True(t, ok)

	applied, reverted, ok := s.SetLayers(0b01, "A")
	require.True(t, ok)
	assert.Equal(t, "rope-bind", applied.Glamour[SlotLegs])
	assert.True(t, reverted.IsEmpty())
	assert.Equal(t, "rope-bind", s.Composed().Glamour[SlotLegs])

	applied, reverted, ok = s.SetLayers(0b10, "A")
	require.True(t, ok)
	assert.Equal(t, "rope-blindfold", applied.Glamour[SlotHead])
	assert.Equal(t, "rope-bind", reverted.Glamour[SlotLegs])

	_, _, ok = s.SetLayers(0b100, "A")
	assert.False(t, ok, "mask beyond the set's layers")

	applied, reverted, ok = s.SetLayers(0b10, "A")
	require.True(t, ok, "unchanged mask is a no-op")
	assert.True(t, applied.IsEmpty())
	assert.True(t, reverted.IsEmpty())
}

func TestRestraintDisableRevertsEngagedLayers(t *testing.T) {
	s := newTestRestraintStore(t)
	set := hogtieSet()
	s.AddDefinition(set)
	_, ok := s.Enable(set.ID, "A")
	require.True(t, ok)
	_, _, ok = s.SetLayers(0b11, "A")
	require.True(t, ok)

	reverted, ok := s.Disable("A")
	require.True(t, ok)
	assert.Equal(t, "rope-harness", reverted.Glamour[SlotBody])
	assert.Equal(t, "rope-bind", reverted.Glamour[SlotLegs])
	assert.Equal(t, "rope-blindfold", reverted.Glamour[SlotHead])
	assert.True(t, s.Composed().IsEmpty())
	assert.Equal(t, uuid.Nil, s.Snapshot().Set)
}

func TestRestraintLockGuardsMutation(t *testing.T) {
	s := newTestRestraintStore(t)
	set := hogtieSet()
	s.AddDefinition(set)
	_, ok := s.Enable(set.ID, "A")
	require.True(t, ok)

	require.True(t, s.Lock(proto.PadlockOwner, "", time.Time{}, "A"))
	assert.False(t, s.Lock(proto.PadlockOwner, "", time.Time{}, "A"), "already locked")

	_, ok = s.Disable("A")
	assert.False(t, ok)
	_, _, ok = s.SetLayers(0b01, "A")
	assert.False(t, ok)

	assert.False(t, s.Unlock(UnlockIntent{Enactor: "B"}))
	require.True(t, s.Unlock(UnlockIntent{Enactor: "A"}))
	_, ok = s.Disable("A")
	assert.True(t, ok)
}

func TestRestraintExpirySweepReportsOnce(t *testing.T) {
	s := newTestRestraintStore(t)
	set := hogtieSet()
	s.AddDefinition(set)
	_, ok := s.Enable(set.ID, "A")
	require.True(t, ok)
	require.True(t, s.Lock(proto.PadlockTimer, "", time.Now().Add(time.Millisecond), "A"))

	later := time.Now().Add(time.Second)
	reqs := s.CheckForExpiredLocks(later)
	require.Len(t, reqs, 1)
	assert.Equal(t, proto.KindUnlocked, reqs[0].Kind)
	assert.Equal(t, proto.PadlockTimer, reqs[0].Lock.Padlock)
	assert.Equal(t, set.ID, reqs[0].Item)

	assert.Empty(t, s.CheckForExpiredLocks(later.Add(time.Second)))
	assert.Equal(t, proto.PadlockTimer, s.Snapshot().Lock.Padlock, "sweep must not unlock locally")
}

func TestRestraintEditingRepointsActiveSet(t *testing.T) {
	s := newTestRestraintStore(t)
	set := hogtieSet()
	id := s.AddDefinition(set)
	_, ok := s.Enable(id, "A")
	require.True(t, ok)

	require.True(t, s.StartEditing(id))
	scratch, _ := s.EditingDefinition()
	scratch.Claims.setGlamour(SlotBody, "leather-harness")
	require.True(t, s.SaveChangesAndStopEditing())

	assert.Equal(t, "leather-harness", s.Composed().Glamour[SlotBody],
		"committed edit flows into the active set")
}

func TestRestraintRemoveActiveDefinitionRejected(t *testing.T) {
	s := newTestRestraintStore(t)
	id := s.AddDefinition(hogtieSet())
	_, ok := s.Enable(id, "A")
	require.True(t, ok)

	assert.False(t, s.RemoveDefinition(id))
	_, ok = s.Disable("A")
	require.True(t, ok)
	assert.True(t, s.RemoveDefinition(id))
}
