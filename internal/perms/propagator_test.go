package perms

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePusher struct {
	pushed []Change
	err    error
}

func (f *fakePusher) PushPermissionChange(_ context.Context, chg Change) error {
	f.pushed = append(f.pushed, chg)
	return f.err
}

// fakeRegistry keeps one PairPerms bucket and applies changes the way the
// real registry does.
type fakeRegistry struct {
	perms    PairPerms
	applyErr error
	applied  []Change
}

func (f *fakeRegistry) ApplyChange(chg Change) error {
	f.applied = append(f.applied, chg)
	if f.applyErr != nil {
		return f.applyErr
	}
	if chg.IsBulk() {
		var p PairPerms
		if err := json.Unmarshal(chg.Bulk, &p); err != nil {
			return ErrBadValue
		}
		f.perms = p
		return nil
	}
	return ApplyToPair(&f.perms, chg.Field, chg.Value)
}

func (f *fakeRegistry) SnapshotScope(string, Direction, Scope) (json.RawMessage, error) {
	return json.Marshal(f.perms)
}

func TestSetOwnAppliesAndPushes(t *testing.T) {
	relay := &fakePusher{}
	reg := &fakeRegistry{}
	p := NewPropagator(relay, reg, zap.NewNop().Sugar())

	require.NoError(t, p.SetOwn(context.Background(), "uid-1", ScopePair, KeyApplyGags, true))
	assert.True(t, reg.perms.ApplyGags)
	require.Len(t, relay.pushed, 1)
	assert.Equal(t, "uid-1", relay.pushed[0].Target)
	assert.Equal(t, DirectionOwn, relay.pushed[0].Direction)
	assert.Equal(t, KeyApplyGags, relay.pushed[0].Field)
}

func TestSetOwnRevertsOnServerRejection(t *testing.T) {
	relay := &fakePusher{err: errors.New("denied")}
	reg := &fakeRegistry{perms: PairPerms{LockGags: true}}
	p := NewPropagator(relay, reg, zap.NewNop().Sugar())

	err := p.SetOwn(context.Background(), "uid-1", ScopePair, KeyLockGags, false)
	require.Error(t, err)
	assert.True(t, reg.perms.LockGags, "rejected change must restore the pre-change value")

	// One optimistic apply, one bulk revert.
	require.Len(t, reg.applied, 2)
	assert.True(t, reg.applied[1].IsBulk())
}

func TestSetOwnLocalRejectionSkipsPush(t *testing.T) {
	relay := &fakePusher{}
	reg := &fakeRegistry{}
	p := NewPropagator(relay, reg, zap.NewNop().Sugar())

	err := p.SetOwn(context.Background(), "uid-1", ScopePair, Key("bogus"), true)
	require.ErrorIs(t, err, ErrUnknownField)
	assert.Empty(t, relay.pushed)
}

func TestSetOwnBulkRevertsOnServerRejection(t *testing.T) {
	relay := &fakePusher{err: errors.New("denied")}
	reg := &fakeRegistry{perms: PairPerms{ApplyGags: true, UnlockGags: true}}
	p := NewPropagator(relay, reg, zap.NewNop().Sugar())

	err := p.SetOwnBulk(context.Background(), "uid-1", ScopePair, PairPerms{})
	require.Error(t, err)
	assert.True(t, reg.perms.ApplyGags)
	assert.True(t, reg.perms.UnlockGags)
}

func TestApplyRemote(t *testing.T) {
	reg := &fakeRegistry{}
	p := NewPropagator(&fakePusher{}, reg, zap.NewNop().Sugar())

	chg := Change{Target: "uid-1", Direction: DirectionOther, Scope: ScopePair,
		Field: KeyRemoveGags, Value: json.RawMessage(`true`)}
	require.NoError(t, p.ApplyRemote(chg))
	assert.True(t, reg.perms.RemoveGags)

	reg.applyErr = ErrUnknownField
	require.Error(t, p.ApplyRemote(chg))
}
