package distrib

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
	"github.com/Project-GagSpeak/gagspeak-client/internal/wardrobe"
)

type fakePusher struct {
	mu         sync.Mutex
	updates    []proto.CategoryUpdate
	composites [][]string
	ephemerals [][]string
}

func (f *fakePusher) PushCategoryUpdate(_ context.Context, upd proto.CategoryUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, upd)
	return nil
}

func (f *fakePusher) PushCompositeState(_ context.Context, _ proto.CompositeState, recipients []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composites = append(f.composites, recipients)
	return nil
}

func (f *fakePusher) PushEphemeral(_ context.Context, _ proto.EphemeralUpdate, recipients []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ephemerals = append(f.ephemerals, recipients)
	return nil
}

func (f *fakePusher) sent() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates), len(f.composites)
}

func (f *fakePusher) ephemeralCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ephemerals)
}

type fakeSource struct {
	mu      sync.Mutex
	pending []string
	visible []string
}

func (f *fakeSource) Composite() proto.CompositeState { return proto.CompositeState{} }

func (f *fakeSource) DrainCompositeRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out
}

func (f *fakeSource) VisibleUIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func changeEvent(kind proto.UpdateKind, payload any) wardrobe.ChangeEvent {
	return wardrobe.ChangeEvent{
		Update: proto.CategoryUpdate{
			Category: proto.CategoryGag, Item: uuid.New(), Kind: kind, TS: proto.NowMillis(),
		},
		Payload: payload,
	}
}

func TestOnLocalChangeForwards(t *testing.T) {
	relay := &fakePusher{}
	d := New(relay, &fakeSource{}, zap.NewNop().Sugar())
	defer d.Close()
	d.SetEnabled(true)

	d.OnLocalChange(changeEvent(proto.KindApplied, "snap-1"))
	waitFor(t, func() bool { u, _ := relay.sent(); return u == 1 })
}

func TestDuplicatePayloadSuppressed(t *testing.T) {
	relay := &fakePusher{}
	d := New(relay, &fakeSource{}, zap.NewNop().Sugar())
	defer d.Close()
	d.SetEnabled(true)

	d.OnLocalChange(changeEvent(proto.KindApplied, "snap-1"))
	d.OnLocalChange(changeEvent(proto.KindApplied, "snap-1"))
	d.OnLocalChange(changeEvent(proto.KindApplied, "snap-2"))

	waitFor(t, func() bool { u, _ := relay.sent(); return u == 2 })
	time.Sleep(20 * time.Millisecond)
	u, _ := relay.sent()
	assert.Equal(t, 2, u, "byte-identical payload must not be pushed twice in a row")
}

func TestDisabledDropsChanges(t *testing.T) {
	relay := &fakePusher{}
	d := New(relay, &fakeSource{}, zap.NewNop().Sugar())
	defer d.Close()

	d.OnLocalChange(changeEvent(proto.KindApplied, "snap-1"))
	time.Sleep(20 * time.Millisecond)
	u, _ := relay.sent()
	assert.Zero(t, u)
}

func TestDisableResetsEqualityBaseline(t *testing.T) {
	relay := &fakePusher{}
	d := New(relay, &fakeSource{}, zap.NewNop().Sugar())
	defer d.Close()

	d.SetEnabled(true)
	d.OnLocalChange(changeEvent(proto.KindApplied, "snap-1"))
	waitFor(t, func() bool { u, _ := relay.sent(); return u == 1 })

	d.SetEnabled(false)
	d.SetEnabled(true)

	d.OnLocalChange(changeEvent(proto.KindApplied, "snap-1"))
	waitFor(t, func() bool { u, _ := relay.sent(); return u == 2 })
}

func TestDrainBatchesCompositePush(t *testing.T) {
	relay := &fakePusher{}
	source := &fakeSource{pending: []string{"uid-a", "uid-b"}}
	d := New(relay, source, zap.NewNop().Sugar())
	defer d.Close()
	d.SetEnabled(true)

	d.Drain()
	waitFor(t, func() bool { _, c := relay.sent(); return c == 1 })
	assert.Equal(t, []string{"uid-a", "uid-b"}, relay.composites[0],
		"peers online in the same tick share one composite push")

	d.Drain()
	time.Sleep(20 * time.Millisecond)
	_, c := relay.sent()
	assert.Equal(t, 1, c, "an empty queue pushes nothing")
}

func TestPushUpdateBypassesDuplicateGuard(t *testing.T) {
	relay := &fakePusher{}
	d := New(relay, &fakeSource{}, zap.NewNop().Sugar())
	defer d.Close()
	d.SetEnabled(true)

	req := proto.CategoryUpdate{Category: proto.CategoryGag, Kind: proto.KindUnlocked, TS: 1}
	d.PushUpdate(req)
	d.PushUpdate(req)
	waitFor(t, func() bool { u, _ := relay.sent(); return u == 2 })
}

func TestEphemeralGoesToVisibleAudienceOnly(t *testing.T) {
	relay := &fakePusher{}
	source := &fakeSource{visible: []string{"uid-a", "uid-c"}}
	d := New(relay, source, zap.NewNop().Sugar())
	defer d.Close()
	d.SetEnabled(true)

	d.PushEphemeral(proto.EphemeralUpdate{Kind: "garbled-chat"})
	waitFor(t, func() bool { return relay.ephemeralCount() == 1 })
	assert.Equal(t, []string{"uid-a", "uid-c"}, relay.ephemerals[0],
		"ephemeral data reaches only the peers who can see the character")

	source.mu.Lock()
	source.visible = nil
	source.mu.Unlock()
	d.PushEphemeral(proto.EphemeralUpdate{Kind: "garbled-chat"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, relay.ephemeralCount(), "with nobody visible there is nothing to send")
}

func TestCloseIsSafeAgainstLateWork(t *testing.T) {
	relay := &fakePusher{}
	source := &fakeSource{visible: []string{"uid-a"}}
	d := New(relay, source, zap.NewNop().Sugar())
	d.SetEnabled(true)
	d.Close()

	// A subscriber goroutine may still be draining buffered change events
	// when shutdown reaches the distributor; none of these may panic.
	d.OnLocalChange(changeEvent(proto.KindApplied, "snap-1"))
	d.PushUpdate(proto.CategoryUpdate{Category: proto.CategoryGag, Kind: proto.KindUnlocked})
	d.PushComposite(nil)
	d.PushEphemeral(proto.EphemeralUpdate{Kind: "garbled-chat"})
	d.Drain()
	d.Close()

	u, c := relay.sent()
	assert.Zero(t, u)
	assert.Zero(t, c)
	assert.Zero(t, relay.ephemeralCount())
}
