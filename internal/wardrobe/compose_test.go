package wardrobe

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimHead(item string) ClaimSet {
	return ClaimSet{Glamour: map[EquipSlot]string{SlotHead: item}}
}

func TestComposeOrderIndependence(t *testing.T) {
	low := RankedClaims{Claims: claimHead("leather-hood"), Rank: PrecLow, Order: 0}
	high := RankedClaims{Claims: claimHead("steel-helm"), Rank: PrecHigh, Order: 1}

	a := Compose([]RankedClaims{low, high})
	b := Compose([]RankedClaims{high, low})

	assert.Equal(t, "steel-helm", a.Glamour[SlotHead])
	assert.True(t, a.Equal(b), "composition must not depend on source order")
}

func TestComposeTieBreaksByOrder(t *testing.T) {
	first := RankedClaims{Claims: claimHead("first"), Rank: PrecNormal, Order: 0}
	second := RankedClaims{Claims: claimHead("second"), Rank: PrecNormal, Order: 1}

	out := Compose([]RankedClaims{second, first})
	assert.Equal(t, "first", out.Glamour[SlotHead])
}

func TestComposeUnionsModsAndMoodles(t *testing.T) {
	m1, m2 := uuid.New(), uuid.New()
	a := RankedClaims{Claims: ClaimSet{Mods: []string{"muffle"}, Moodles: []uuid.UUID{m1}}, Rank: PrecLow}
	b := RankedClaims{Claims: ClaimSet{Mods: []string{"muffle", "drool"}, Moodles: []uuid.UUID{m2}}, Rank: PrecHigh}

	out := Compose([]RankedClaims{a, b})
	assert.ElementsMatch(t, []string{"muffle", "drool"}, out.Mods)
	assert.ElementsMatch(t, []uuid.UUID{m1, m2}, out.Moodles)
}

func TestApplyDeltaSuppressesHigherRank(t *testing.T) {
	next := RankedClaims{Claims: claimHead("cloth-hood"), Rank: PrecLow}
	others := []RankedClaims{{Claims: claimHead("steel-helm"), Rank: PrecHigh}}

	delta := applyDelta(next, others)
	assert.True(t, delta.IsEmpty(), "claim under a higher-rank holder must not be forwarded")
}

func TestApplyDeltaSuppressesIdenticalClaim(t *testing.T) {
	next := RankedClaims{Claims: claimHead("steel-helm"), Rank: PrecHigh}
	others := []RankedClaims{{Claims: claimHead("steel-helm"), Rank: PrecLow}}

	delta := applyDelta(next, others)
	assert.True(t, delta.IsEmpty(), "identical claim from another source must not be re-applied")
}

func TestApplyDeltaWinsOverLowerRank(t *testing.T) {
	next := RankedClaims{Claims: claimHead("steel-helm"), Rank: PrecHigh}
	others := []RankedClaims{{Claims: claimHead("cloth-hood"), Rank: PrecLow}}

	delta := applyDelta(next, others)
	require.NotNil(t, delta.Glamour)
	assert.Equal(t, "steel-helm", delta.Glamour[SlotHead])
}

func TestRemoveDeltaKeepsSharedResources(t *testing.T) {
	removed := ClaimSet{
		Glamour: map[EquipSlot]string{SlotHead: "hood", SlotHands: "mitts"},
		Mods:    []string{"muffle"},
	}
	remaining := []RankedClaims{{Claims: claimHead("other-hood"), Rank: PrecLow}}

	delta := removeDelta(removed, remaining)
	_, headReverted := delta.Glamour[SlotHead]
	assert.False(t, headReverted, "head is still claimed by a remaining source")
	assert.Equal(t, "mitts", delta.Glamour[SlotHands])
	assert.Equal(t, []string{"muffle"}, delta.Mods)
}

func TestTriStateDeltas(t *testing.T) {
	next := RankedClaims{Claims: ClaimSet{Headgear: TriOff}, Rank: PrecNormal}

	assert.Equal(t, TriOff, applyDelta(next, nil).Headgear)

	others := []RankedClaims{{Claims: ClaimSet{Headgear: TriOff}, Rank: PrecLow}}
	assert.Equal(t, TriUnchanged, applyDelta(next, others).Headgear)

	assert.Equal(t, TriOff, removeDelta(ClaimSet{Headgear: TriOff}, nil).Headgear)
	assert.Equal(t, TriUnchanged, removeDelta(ClaimSet{Headgear: TriOff}, others).Headgear)
}
