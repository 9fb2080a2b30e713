package wardrobe

import (
	"slices"

	"github.com/google/uuid"
)

// RankedClaims is one contribution to a composition: a claim set, its
// precedence, and a stable order index used to break precedence ties
// (lower index wins). External holds such as cursed loot enter the fold as
// RankedClaims at PrecHighest.
type RankedClaims struct {
	Claims ClaimSet
	Rank   Precedence
	Order  int
}

// Compose folds claim sources into a single non-conflicting claim set.
// The result depends only on the source set, never on mutation order:
// sources are sorted by rank (descending) then order (ascending) and folded
// first-wins per exclusive resource. Moodles and mods are unions.
func Compose(sources []RankedClaims) ClaimSet {
	sorted := slices.Clone(sources)
	slices.SortStableFunc(sorted, func(a, b RankedClaims) int {
		if a.Rank != b.Rank {
			return int(b.Rank - a.Rank)
		}
		return a.Order - b.Order
	})

	var out ClaimSet
	for _, src := range sorted {
		for slot, item := range src.Claims.Glamour {
			if _, taken := out.Glamour[slot]; !taken {
				out.setGlamour(slot, item)
			}
		}
		if out.Headgear == TriUnchanged {
			out.Headgear = src.Claims.Headgear
		}
		if out.Visor == TriUnchanged {
			out.Visor = src.Claims.Visor
		}
		if out.Weapon == TriUnchanged {
			out.Weapon = src.Claims.Weapon
		}
		if out.Profile == uuid.Nil {
			out.Profile = src.Claims.Profile
		}
		for _, m := range src.Claims.Mods {
			out.addMod(m)
		}
		for _, m := range src.Claims.Moodles {
			out.addMoodle(m)
		}
	}
	return out
}

// applyDelta computes the claims of next that should actually be forwarded
// to the bridges: a claim is suppressed when a strictly higher-precedence
// source already claims the same sub-resource, or when any other source
// claims the identical resource.
func applyDelta(next RankedClaims, others []RankedClaims) ClaimSet {
	var out ClaimSet

	for slot, item := range next.Claims.Glamour {
		suppressed := false
		for _, o := range others {
			got, ok := o.Claims.Glamour[slot]
			if !ok {
				continue
			}
			if o.Rank > next.Rank || got == item {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out.setGlamour(slot, item)
		}
	}

	out.Headgear = triDelta(next.Claims.Headgear, next.Rank, others, func(c ClaimSet) TriState { return c.Headgear })
	out.Visor = triDelta(next.Claims.Visor, next.Rank, others, func(c ClaimSet) TriState { return c.Visor })
	out.Weapon = triDelta(next.Claims.Weapon, next.Rank, others, func(c ClaimSet) TriState { return c.Weapon })

	for _, mod := range next.Claims.Mods {
		if !anyClaimsMod(others, mod) {
			out.addMod(mod)
		}
	}
	for _, moodle := range next.Claims.Moodles {
		if !anyClaimsMoodle(others, moodle) {
			out.addMoodle(moodle)
		}
	}

	if next.Claims.Profile != uuid.Nil {
		suppressed := false
		for _, o := range others {
			if o.Claims.Profile == uuid.Nil {
				continue
			}
			if o.Rank > next.Rank || o.Claims.Profile == next.Claims.Profile {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out.Profile = next.Claims.Profile
		}
	}
	return out
}

// removeDelta computes the claims the removed source owned that should now
// be reverted: claims no remaining source still makes on the same resource.
func removeDelta(removed ClaimSet, remaining []RankedClaims) ClaimSet {
	var out ClaimSet

	for slot, item := range removed.Glamour {
		stillClaimed := false
		for _, o := range remaining {
			if _, ok := o.Claims.Glamour[slot]; ok {
				stillClaimed = true
				break
			}
		}
		if !stillClaimed {
			out.setGlamour(slot, item)
		}
	}

	if removed.Headgear != TriUnchanged && !anySetsTri(remaining, func(c ClaimSet) TriState { return c.Headgear }) {
		out.Headgear = removed.Headgear
	}
	if removed.Visor != TriUnchanged && !anySetsTri(remaining, func(c ClaimSet) TriState { return c.Visor }) {
		out.Visor = removed.Visor
	}
	if removed.Weapon != TriUnchanged && !anySetsTri(remaining, func(c ClaimSet) TriState { return c.Weapon }) {
		out.Weapon = removed.Weapon
	}

	for _, mod := range removed.Mods {
		if !anyClaimsMod(remaining, mod) {
			out.addMod(mod)
		}
	}
	for _, moodle := range removed.Moodles {
		if !anyClaimsMoodle(remaining, moodle) {
			out.addMoodle(moodle)
		}
	}

	if removed.Profile != uuid.Nil {
		stillClaimed := false
		for _, o := range remaining {
			if o.Claims.Profile != uuid.Nil {
				stillClaimed = true
				break
			}
		}
		if !stillClaimed {
			out.Profile = removed.Profile
		}
	}
	return out
}

// mergeClaims unions b into a. On an exclusive-resource collision a wins;
// callers accumulate deltas over disjoint sub-resources so collisions do
// not arise in practice.
func mergeClaims(a, b ClaimSet) ClaimSet {
	out := a.Clone()
	for slot, item := range b.Glamour {
		if _, taken := out.Glamour[slot]; !taken {
			out.setGlamour(slot, item)
		}
	}
	if out.Headgear == TriUnchanged {
		out.Headgear = b.Headgear
	}
	if out.Visor == TriUnchanged {
		out.Visor = b.Visor
	}
	if out.Weapon == TriUnchanged {
		out.Weapon = b.Weapon
	}
	if out.Profile == uuid.Nil {
		out.Profile = b.Profile
	}
	for _, m := range b.Mods {
		out.addMod(m)
	}
	for _, m := range b.Moodles {
		out.addMoodle(m)
	}
	return out
}

func triDelta(v TriState, rank Precedence, others []RankedClaims, get func(ClaimSet) TriState) TriState {
	if v == TriUnchanged {
		return TriUnchanged
	}
	for _, o := range others {
		got := get(o.Claims)
		if got == TriUnchanged {
			continue
		}
		if o.Rank > rank || got == v {
			return TriUnchanged
		}
	}
	return v
}

func anySetsTri(sources []RankedClaims, get func(ClaimSet) TriState) bool {
	for _, o := range sources {
		if get(o.Claims) != TriUnchanged {
			return true
		}
	}
	return false
}

func anyClaimsMod(sources []RankedClaims, mod string) bool {
	for _, o := range sources {
		if slices.Contains(o.Claims.Mods, mod) {
			return true
		}
	}
	return false
}

func anyClaimsMoodle(sources []RankedClaims, moodle uuid.UUID) bool {
	for _, o := range sources {
		if slices.Contains(o.Claims.Moodles, moodle) {
			return true
		}
	}
	return false
}
