// Package wardrobe owns the local user's category state: reusable
// definitions, the active slot arrays with their padlocks, and the
// precedence-composed visual cache derived from them.
package wardrobe

import (
	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
)

// ChangeEvent is published on a store's feed after every committed slot
// mutation. Applied and Reverted carry only the visual-claim delta the
// bridges should enact, never the full claim set.
type ChangeEvent struct {
	Update   proto.CategoryUpdate
	Applied  ClaimSet
	Reverted ClaimSet
	Payload  any // category snapshot in wire form
}

// OccupancyQuery is the narrow read-only view a store exposes to its
// sibling categories so cross-category claim conflicts can be checked
// without mutual store references.
type OccupancyQuery interface {
	ActiveClaims() []RankedClaims
}

// gatherClaims flattens sibling occupancy into one slice. Sibling orders
// are offset so they never tie-break against local slots.
func gatherClaims(siblings []OccupancyQuery) []RankedClaims {
	var out []RankedClaims
	base := 1000
	for _, q := range siblings {
		for _, rc := range q.ActiveClaims() {
			rc.Order += base
			out = append(out, rc)
		}
		base += 1000
	}
	return out
}
