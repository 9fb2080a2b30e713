package peers

import (
	"github.com/google/uuid"

	"github.com/Project-GagSpeak/gagspeak-client/internal/perms"
	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
)

// Kinkster is the registry's record of one paired peer: pairing metadata,
// the two permission buckets per direction, last-known category snapshots,
// and the derived locked-slot projection. All fields are owned by the
// registry; collaborators read through registry methods and never mutate a
// Kinkster directly.
type Kinkster struct {
	UID         string
	Alias       string
	PairedSince int64

	Online bool
	// Visible means the host is currently rendering this peer's character.
	// Implies nothing about Online on its own, but going offline clears it.
	Visible bool
	// handle is the transient presence binding (the in-world object the
	// host resolved for this peer). Cleared on offline.
	handle string

	// OwnPerms is what the local user allows this peer; TheirPerms is what
	// this peer allows the local user.
	OwnPerms    perms.PairState
	TheirPerms  perms.PairState
	TheirGlobal perms.GlobalPerms

	LastComposite proto.CompositeState

	Projection LockedSlots
}

// SlotClaim is one resolved entry of the locked-slot projection: which item
// holds an equipment slot and through which category it won.
type SlotClaim struct {
	Item     uuid.UUID
	Category proto.Category
	Label    string
}

// LockedSlots maps an equipment slot name to the claim that won it.
type LockedSlots map[string]SlotClaim

// IsPaused reports whether either side paused the pairing.
func (k *Kinkster) IsPaused() bool {
	return k.OwnPerms.Perms.IsPaused || k.TheirPerms.Perms.IsPaused
}

// Handle returns the bound presence handle, empty when offline or unbound.
func (k *Kinkster) Handle() string { return k.handle }

// clone returns a detached copy safe to hand out of the registry lock.
// The projection map and the cursed-slot list are the only reference
// fields a snapshot carries.
func (k *Kinkster) clone() Kinkster {
	out := *k
	if k.Projection != nil {
		out.Projection = make(LockedSlots, len(k.Projection))
		for slot, claim := range k.Projection {
			out.Projection[slot] = claim
		}
	}
	if len(k.LastComposite.Cursed) > 0 {
		out.LastComposite.Cursed = append([]proto.SlotState(nil), k.LastComposite.Cursed...)
	}
	return out
}
