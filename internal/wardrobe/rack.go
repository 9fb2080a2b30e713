package wardrobe

import (
	"time"

	"github.com/google/uuid"

	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
)

// Item is anything a slot can hold: a user-authored definition with an
// identity, a precedence rank, and the visual claims it makes.
type Item interface {
	ItemID() uuid.UUID
	ItemLabel() string
	ItemRank() Precedence
	ItemClaims() ClaimSet
}

// Slot is one element of a category's fixed slot array.
type Slot struct {
	Item    Item
	Enabler string
	Lock    Lock

	// sweptAt marks that the expiry sweep already synthesized an unlock
	// request for the current lock, so consecutive sweeps stay quiet until
	// the lock actually changes.
	swept bool
}

// Occupied reports whether the slot holds an item.
func (s Slot) Occupied() bool { return s.Item != nil }

// Rack is the guarded slot array shared by the layered category stores.
// Transitions that violate a guard return false and change nothing; callers
// log the rejection at debug level since stale or duplicate network
// deliveries make these routine.
type Rack struct {
	slots []Slot
}

func NewRack(n int) *Rack {
	return &Rack{slots: make([]Slot, n)}
}

func (r *Rack) valid(layer int) bool { return layer >= 0 && layer < len(r.slots) }

// Len returns the number of layers.
func (r *Rack) Len() int { return len(r.slots) }

// Get returns the slot at layer.
func (r *Rack) Get(layer int) (Slot, bool) {
	if !r.valid(layer) {
		return Slot{}, false
	}
	return r.slots[layer], true
}

// Apply places item into an empty slot.
func (r *Rack) Apply(layer int, item Item, enactor string) bool {
	if !r.valid(layer) || item == nil || r.slots[layer].Occupied() {
		return false
	}
	r.slots[layer] = Slot{Item: item, Enabler: enactor}
	return true
}

// Swap atomically replaces the item in an occupied, unlocked slot and
// returns the previous item.
func (r *Rack) Swap(layer int, item Item, enactor string) (Item, bool) {
	if !r.valid(layer) || item == nil {
		return nil, false
	}
	s := r.slots[layer]
	if !s.Occupied() || s.Lock.IsLocked() {
		return nil, false
	}
	prev := s.Item
	r.slots[layer] = Slot{Item: item, Enabler: enactor}
	return prev, true
}

// Remove clears an occupied, unlocked slot and returns the removed item.
func (r *Rack) Remove(layer int) (Item, bool) {
	if !r.valid(layer) {
		return nil, false
	}
	s := r.slots[layer]
	if !s.Occupied() || s.Lock.IsLocked() {
		return nil, false
	}
	removed := s.Item
	r.slots[layer] = Slot{}
	return removed, true
}

// Lock attaches a padlock to an occupied, unlocked slot.
func (r *Rack) Lock(layer int, lock Lock, now time.Time) bool {
	if !r.valid(layer) {
		return false
	}
	s := &r.slots[layer]
	if !s.Occupied() || s.Lock.IsLocked() || !validLock(lock, now) {
		return false
	}
	s.Lock = lock
	s.swept = false
	return true
}

// Unlock removes the padlock when the intent permits it.
func (r *Rack) Unlock(layer int, in UnlockIntent, now time.Time) bool {
	if !r.valid(layer) {
		return false
	}
	s := &r.slots[layer]
	if !s.Lock.IsLocked() || !s.Lock.Permits(in, now) {
		return false
	}
	s.Lock = Lock{}
	s.swept = false
	return true
}

// ExpiredLocks returns the layers whose timer locks have expired and have
// not yet been reported by a sweep, marking them reported.
func (r *Rack) ExpiredLocks(now time.Time) []int {
	var out []int
	for i := range r.slots {
		s := &r.slots[i]
		if s.Lock.IsLocked() && s.Lock.Expired(now) && !s.swept {
			s.swept = true
			out = append(out, i)
		}
	}
	return out
}

// Active returns the ranked claim contributions of every occupied slot.
func (r *Rack) Active() []RankedClaims {
	var out []RankedClaims
	for i, s := range r.slots {
		if s.Occupied() {
			out = append(out, RankedClaims{Claims: s.Item.ItemClaims(), Rank: s.Item.ItemRank(), Order: i})
		}
	}
	return out
}

// activeExcept is Active without the given layer, used for delta scans.
func (r *Rack) activeExcept(layer int) []RankedClaims {
	var out []RankedClaims
	for i, s := range r.slots {
		if i != layer && s.Occupied() {
			out = append(out, RankedClaims{Claims: s.Item.ItemClaims(), Rank: s.Item.ItemRank(), Order: i})
		}
	}
	return out
}

// SlotStates renders the rack in wire form.
func (r *Rack) SlotStates() []proto.SlotState {
	out := make([]proto.SlotState, len(r.slots))
	for i, s := range r.slots {
		if s.Occupied() {
			out[i] = proto.SlotState{Item: s.Item.ItemID(), Enabler: s.Enabler, Lock: s.Lock.Data()}
		} else {
			out[i] = proto.SlotState{Lock: proto.LockData{Padlock: proto.PadlockNone}}
		}
	}
	return out
}
