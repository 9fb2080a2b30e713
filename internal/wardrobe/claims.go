package wardrobe

import (
	"slices"

	"github.com/google/uuid"
)

// Precedence ranks an item's claims against competing claims on the same
// visual resource. Higher wins; ties resolve by slot order.
type Precedence int

const (
	PrecVeryLow Precedence = iota
	PrecLow
	PrecNormal
	PrecHigh
	PrecVeryHigh
	PrecHighest
)

func (p Precedence) String() string {
	switch p {
	case PrecVeryLow:
		return "very-low"
	case PrecLow:
		return "low"
	case PrecNormal:
		return "normal"
	case PrecHigh:
		return "high"
	case PrecVeryHigh:
		return "very-high"
	case PrecHighest:
		return "highest"
	}
	return "unknown"
}

// EquipSlot names one of the mutually exclusive equipment slots an item can
// claim on the character.
type EquipSlot string

const (
	SlotHead   EquipSlot = "head"
	SlotBody   EquipSlot = "body"
	SlotHands  EquipSlot = "hands"
	SlotLegs   EquipSlot = "legs"
	SlotFeet   EquipSlot = "feet"
	SlotEars   EquipSlot = "ears"
	SlotNeck   EquipSlot = "neck"
	SlotWrists EquipSlot = "wrists"
	SlotRingL  EquipSlot = "ring-l"
	SlotRingR  EquipSlot = "ring-r"
)

// TriState is the head/visor/weapon toggle an item may force: leave alone,
// force hidden, or force shown.
type TriState int

const (
	TriUnchanged TriState = iota
	TriOff
	TriOn
)

// ClaimSet is the full set of visual-effect claims one source makes:
// equipment glamours, mod references, the three forced toggles, moodle
// references and an optional cosmetic-profile reference. The zero value
// claims nothing.
type ClaimSet struct {
	Glamour  map[EquipSlot]string `json:"glamour,omitempty"`
	Mods     []string             `json:"mods,omitempty"`
	Headgear TriState             `json:"headgear,omitempty"`
	Visor    TriState             `json:"visor,omitempty"`
	Weapon   TriState             `json:"weapon,omitempty"`
	Moodles  []uuid.UUID          `json:"moodles,omitempty"`
	Profile  uuid.UUID            `json:"profile,omitempty"`
}

// IsEmpty reports whether the set claims nothing at all.
func (c ClaimSet) IsEmpty() bool {
	return len(c.Glamour) == 0 && len(c.Mods) == 0 &&
		c.Headgear == TriUnchanged && c.Visor == TriUnchanged && c.Weapon == TriUnchanged &&
		len(c.Moodles) == 0 && c.Profile == uuid.Nil
}

// Clone returns a deep copy.
func (c ClaimSet) Clone() ClaimSet {
	out := c
	if c.Glamour != nil {
		out.Glamour = make(map[EquipSlot]string, len(c.Glamour))
		for k, v := range c.Glamour {
			out.Glamour[k] = v
		}
	}
	out.Mods = slices.Clone(c.Mods)
	out.Moodles = slices.Clone(c.Moodles)
	return out
}

// Equal reports claim-for-claim equality. Moodle and mod order is not
// significant.
func (c ClaimSet) Equal(o ClaimSet) bool {
	if len(c.Glamour) != len(o.Glamour) || len(c.Mods) != len(o.Mods) || len(c.Moodles) != len(o.Moodles) {
		return false
	}
	if c.Headgear != o.Headgear || c.Visor != o.Visor || c.Weapon != o.Weapon || c.Profile != o.Profile {
		return false
	}
	for k, v := range c.Glamour {
		if o.Glamour[k] != v {
			return false
		}
	}
	for _, m := range c.Mods {
		if !slices.Contains(o.Mods, m) {
			return false
		}
	}
	for _, m := range c.Moodles {
		if !slices.Contains(o.Moodles, m) {
			return false
		}
	}
	return true
}

func (c *ClaimSet) setGlamour(slot EquipSlot, item string) {
	if c.Glamour == nil {
		c.Glamour = make(map[EquipSlot]string)
	}
	c.Glamour[slot] = item
}

func (c *ClaimSet) addMod(mod string) {
	if !slices.Contains(c.Mods, mod) {
		c.Mods = append(c.Mods, mod)
	}
}

func (c *ClaimSet) addMoodle(id uuid.UUID) {
	if !slices.Contains(c.Moodles, id) {
		c.Moodles = append(c.Moodles, id)
	}
}
