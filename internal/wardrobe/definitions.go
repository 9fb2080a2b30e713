package wardrobe

import (
	"slices"

	"github.com/google/uuid"
)

// GagDefinition is a named, reusable gag template authored by the local
// user. Field names follow the persisted file format.
type GagDefinition struct {
	ID     uuid.UUID  `json:"Identifier"`
	Label  string     `json:"Label"`
	Rank   Precedence `json:"Precedence"`
	Claims ClaimSet   `json:"Claims"`
}

func (d *GagDefinition) ItemID() uuid.UUID    { return d.ID }
func (d *GagDefinition) ItemLabel() string    { return d.Label }
func (d *GagDefinition) ItemRank() Precedence { return d.Rank }
func (d *GagDefinition) ItemClaims() ClaimSet { return d.Claims }

// Clone returns a deep copy for the edit buffer.
func (d *GagDefinition) Clone() *GagDefinition {
	out := *d
	out.Claims = d.Claims.Clone()
	return &out
}

// RestrictionDefinition is a named, reusable restriction-item template.
type RestrictionDefinition struct {
	ID     uuid.UUID  `json:"Identifier"`
	Label  string     `json:"Label"`
	Rank   Precedence `json:"Precedence"`
	Claims ClaimSet   `json:"Claims"`
}

func (d *RestrictionDefinition) ItemID() uuid.UUID    { return d.ID }
func (d *RestrictionDefinition) ItemLabel() string    { return d.Label }
func (d *RestrictionDefinition) ItemRank() Precedence { return d.Rank }
func (d *RestrictionDefinition) ItemClaims() ClaimSet { return d.Claims }

func (d *RestrictionDefinition) Clone() *RestrictionDefinition {
	out := *d
	out.Claims = d.Claims.Clone()
	return &out
}

// RestraintLayer is one optional sub-layer of a restraint set, toggled
// through the set's layer bitfield.
type RestraintLayer struct {
	ID     uuid.UUID `json:"Identifier"`
	Label  string    `json:"Label"`
	Claims ClaimSet  `json:"Claims"`
}

// RestraintDefinition is a full restraint set: base claims plus sub-layers.
type RestraintDefinition struct {
	ID     uuid.UUID        `json:"Identifier"`
	Label  string           `json:"Label"`
	Rank   Precedence       `json:"Precedence"`
	Claims ClaimSet         `json:"Claims"`
	Layers []RestraintLayer `json:"Layers,omitempty"`
}

func (d *RestraintDefinition) ItemID() uuid.UUID    { return d.ID }
func (d *RestraintDefinition) ItemLabel() string    { return d.Label }
func (d *RestraintDefinition) ItemRank() Precedence { return d.Rank }
func (d *RestraintDefinition) ItemClaims() ClaimSet { return d.Claims }

func (d *RestraintDefinition) Clone() *RestraintDefinition {
	out := *d
	out.Claims = d.Claims.Clone()
	out.Layers = slices.Clone(d.Layers)
	for i := range out.Layers {
		out.Layers[i].Claims = d.Layers[i].Claims.Clone()
	}
	return &out
}
