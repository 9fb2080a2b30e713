package perms

import (
	"encoding/json"
	"errors"
	"time"
)

// Permission scopes and directions as they appear on the wire.
const (
	ScopeGlobal Scope = "global"
	ScopePair   Scope = "pair"
	ScopeAccess Scope = "edit-access"

	DirectionOwn   Direction = "own"
	DirectionOther Direction = "other"
)

type Scope string
type Direction string

var (
	// ErrUnknownField is returned when a change names a field that does not
	// exist in the targeted scope. The change is rejected without mutation.
	ErrUnknownField = errors.New("unknown permission field")

	// ErrBadValue is returned when a field value cannot be converted to the
	// field's type. The change is rejected without mutation.
	ErrBadValue = errors.New("unconvertible permission value")

	// ErrBadScope is returned for a change whose scope tag is not recognized.
	ErrBadScope = errors.New("unknown permission scope")
)

// PairPerms is what one side of a pairing allows the other side to do.
// Every field is patchable individually through a Key, or replaced wholesale
// through a bulk change.
type PairPerms struct {
	IsPaused bool `json:"isPaused"`

	ApplyGags  bool          `json:"applyGags"`
	LockGags   bool          `json:"lockGags"`
	MaxGagTime time.Duration `json:"maxGagTime"`
	UnlockGags bool          `json:"unlockGags"`
	RemoveGags bool          `json:"removeGags"`

	ApplyRestrictions  bool          `json:"applyRestrictions"`
	LockRestrictions   bool          `json:"lockRestrictions"`
	MaxRestrictionTime time.Duration `json:"maxRestrictionTime"`
	UnlockRestrictions bool          `json:"unlockRestrictions"`
	RemoveRestrictions bool          `json:"removeRestrictions"`

	ApplyRestraintSets  bool          `json:"applyRestraintSets"`
	LockRestraintSets   bool          `json:"lockRestraintSets"`
	MaxRestraintTime    time.Duration `json:"maxRestraintTime"`
	UnlockRestraintSets bool          `json:"unlockRestraintSets"`
	RemoveRestraintSets bool          `json:"removeRestraintSets"`

	PermanentLocks  bool `json:"permanentLocks"`
	DevotionalLocks bool `json:"devotionalLocks"`
}

// EditAccess gates which of the pair permissions the other side may change.
// Field layout mirrors PairPerms one-to-one.
type EditAccess struct {
	ApplyGagsAllowed  bool `json:"applyGagsAllowed"`
	LockGagsAllowed   bool `json:"lockGagsAllowed"`
	MaxGagTimeAllowed bool `json:"maxGagTimeAllowed"`
	UnlockGagsAllowed bool `json:"unlockGagsAllowed"`
	RemoveGagsAllowed bool `json:"removeGagsAllowed"`

	ApplyRestrictionsAllowed  bool `json:"applyRestrictionsAllowed"`
	LockRestrictionsAllowed   bool `json:"lockRestrictionsAllowed"`
	MaxRestrictionTimeAllowed bool `json:"maxRestrictionTimeAllowed"`
	UnlockRestrictionsAllowed bool `json:"unlockRestrictionsAllowed"`
	RemoveRestrictionsAllowed bool `json:"removeRestrictionsAllowed"`

	ApplyRestraintSetsAllowed  bool `json:"applyRestraintSetsAllowed"`
	LockRestraintSetsAllowed   bool `json:"lockRestraintSetsAllowed"`
	MaxRestraintTimeAllowed    bool `json:"maxRestraintTimeAllowed"`
	UnlockRestraintSetsAllowed bool `json:"unlockRestraintSetsAllowed"`
	RemoveRestraintSetsAllowed bool `json:"removeRestraintSetsAllowed"`

	PermanentLocksAllowed  bool `json:"permanentLocksAllowed"`
	DevotionalLocksAllowed bool `json:"devotionalLocksAllowed"`
}

// GlobalPerms are a user's account-wide toggles, visible to every pair.
type GlobalPerms struct {
	ChatGarblerActive bool `json:"chatGarblerActive"`
	GagVisuals        bool `json:"gagVisuals"`
	RestrictionVisual bool `json:"restrictionVisuals"`
	RestraintVisuals  bool `json:"restraintVisuals"`
	WardrobeEnabled   bool `json:"wardrobeEnabled"`
}

// PairState bundles the two permission buckets kept per pairing direction.
type PairState struct {
	Perms  PairPerms  `json:"perms"`
	Access EditAccess `json:"access"`
}

// Change is the permission-change envelope exchanged with the relay.
// Exactly one of (Field, Value) or Bulk is set.
type Change struct {
	Target    string          `json:"target"`
	Direction Direction       `json:"direction"`
	Scope     Scope           `json:"scope"`
	Field     Key             `json:"field,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Bulk      json.RawMessage `json:"bulk,omitempty"`
	Enactor   string          `json:"enactor,omitempty"`
	TS        int64           `json:"ts"`
}

// IsBulk reports whether the change replaces the whole scope object.
func (c Change) IsBulk() bool { return len(c.Bulk) > 0 }

// ApplyToPair patches a PairPerms object with a single-field change.
func ApplyToPair(p *PairPerms, key Key, raw json.RawMessage) error {
	fn, ok := pairAppliers[key]
	if !ok {
		return ErrUnknownField
	}
	return fn(p, raw)
}

// ApplyToAccess patches an EditAccess object with a single-field change.
func ApplyToAccess(a *EditAccess, key Key, raw json.RawMessage) error {
	fn, ok := accessAppliers[key]
	if !ok {
		return ErrUnknownField
	}
	return fn(a, raw)
}

// ApplyToGlobal patches a GlobalPerms object with a single-field change.
func ApplyToGlobal(g *GlobalPerms, key Key, raw json.RawMessage) error {
	fn, ok := globalAppliers[key]
	if !ok {
		return ErrUnknownField
	}
	return fn(g, raw)
}
