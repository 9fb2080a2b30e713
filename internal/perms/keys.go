package perms

import (
	"encoding/json"
	"fmt"
	"time"
)

// Key names a single patchable permission field. Keys are resolved through
// the applier tables below, never through reflection, so an unknown or
// renamed field is impossible to apply by construction.
type Key string

// Pair permission keys.
const (
	KeyIsPaused Key = "isPaused"

	KeyApplyGags  Key = "applyGags"
	KeyLockGags   Key = "lockGags"
	KeyMaxGagTime Key = "maxGagTime"
	KeyUnlockGags Key = "unlockGags"
	KeyRemoveGags Key = "removeGags"

	KeyApplyRestrictions  Key = "applyRestrictions"
	KeyLockRestrictions   Key = "lockRestrictions"
	KeyMaxRestrictionTime Key = "maxRestrictionTime"
	KeyUnlockRestrictions Key = "unlockRestrictions"
	KeyRemoveRestrictions Key = "removeRestrictions"

	KeyApplyRestraintSets  Key = "applyRestraintSets"
	KeyLockRestraintSets   Key = "lockRestraintSets"
	KeyMaxRestraintTime    Key = "maxRestraintTime"
	KeyUnlockRestraintSets Key = "unlockRestraintSets"
	KeyRemoveRestraintSets Key = "removeRestraintSets"

	KeyPermanentLocks  Key = "permanentLocks"
	KeyDevotionalLocks Key = "devotionalLocks"
)

// Edit-access keys.
const (
	KeyApplyGagsAllowed  Key = "applyGagsAllowed"
	KeyLockGagsAllowed   Key = "lockGagsAllowed"
	KeyMaxGagTimeAllowed Key = "maxGagTimeAllowed"
	KeyUnlockGagsAllowed Key = "unlockGagsAllowed"
	KeyRemoveGagsAllowed Key = "removeGagsAllowed"

	KeyApplyRestrictionsAllowed  Key = "applyRestrictionsAllowed"
	KeyLockRestrictionsAllowed   Key = "lockRestrictionsAllowed"
	KeyMaxRestrictionTimeAllowed Key = "maxRestrictionTimeAllowed"
	KeyUnlockRestrictionsAllowed Key = "unlockRestrictionsAllowed"
	KeyRemoveRestrictionsAllowed Key = "removeRestrictionsAllowed"

	KeyApplyRestraintSetsAllowed  Key = "applyRestraintSetsAllowed"
	KeyLockRestraintSetsAllowed   Key = "lockRestraintSetsAllowed"
	KeyMaxRestraintTimeAllowed    Key = "maxRestraintTimeAllowed"
	KeyUnlockRestraintSetsAllowed Key = "unlockRestraintSetsAllowed"
	KeyRemoveRestraintSetsAllowed Key = "removeRestraintSetsAllowed"

	KeyPermanentLocksAllowed  Key = "permanentLocksAllowed"
	KeyDevotionalLocksAllowed Key = "devotionalLocksAllowed"
)

// Global permission keys.
const (
	KeyChatGarblerActive  Key = "chatGarblerActive"
	KeyGagVisuals         Key = "gagVisuals"
	KeyRestrictionVisuals Key = "restrictionVisuals"
	KeyRestraintVisuals   Key = "restraintVisuals"
	KeyWardrobeEnabled    Key = "wardrobeEnabled"
)

// decodeBool accepts a JSON boolean.
func decodeBool(raw json.RawMessage) (bool, error) {
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	return v, nil
}

// decodeTicks accepts a raw integer tick count (100ns units, as the relay
// serializes spans) and converts it to a duration.
func decodeTicks(raw json.RawMessage) (time.Duration, error) {
	var ticks int64
	if err := json.Unmarshal(raw, &ticks); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	if ticks < 0 {
		return 0, fmt.Errorf("%w: negative tick count %d", ErrBadValue, ticks)
	}
	return time.Duration(ticks) * 100 * time.Nanosecond, nil
}

func boolPair(set func(*PairPerms, bool)) func(*PairPerms, json.RawMessage) error {
	return func(p *PairPerms, raw json.RawMessage) error {
		v, err := decodeBool(raw)
		if err != nil {
			return err
		}
		set(p, v)
		return nil
	}
}

func durPair(set func(*PairPerms, time.Duration)) func(*PairPerms, json.RawMessage) error {
	return func(p *PairPerms, raw json.RawMessage) error {
		v, err := decodeTicks(raw)
		if err != nil {
			return err
		}
		set(p, v)
		return nil
	}
}

func boolAccess(set func(*EditAccess, bool)) func(*EditAccess, json.RawMessage) error {
	return func(a *EditAccess, raw json.RawMessage) error {
		v, err := decodeBool(raw)
		if err != nil {
			return err
		}
		set(a, v)
		return nil
	}
}

func boolGlobal(set func(*GlobalPerms, bool)) func(*GlobalPerms, json.RawMessage) error {
	return func(g *GlobalPerms, raw json.RawMessage) error {
		v, err := decodeBool(raw)
		if err != nil {
			return err
		}
		set(g, v)
		return nil
	}
}

var pairAppliers = map[Key]func(*PairPerms, json.RawMessage) error{
	KeyIsPaused: boolPair(func(p *PairPerms, v bool) { p.IsPaused = v }),

	KeyApplyGags:  boolPair(func(p *PairPerms, v bool) { p.ApplyGags = v }),
	KeyLockGags:   boolPair(func(p *PairPerms, v bool) { p.LockGags = v }),
	KeyMaxGagTime: durPair(func(p *PairPerms, v time.Duration) { p.MaxGagTime = v }),
	KeyUnlockGags: boolPair(func(p *PairPerms, v bool) { p.UnlockGags = v }),
	KeyRemoveGags: boolPair(func(p *PairPerms, v bool) { p.RemoveGags = v }),

	KeyApplyRestrictions:  boolPair(func(p *PairPerms, v bool) { p.ApplyRestrictions = v }),
	KeyLockRestrictions:   boolPair(func(p *PairPerms, v bool) { p.LockRestrictions = v }),
	KeyMaxRestrictionTime: durPair(func(p *PairPerms, v time.Duration) { p.MaxRestrictionTime = v }),
	KeyUnlockRestrictions: boolPair(func(p *PairPerms, v bool) { p.UnlockRestrictions = v }),
	KeyRemoveRestrictions: boolPair(func(p *PairPerms, v bool) { p.RemoveRestrictions = v }),

	KeyApplyRestraintSets:  boolPair(func(p *PairPerms, v bool) { p.ApplyRestraintSets = v }),
	KeyLockRestraintSets:   boolPair(func(p *PairPerms, v bool) { p.LockRestraintSets = v }),
	KeyMaxRestraintTime:    durPair(func(p *PairPerms, v time.Duration) { p.MaxRestraintTime = v }),
	KeyUnlockRestraintSets: boolPair(func(p *PairPerms, v bool) { p.UnlockRestraintSets = v }),
	KeyRemoveRestraintSets: boolPair(func(p *PairPerms, v bool) { p.RemoveRestraintSets = v }),

	KeyPermanentLocks:  boolPair(func(p *PairPerms, v bool) { p.PermanentLocks = v }),
	KeyDevotionalLocks: boolPair(func(p *PairPerms, v bool) { p.DevotionalLocks = v }),
}

var accessAppliers = map[Key]func(*EditAccess, json.RawMessage) error{
	KeyApplyGagsAllowed:  boolAccess(func(a *EditAccess, v bool) { a.ApplyGagsAllowed = v }),
	KeyLockGagsAllowed:   boolAccess(func(a *EditAccess, v bool) { a.LockGagsAllowed = v }),
	KeyMaxGagTimeAllowed: boolAccess(func(a *EditAccess, v bool) { a.MaxGagTimeAllowed = v }),
	KeyUnlockGagsAllowed: boolAccess(func(a *EditAccess, v bool) { a.UnlockGagsAllowed = v }),
	KeyRemoveGagsAllowed: boolAccess(func(a *EditAccess, v bool) { a.RemoveGagsAllowed = v }),

	KeyApplyRestrictionsAllowed:  boolAccess(func(a *EditAccess, v bool) { a.ApplyRestrictionsAllowed = v }),
	KeyLockRestrictionsAllowed:   boolAccess(func(a *EditAccess, v bool) { a.LockRestrictionsAllowed = v }),
	KeyMaxRestrictionTimeAllowed: boolAccess(func(a *EditAccess, v bool) { a.MaxRestrictionTimeAllowed = v }),
	KeyUnlockRestrictionsAllowed: boolAccess(func(a *EditAccess, v bool) { a.UnlockRestrictionsAllowed = v }),
	KeyRemoveRestrictionsAllowed: boolAccess(func(a *EditAccess, v bool) { a.RemoveRestrictionsAllowed = v }),

	KeyApplyRestraintSetsAllowed:  boolAccess(func(a *EditAccess, v bool) { a.ApplyRestraintSetsAllowed = v }),
	KeyLockRestraintSetsAllowed:   boolAccess(func(a *EditAccess, v bool) { a.LockRestraintSetsAllowed = v }),
	KeyMaxRestraintTimeAllowed:    boolAccess(func(a *EditAccess, v bool) { a.MaxRestraintTimeAllowed = v }),
	KeyUnlockRestraintSetsAllowed: boolAccess(func(a *EditAccess, v bool) { a.UnlockRestraintSetsAllowed = v }),
	KeyRemoveRestraintSetsAllowed: boolAccess(func(a *EditAccess, v bool) { a.RemoveRestraintSetsAllowed = v }),

	KeyPermanentLocksAllowed:  boolAccess(func(a *EditAccess, v bool) { a.PermanentLocksAllowed = v }),
	KeyDevotionalLocksAllowed: boolAccess(func(a *EditAccess, v bool) { a.DevotionalLocksAllowed = v }),
}

var globalAppliers = map[Key]func(*GlobalPerms, json.RawMessage) error{
	KeyChatGarblerActive:  boolGlobal(func(g *GlobalPerms, v bool) { g.ChatGarblerActive = v }),
	KeyGagVisuals:         boolGlobal(func(g *GlobalPerms, v bool) { g.GagVisuals = v }),
	KeyRestrictionVisuals: boolGlobal(func(g *GlobalPerms, v bool) { g.RestrictionVisual = v }),
	KeyRestraintVisuals:   boolGlobal(func(g *GlobalPerms, v bool) { g.RestraintVisuals = v }),
	KeyWardrobeEnabled:    boolGlobal(func(g *GlobalPerms, v bool) { g.WardrobeEnabled = v }),
}
