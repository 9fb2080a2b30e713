package proto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Project-GagSpeak/gagspeak-client/internal/perms"
)

// Category tags one of the three independently layered state categories.
type Category string

const (
	CategoryGag         Category = "gag"
	CategoryRestriction Category = "restriction"
	CategoryRestraint   Category = "restraint"
)

// Fixed slot counts per category. Restraint has a single root slot plus a
// layer bitfield carried in RestraintState.
const (
	GagSlots         = 3
	RestrictionSlots = 5
)

// UpdateKind tags what a CategoryUpdate did.
type UpdateKind string

const (
	KindApplied       UpdateKind = "applied"
	KindRemoved       UpdateKind = "removed"
	KindLocked        UpdateKind = "locked"
	KindUnlocked      UpdateKind = "unlocked"
	KindSwapped       UpdateKind = "swapped"
	KindLayersChanged UpdateKind = "layers-changed"
	KindFullResync    UpdateKind = "full-resync"
)

// Padlock identifies the lock variant attached to an occupied slot.
type Padlock string

const (
	PadlockNone          Padlock = "none"
	PadlockPassword      Padlock = "password"
	PadlockTimer         Padlock = "timer"
	PadlockTimerPassword Padlock = "timer-password"
	PadlockOwner         Padlock = "owner"
	PadlockDevotional    Padlock = "devotional"
)

// HasTimer reports whether the padlock carries an expiry.
func (p Padlock) HasTimer() bool {
	return p == PadlockTimer || p == PadlockTimerPassword
}

// HasPassword reports whether the padlock carries a password.
func (p Padlock) HasPassword() bool {
	return p == PadlockPassword || p == PadlockTimerPassword
}

// Valid reports whether p is a known padlock kind.
func (p Padlock) Valid() bool {
	switch p {
	case PadlockNone, PadlockPassword, PadlockTimer, PadlockTimerPassword, PadlockOwner, PadlockDevotional:
		return true
	}
	return false
}

// LockData is the wire form of a slot lock. ExpiresAt is unix millis,
// zero meaning "never".
type LockData struct {
	Padlock   Padlock `json:"padlock"`
	Password  string  `json:"password,omitempty"`
	ExpiresAt int64   `json:"expiresAt,omitempty"`
	Assigner  string  `json:"assigner,omitempty"`
}

// CategoryUpdate is the per-change envelope pushed to the relay and
// delivered to peers.
type CategoryUpdate struct {
	Category Category   `json:"category"`
	Layer    int        `json:"layer"`
	Item     uuid.UUID  `json:"item,omitempty"`
	Enabler  string     `json:"enabler,omitempty"`
	Lock     LockData   `json:"lock"`
	Kind     UpdateKind `json:"kind"`
	TS       int64      `json:"ts"`
}

// SlotState is one slot of a peer's last-known category snapshot.
type SlotState struct {
	Item    uuid.UUID `json:"item,omitempty"`
	Enabler string    `json:"enabler,omitempty"`
	Lock    LockData  `json:"lock"`
}

// GagState is the snapshot of all gag layers.
type GagState struct {
	Slots [GagSlots]SlotState `json:"slots"`
}

// RestrictionState is the snapshot of all restriction layers.
type RestrictionState struct {
	Slots [RestrictionSlots]SlotState `json:"slots"`
}

// RestraintState is the snapshot of the single restraint root slot plus the
// bitfield of enabled sub-layers.
type RestraintState struct {
	Set     uuid.UUID `json:"set,omitempty"`
	Layers  uint32    `json:"layers"`
	Enabler string    `json:"enabler,omitempty"`
	Lock    LockData  `json:"lock"`
}

// CompositeState is the full local snapshot pushed to a peer when it first
// becomes online or visible, and on reconnect resync.
type CompositeState struct {
	Gags         GagState         `json:"gags"`
	Restrictions RestrictionState `json:"restrictions"`
	Restraint    RestraintState   `json:"restraint"`
	Cursed       []SlotState      `json:"cursed,omitempty"`
	TS           int64            `json:"ts"`
}

// EphemeralUpdate carries transient host data (appearance blobs, garbled
// chat) that only matters to peers who can currently see the local
// character. Never persisted and never part of the reconnect resync.
type EphemeralUpdate struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
	TS   int64           `json:"ts"`
}

// LightItem is the stripped definition a peer publishes so others can
// resolve its snapshots to visual claims: identity, label, and the claim
// set serialized as-is.
type LightItem struct {
	ID       uuid.UUID       `json:"id"`
	Category Category        `json:"category"`
	Label    string          `json:"label"`
	Claims   json.RawMessage `json:"claims"`
}

// LightStorage is the batch of light items a peer publishes.
type LightStorage struct {
	UID   string      `json:"uid"`
	Items []LightItem `json:"items"`
}

// KinksterDescriptor is the relay's description of a paired peer, delivered
// in the initial bulk load and in pair-added callbacks.
type KinksterDescriptor struct {
	UID         string            `json:"uid"`
	Alias       string            `json:"alias,omitempty"`
	OwnPerms    perms.PairState   `json:"ownPerms"`
	TheirPerms  perms.PairState   `json:"theirPerms"`
	TheirGlobal perms.GlobalPerms `json:"theirGlobal"`
	PairedSince int64             `json:"pairedSince,omitempty"`
}

// OnlineKinkster marks a paired peer as currently connected to the relay.
type OnlineKinkster struct {
	UID string `json:"uid"`
}

// PairRequest is a pending incoming or outgoing pair request.
type PairRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	TS   int64  `json:"ts"`
}

// ConnectionDescriptor is returned by the relay on a successful connect.
type ConnectionDescriptor struct {
	UID           string `json:"uid"`
	ServerVersion int    `json:"serverVersion"`
}

// Event type tags on the relay stream.
const (
	EventKinksterOnline   = "kinkster-online"
	EventKinksterOffline  = "kinkster-offline"
	EventPairAdded        = "pair-added"
	EventPairRemoved      = "pair-removed"
	EventCategoryUpdate   = "category-update"
	EventCompositeState   = "composite-state"
	EventPermissionChange = "permission-change"
	EventLightStorage     = "light-storage"
)

// NowMillis is the wire timestamp convention.
func NowMillis() int64 { return time.Now().UnixMilli() }
