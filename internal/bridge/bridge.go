// Package bridge defines the surfaces through which state changes reach
// the host: equipment, status effects, cosmetic looks, and the achievement
// side-channel. The composition root holds one instance of each; hosts
// without a capability plug in the no-op.
package bridge

import (
	"github.com/google/uuid"

	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
	"github.com/Project-GagSpeak/gagspeak-client/internal/wardrobe"
)

// EquipmentBridge applies and reverts glamour and mod claims on the local
// character.
type EquipmentBridge interface {
	ApplyClaims(cs wardrobe.ClaimSet) error
	RevertClaims(cs wardrobe.ClaimSet) error
}

// StatusBridge manages moodle status effects.
type StatusBridge interface {
	ApplyMoodles(ids []uuid.UUID) error
	RemoveMoodles(ids []uuid.UUID) error
}

// LookBridge switches the active cosmetic profile.
type LookBridge interface {
	SetProfile(id uuid.UUID) error
	ClearProfile() error
}

// AchievementSink receives peer snapshot notifications for progress
// tracking.
type AchievementSink interface {
	OnCategorySnapshot(uid string, category proto.Category)
}

// NoopEquipment ignores every claim.
type NoopEquipment struct{}

func (NoopEquipment) ApplyClaims(wardrobe.ClaimSet) error  { return nil }
func (NoopEquipment) RevertClaims(wardrobe.ClaimSet) error { return nil }

// NoopStatus ignores every moodle.
type NoopStatus struct{}

func (NoopStatus) ApplyMoodles([]uuid.UUID) error  { return nil }
func (NoopStatus) RemoveMoodles([]uuid.UUID) error { return nil }

// NoopLook ignores profile switches.
type NoopLook struct{}

func (NoopLook) SetProfile(uuid.UUID) error { return nil }
func (NoopLook) ClearProfile() error        { return nil }

// NoopAchievements ignores snapshots.
type NoopAchievements struct{}

func (NoopAchievements) OnCategorySnapshot(string, proto.Category) {}
