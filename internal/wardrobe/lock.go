package wardrobe

import (
	"time"

	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
)

// Lock is the padlock sub-state attached to an occupied slot. The zero
// value is "not locked".
type Lock struct {
	Kind     proto.Padlock
	Password string
	Expires  time.Time // zero = never
	Assigner string
}

// IsLocked reports whether a padlock is attached.
func (l Lock) IsLocked() bool {
	return l.Kind != "" && l.Kind != proto.PadlockNone
}

// Expired reports whether a timer padlock has run out.
func (l Lock) Expired(now time.Time) bool {
	return l.Kind.HasTimer() && !l.Expires.IsZero() && now.After(l.Expires)
}

// UnlockIntent describes who is trying to remove a lock and with what.
type UnlockIntent struct {
	Enactor  string
	Password string
	Override bool // enactor holds unlock permission from the wearer
}

// Permits decides whether the intent may remove this lock. The assigner may
// always unlock their own lock; a devotional lock admits nobody else. Timer
// locks open for anyone once expired, password locks for anyone holding the
// password, and otherwise override permission is required.
func (l Lock) Permits(in UnlockIntent, now time.Time) bool {
	if !l.IsLocked() {
		return false
	}
	if l.Kind == proto.PadlockDevotional {
		return in.Enactor == l.Assigner
	}
	if in.Enactor == l.Assigner {
		return true
	}
	if l.Expired(now) {
		return true
	}
	if l.Kind.HasPassword() && in.Password != "" && in.Password == l.Password {
		return true
	}
	return in.Override
}

// Data converts to the wire form.
func (l Lock) Data() proto.LockData {
	d := proto.LockData{Padlock: l.Kind, Password: l.Password, Assigner: l.Assigner}
	if d.Padlock == "" {
		d.Padlock = proto.PadlockNone
	}
	if !l.Expires.IsZero() {
		d.ExpiresAt = l.Expires.UnixMilli()
	}
	return d
}

// LockFromData converts from the wire form.
func LockFromData(d proto.LockData) Lock {
	l := Lock{Kind: d.Padlock, Password: d.Password, Assigner: d.Assigner}
	if d.ExpiresAt != 0 {
		l.Expires = time.UnixMilli(d.ExpiresAt)
	}
	return l
}

// validLock rejects malformed lock requests before they touch a slot:
// unknown kinds, password kinds without a password, timer kinds without a
// future expiry, and stray fields on kinds that do not carry them.
func validLock(l Lock, now time.Time) bool {
	if !l.IsLocked() || !l.Kind.Valid() {
		return false
	}
	if l.Kind.HasPassword() && l.Password == "" {
		return false
	}
	if !l.Kind.HasPassword() && l.Password != "" {
		return false
	}
	if l.Kind.HasTimer() && (l.Expires.IsZero() || !l.Expires.After(now)) {
		return false
	}
	if !l.Kind.HasTimer() && !l.Expires.IsZero() {
		return false
	}
	return l.Assigner != ""
}
