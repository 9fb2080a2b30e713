package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Project-GagSpeak/gagspeak-client/internal/perms"
)

// CachedKinkster is the persistent record of a paired kinkster's last known
// state. It is written on every pair sync and never cleared just because
// the kinkster goes offline, only an explicit unpair removes it.
type CachedKinkster struct {
	UID         string
	Alias       string
	OwnPerms    perms.PairState
	TheirPerms  perms.PairState
	TheirGlobal perms.GlobalPerms
	PairedSince int64
	LastSeen    time.Time
}

// UpsertKinkster stores or fully replaces the cached record for a kinkster.
func (d *DB) UpsertKinkster(k CachedKinkster) error {
	own, err := json.Marshal(k.OwnPerms)
	if err != nil {
		return err
	}
	their, err := json.Marshal(k.TheirPerms)
	if err != nil {
		return err
	}
	global, err := json.Marshal(k.TheirGlobal)
	if err != nil {
		return err
	}
	// The timestamp is bound as RFC3339 text rather than left to the
	// engine, so reads never depend on the driver's CURRENT_TIMESTAMP
	// rendering.
	seen := time.Now().UTC().Format(time.RFC3339)
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.db.Exec(`
		INSERT INTO _kinkster_cache
			(uid, alias, own_perms, their_perms, their_global, paired_since, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			alias        = excluded.alias,
			own_perms    = excluded.own_perms,
			their_perms  = excluded.their_perms,
			their_global = excluded.their_global,
			paired_since = excluded.paired_since,
			last_seen    = excluded.last_seen`,
		k.UID, k.Alias, string(own), string(their), string(global), k.PairedSince, seen,
	)
	return err
}

// GetKinkster returns the last known record for a kinkster, or false if
// unknown.
func (d *DB) GetKinkster(uid string) (CachedKinkster, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var k CachedKinkster
	var own, their, global, lastSeen string
	err := d.db.QueryRow(`
		SELECT uid, alias, own_perms, their_perms, their_global, paired_since, last_seen
		FROM _kinkster_cache WHERE uid = ?`, uid).
		Scan(&k.UID, &k.Alias, &own, &their, &global, &k.PairedSince, &lastSeen)
	if err != nil {
		return CachedKinkster{}, false
	}
	json.Unmarshal([]byte(own), &k.OwnPerms)
	json.Unmarshal([]byte(their), &k.TheirPerms)
	json.Unmarshal([]byte(global), &k.TheirGlobal)
	seen, err := time.Parse(time.RFC3339, lastSeen)
	if err != nil {
		return CachedKinkster{}, false
	}
	k.LastSeen = seen
	return k, true
}

// ListKinksters returns all cached kinksters, most recently seen first.
func (d *DB) ListKinksters() ([]CachedKinkster, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT uid, alias, own_perms, their_perms, their_global, paired_since, last_seen
		FROM _kinkster_cache ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CachedKinkster
	for rows.Next() {
		var k CachedKinkster
		var own, their, global, lastSeen string
		if err := rows.Scan(&k.UID, &k.Alias, &own, &their, &global, &k.PairedSince, &lastSeen); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(own), &k.OwnPerms)
		json.Unmarshal([]byte(their), &k.TheirPerms)
		json.Unmarshal([]byte(global), &k.TheirGlobal)
		seen, err := time.Parse(time.RFC3339, lastSeen)
		if err != nil {
			return nil, fmt.Errorf("kinkster %s: bad last_seen %q: %v", k.UID, lastSeen, err)
		}
		k.LastSeen = seen
		out = append(out, k)
	}
	return out, rows.Err()
}

// DeleteKinkster removes a kinkster from the cache entirely. Only used on
// unpair, not on a plain disconnect.
func (d *DB) DeleteKinkster(uid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.Exec(`DELETE FROM _light_items WHERE owner_uid = ?`, uid); err != nil {
		return err
	}
	_, err := d.db.Exec(`DELETE FROM _kinkster_cache WHERE uid = ?`, uid)
	return err
}
