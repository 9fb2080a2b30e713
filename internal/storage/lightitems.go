package storage

import (
	"github.com/google/uuid"

	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
)

// ReplaceLightStorage atomically replaces every cached light item a
// kinkster has published. A publication is always the full set, so stale
// items must not survive the swap.
func (d *DB) ReplaceLightStorage(ownerUID string, items []proto.LightItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM _light_items WHERE owner_uid = ?`, ownerUID); err != nil {
		return err
	}
	for _, it := range items {
		if _, err := tx.Exec(`
			INSERT INTO _light_items (owner_uid, item_id, category, label, claims)
			VALUES (?, ?, ?, ?, ?)`,
			ownerUID, it.ID.String(), string(it.Category), it.Label, string(it.Claims),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetLightItem resolves one published item by owner and id, or false if
// the owner never published it.
func (d *DB) GetLightItem(ownerUID string, id uuid.UUID) (proto.LightItem, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var it proto.LightItem
	var idStr, category, claims string
	err := d.db.QueryRow(`
		SELECT item_id, category, label, claims
		FROM _light_items WHERE owner_uid = ? AND item_id = ?`, ownerUID, id.String()).
		Scan(&idStr, &category, &it.Label, &claims)
	if err != nil {
		return proto.LightItem{}, false
	}
	it.ID, _ = uuid.Parse(idStr)
	it.Category = proto.Category(category)
	it.Claims = []byte(claims)
	return it, true
}

// ListLightItems returns every published item for a kinkster.
func (d *DB) ListLightItems(ownerUID string) ([]proto.LightItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT item_id, category, label, claims
		FROM _light_items WHERE owner_uid = ? ORDER BY label`, ownerUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []proto.LightItem
	for rows.Next() {
		var it proto.LightItem
		var idStr, category, claims string
		if err := rows.Scan(&idStr, &category, &it.Label, &claims); err != nil {
			return nil, err
		}
		it.ID, _ = uuid.Parse(idStr)
		it.Category = proto.Category(category)
		it.Claims = []byte(claims)
		out = append(out, it)
	}
	return out, rows.Err()
}
