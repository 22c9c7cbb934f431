package db

import (
	"database/sql"

	"github.com/hweilin/ordersync/internal/models"
)

// =====================================================
// Address Cache Operations
// =====================================================

// GetCacheEntry retrieves a cache entry by fingerprint.
func (r *Repository) GetCacheEntry(fingerprint string) (*models.AddressCacheEntry, error) {
	query := `
	SELECT fingerprint, address_text, zone_id, latitude, longitude, verified, last_refreshed_at
	FROM address_cache WHERE fingerprint = ?`

	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var e models.AddressCacheEntry
	err = stmt.QueryRow(fingerprint).Scan(&e.Fingerprint, &e.AddressText, &e.ZoneID,
		&e.Latitude, &e.Longitude, &e.Verified, &e.LastRefreshedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SearchVerifiedEntries returns verified cache entries whose
// normalized address text contains the query. Unverified entries are
// excluded here by construction: offline suggestion lookups must
// never surface them.
func (r *Repository) SearchVerifiedEntries(normalizedQuery string, limit int) ([]models.AddressCacheEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(`
	SELECT fingerprint, address_text, zone_id, latitude, longitude, verified, last_refreshed_at
	FROM address_cache
	WHERE verified = 1 AND address_text LIKE '%' || ? || '%'
	ORDER BY address_text ASC LIMIT ?`,
		normalizedQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AddressCacheEntry
	for rows.Next() {
		var e models.AddressCacheEntry
		err := rows.Scan(&e.Fingerprint, &e.AddressText, &e.ZoneID,
			&e.Latitude, &e.Longitude, &e.Verified, &e.LastRefreshedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertCacheEntry inserts or refreshes a single cache entry.
func (r *Repository) UpsertCacheEntry(e *models.AddressCacheEntry) error {
	_, err := r.db.Exec(`
	INSERT INTO address_cache (fingerprint, address_text, zone_id, latitude, longitude, verified, last_refreshed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(fingerprint) DO UPDATE SET
		address_text = excluded.address_text,
		zone_id = excluded.zone_id,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		verified = excluded.verified,
		last_refreshed_at = excluded.last_refreshed_at`,
		e.Fingerprint, e.AddressText, e.ZoneID, e.Latitude, e.Longitude,
		e.Verified, e.LastRefreshedAt)
	return err
}

// ReplaceCacheSnapshot swaps the entire offline snapshot in one
// transaction so readers never observe a half-refreshed cache.
func (r *Repository) ReplaceCacheSnapshot(entries []models.AddressCacheEntry) error {
	return r.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM address_cache"); err != nil {
			return err
		}
		for _, e := range entries {
			_, err := tx.Exec(`
			INSERT INTO address_cache (fingerprint, address_text, zone_id, latitude, longitude, verified, last_refreshed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
				e.Fingerprint, e.AddressText, e.ZoneID, e.Latitude, e.Longitude,
				e.Verified, e.LastRefreshedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// CacheCount returns the number of cached entries.
func (r *Repository) CacheCount() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM address_cache").Scan(&n)
	return n, err
}
