package models

import "time"

// AddressCacheEntry is one row of the offline delivery-zone snapshot.
// Verified is true only when a prior online validation explicitly
// confirmed the address; it is never inferred. An unverified hit must
// never be reported to callers as "in zone".
type AddressCacheEntry struct {
	Fingerprint     string  `db:"fingerprint" json:"fingerprint"`
	AddressText     string  `db:"address_text" json:"address_text"`
	ZoneID          string  `db:"zone_id" json:"zone_id"`
	Latitude        float64 `db:"latitude" json:"latitude"`
	Longitude       float64 `db:"longitude" json:"longitude"`
	Verified        bool    `db:"verified" json:"verified"`
	LastRefreshedAt int64   `db:"last_refreshed_at" json:"last_refreshed_at"`
}

// TableName returns the table name for AddressCacheEntry.
func (AddressCacheEntry) TableName() string {
	return "address_cache"
}

// LastRefreshedAtTime returns LastRefreshedAt as time.Time.
func (a *AddressCacheEntry) LastRefreshedAtTime() time.Time {
	return time.Unix(a.LastRefreshedAt, 0)
}
