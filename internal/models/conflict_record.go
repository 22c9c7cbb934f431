package models

import "time"

// ConflictRecord is evidence that local and remote state advanced
// independently. It is created during reconciliation instead of a
// blind overwrite and stays open until explicitly resolved.
type ConflictRecord struct {
	ID                 UUID        `db:"id" json:"id"`
	EntityType         string      `db:"entity_type" json:"entity_type"`
	EntityID           UUID        `db:"entity_id" json:"entity_id"`
	LocalRevision      int         `db:"local_revision" json:"local_revision"`
	RemoteRevision     int         `db:"remote_revision" json:"remote_revision"`
	LocalStatus        OrderStatus `db:"local_status" json:"local_status"`
	RemoteStatus       OrderStatus `db:"remote_status" json:"remote_status"`
	DetectedAt         int64       `db:"detected_at" json:"detected_at"`
	ResolutionStrategy string      `db:"resolution_strategy" json:"resolution_strategy,omitempty"`
	Resolution         string      `db:"resolution" json:"resolution,omitempty"` // local_wins, remote_wins
	ResolvedAt         int64       `db:"resolved_at" json:"resolved_at,omitempty"`
}

// TableName returns the table name for ConflictRecord.
func (ConflictRecord) TableName() string {
	return "conflict_records"
}

// Resolved reports whether the conflict has been closed.
func (c *ConflictRecord) Resolved() bool {
	return c.ResolvedAt > 0
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictRecord) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
