package models

import "encoding/json"

// SyncOperation is the kind of mutation a queue entry mirrors.
type SyncOperation string

const (
	OperationCreate SyncOperation = "create"
	OperationUpdate SyncOperation = "update"
	OperationDelete SyncOperation = "delete"
)

// SyncQueueEntry is one outbox row mirroring a committed local
// mutation. The payload is snapshotted at enqueue time and never
// re-read, so later local edits cannot race the push. Seq gives
// per-entity FIFO ordering.
type SyncQueueEntry struct {
	ID         UUID            `db:"id" json:"id"`
	Seq        int64           `db:"seq" json:"seq"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   UUID            `db:"entity_id" json:"entity_id"`
	Operation  SyncOperation   `db:"operation" json:"operation"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Attempts   int             `db:"attempts" json:"attempts"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
}

// TableName returns the table name for SyncQueueEntry.
func (SyncQueueEntry) TableName() string {
	return "sync_queue"
}
