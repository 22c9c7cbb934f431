package db

import (
	"encoding/json"

	"github.com/hweilin/ordersync/internal/models"
)

// =====================================================
// Sync Queue (outbox) Operations
// =====================================================

// PendingEntries returns all queued entries ordered for a drain:
// grouped per entity, FIFO within each entity by autoincrement seq.
func (r *Repository) PendingEntries(limit int) ([]models.SyncQueueEntry, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.Query(`
	SELECT seq, id, entity_type, entity_id, operation, payload, attempts, last_error, enqueued_at
	FROM sync_queue ORDER BY entity_type, entity_id, seq ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.SyncQueueEntry
	for rows.Next() {
		var e models.SyncQueueEntry
		var payload string
		err := rows.Scan(&e.Seq, &e.ID, &e.EntityType, &e.EntityID, &e.Operation,
			&payload, &e.Attempts, &e.LastError, &e.EnqueuedAt)
		if err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EntriesForEntity returns the queued entries for one entity, FIFO.
func (r *Repository) EntriesForEntity(entityType, entityID string) ([]models.SyncQueueEntry, error) {
	rows, err := r.db.Query(`
	SELECT seq, id, entity_type, entity_id, operation, payload, attempts, last_error, enqueued_at
	FROM sync_queue WHERE entity_type = ? AND entity_id = ? ORDER BY seq ASC`,
		entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.SyncQueueEntry
	for rows.Next() {
		var e models.SyncQueueEntry
		var payload string
		err := rows.Scan(&e.Seq, &e.ID, &e.EntityType, &e.EntityID, &e.Operation,
			&payload, &e.Attempts, &e.LastError, &e.EnqueuedAt)
		if err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkEntryDone removes a successfully pushed entry. Outbox entries
// are destroyed on success, never archived.
func (r *Repository) MarkEntryDone(id string) error {
	_, err := r.db.Exec("DELETE FROM sync_queue WHERE id = ?", id)
	return err
}

// MarkEntryFailed increments the attempt counter and records the
// failure reason. The entry stays queued for the next drain.
func (r *Repository) MarkEntryFailed(id string, cause string) error {
	_, err := r.db.Exec(
		"UPDATE sync_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		cause, id)
	return err
}

// PendingCount returns the number of queued entries.
func (r *Repository) PendingCount() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM sync_queue").Scan(&n)
	return n, err
}
