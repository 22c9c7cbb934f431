package db

import (
	"database/sql"
	"time"

	"github.com/hweilin/ordersync/internal/models"
	"github.com/hweilin/ordersync/internal/uuid"
)

// =====================================================
// Conflict Record Operations
// =====================================================

// CreateConflict inserts a new open conflict record. If an open
// conflict already exists for the same entity it is returned instead,
// so repeated drains do not pile up duplicates.
func (r *Repository) CreateConflict(record *models.ConflictRecord) (*models.ConflictRecord, error) {
	existing, err := r.openConflictFor(record.EntityType, string(record.EntityID))
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	record.ID = models.UUID(uuid.New())
	if record.DetectedAt == 0 {
		record.DetectedAt = time.Now().Unix()
	}

	_, err = r.db.Exec(`
	INSERT INTO conflict_records (id, entity_type, entity_id, local_revision, remote_revision,
		local_status, remote_status, detected_at, resolution_strategy, resolution, resolved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', 0)`,
		record.ID, record.EntityType, record.EntityID,
		record.LocalRevision, record.RemoteRevision,
		record.LocalStatus, record.RemoteStatus, record.DetectedAt)
	if err != nil {
		return nil, err
	}

	return record, nil
}

// GetConflict retrieves a conflict record by id.
func (r *Repository) GetConflict(id string) (*models.ConflictRecord, error) {
	row := r.db.QueryRow(`
	SELECT id, entity_type, entity_id, local_revision, remote_revision,
		   local_status, remote_status, detected_at, resolution_strategy, resolution, resolved_at
	FROM conflict_records WHERE id = ?`, id)
	return scanConflict(row)
}

// OpenConflicts returns all unresolved conflicts, oldest first.
// Conflicts are never auto-discarded; they stay visible until
// explicitly resolved.
func (r *Repository) OpenConflicts() ([]*models.ConflictRecord, error) {
	rows, err := r.db.Query(`
	SELECT id, entity_type, entity_id, local_revision, remote_revision,
		   local_status, remote_status, detected_at, resolution_strategy, resolution, resolved_at
	FROM conflict_records WHERE resolved_at = 0 ORDER BY detected_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ResolveConflict closes a conflict with the given strategy name and
// outcome. Returns false if the conflict does not exist or is already
// resolved.
func (r *Repository) ResolveConflict(id, strategy, resolution string) (bool, error) {
	res, err := r.db.Exec(`
	UPDATE conflict_records SET resolution_strategy = ?, resolution = ?, resolved_at = ?
	WHERE id = ? AND resolved_at = 0`,
		strategy, resolution, time.Now().Unix(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository) openConflictFor(entityType, entityID string) (*models.ConflictRecord, error) {
	row := r.db.QueryRow(`
	SELECT id, entity_type, entity_id, local_revision, remote_revision,
		   local_status, remote_status, detected_at, resolution_strategy, resolution, resolved_at
	FROM conflict_records WHERE entity_type = ? AND entity_id = ? AND resolved_at = 0`,
		entityType, entityID)
	rec, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func scanConflict(row rowScanner) (*models.ConflictRecord, error) {
	var rec models.ConflictRecord
	err := row.Scan(&rec.ID, &rec.EntityType, &rec.EntityID,
		&rec.LocalRevision, &rec.RemoteRevision,
		&rec.LocalStatus, &rec.RemoteStatus, &rec.DetectedAt,
		&rec.ResolutionStrategy, &rec.Resolution, &rec.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
