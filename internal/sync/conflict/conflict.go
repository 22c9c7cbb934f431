// Package conflict provides detection and recording of divergent
// local/remote state, with pluggable resolution strategies.
package conflict

import (
	"time"

	apperrors "github.com/hweilin/ordersync/internal/errors"
	"github.com/hweilin/ordersync/internal/logging"
	"github.com/hweilin/ordersync/internal/models"
)

// Winner names the side a strategy picked.
type Winner string

const (
	WinnerLocal  Winner = "local_wins"
	WinnerRemote Winner = "remote_wins"
)

// Strategy decides which side of a divergence should prevail.
type Strategy interface {
	// Name identifies the strategy in resolved records.
	Name() string

	// Decide picks a winner given both sides' statuses.
	Decide(local, remote models.OrderStatus) Winner
}

// FurthestStateWins is the default strategy: the status further along
// the terminal-ward ordering wins, except cancellation always wins
// regardless of rank. Ties prefer local, keeping the terminal
// available.
type FurthestStateWins struct{}

// Name identifies the strategy.
func (FurthestStateWins) Name() string { return "furthest_state_wins" }

// Decide picks a winner.
func (FurthestStateWins) Decide(local, remote models.OrderStatus) Winner {
	if local == models.StatusCancelled {
		return WinnerLocal
	}
	if remote == models.StatusCancelled {
		return WinnerRemote
	}
	if remote.Rank() > local.Rank() {
		return WinnerRemote
	}
	return WinnerLocal
}

// Recorder persists conflict records. Implemented by db.Repository.
type Recorder interface {
	CreateConflict(record *models.ConflictRecord) (*models.ConflictRecord, error)
	GetConflict(id string) (*models.ConflictRecord, error)
	OpenConflicts() ([]*models.ConflictRecord, error)
	ResolveConflict(id, strategy, resolution string) (bool, error)
}

// Store records divergences instead of blind overwrites and applies
// resolution strategies on demand.
type Store struct {
	recorder Recorder
	strategy Strategy
}

// NewStore creates a conflict store with the given default strategy.
// Passing nil selects FurthestStateWins.
func NewStore(recorder Recorder, strategy Strategy) *Store {
	if strategy == nil {
		strategy = FurthestStateWins{}
	}
	return &Store{recorder: recorder, strategy: strategy}
}

// Record creates (or returns the already-open) conflict record for an
// entity whose remote revision advanced independently of this
// terminal's last known push.
func (s *Store) Record(entityType string, entityID models.UUID, localRev, remoteRev int, localStatus, remoteStatus models.OrderStatus) (*models.ConflictRecord, error) {
	record := &models.ConflictRecord{
		EntityType:     entityType,
		EntityID:       entityID,
		LocalRevision:  localRev,
		RemoteRevision: remoteRev,
		LocalStatus:    localStatus,
		RemoteStatus:   remoteStatus,
		DetectedAt:     time.Now().Unix(),
	}

	created, err := s.recorder.CreateConflict(record)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrLocalStore, "failed to record conflict", err)
	}

	logging.Warn("Sync conflict recorded", map[string]interface{}{
		"entity_type":     entityType,
		"entity_id":       entityID,
		"local_revision":  localRev,
		"remote_revision": remoteRev,
		"local_status":    localStatus,
		"remote_status":   remoteStatus,
	})

	return created, nil
}

// Open returns all unresolved conflicts.
func (s *Store) Open() ([]*models.ConflictRecord, error) {
	records, err := s.recorder.OpenConflicts()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrLocalStore, "failed to list conflicts", err)
	}
	return records, nil
}

// Resolve closes a conflict using the given strategy, or the store's
// default when strategy is nil. Returns false if the conflict does
// not exist or was already resolved.
func (s *Store) Resolve(conflictID string, strategy Strategy) (bool, error) {
	if strategy == nil {
		strategy = s.strategy
	}

	record, err := s.recorder.GetConflict(conflictID)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrNotFound, "conflict not found", err)
	}
	if record.Resolved() {
		return false, nil
	}

	winner := strategy.Decide(record.LocalStatus, record.RemoteStatus)

	ok, err := s.recorder.ResolveConflict(conflictID, strategy.Name(), string(winner))
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrLocalStore, "failed to resolve conflict", err)
	}
	if ok {
		logging.Info("Conflict resolved", map[string]interface{}{
			"conflict_id": conflictID,
			"strategy":    strategy.Name(),
			"resolution":  winner,
		})
	}

	return ok, nil
}

// DefaultStrategy returns the store's configured default.
func (s *Store) DefaultStrategy() Strategy {
	return s.strategy
}
