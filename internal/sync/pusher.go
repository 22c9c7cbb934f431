// Package sync provides the outbound push pipeline reconciling the
// terminal's local store with the remote backend.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hweilin/ordersync/internal/db"
	apperrors "github.com/hweilin/ordersync/internal/errors"
	"github.com/hweilin/ordersync/internal/logging"
	"github.com/hweilin/ordersync/internal/models"
	"github.com/hweilin/ordersync/internal/remote"
	"github.com/hweilin/ordersync/internal/sync/conflict"
)

// PushStatus reports where the pusher currently stands.
type PushStatus string

const (
	PushStatusIdle     PushStatus = "idle"
	PushStatusDraining PushStatus = "draining"
)

// DrainResult summarizes one batched drain.
type DrainResult struct {
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Conflicts int           `json:"conflicts"`
}

// orderSnapshot is the slice of the outbox payload the pusher needs
// for reconciliation. Field names match the Order JSON schema.
type orderSnapshot struct {
	ID       string             `json:"id"`
	Revision int                `json:"revision"`
	Status   models.OrderStatus `json:"status"`
}

// Pusher drains the sync queue against the remote backend. Successes
// reconcile remote identifiers back into the local store; revision
// divergence is recorded as a conflict instead of overwritten.
type Pusher struct {
	repo      *db.Repository
	backend   remote.Backend
	conflicts *conflict.Store

	mu       sync.Mutex
	status   PushStatus
	lastRun  time.Time
	lastErr  error
}

// NewPusher creates a Pusher.
func NewPusher(repo *db.Repository, backend remote.Backend, conflicts *conflict.Store) *Pusher {
	return &Pusher{
		repo:      repo,
		backend:   backend,
		conflicts: conflicts,
		status:    PushStatusIdle,
	}
}

// Status returns the current pusher status.
func (p *Pusher) Status() PushStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// LastError returns the last drain error.
func (p *Pusher) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// PushOrderNow bypasses the batched queue for a latency-sensitive
// change. On timeout or failure the local mutation is not rolled
// back: the queued entries stay for the next batched drain.
func (p *Pusher) PushOrderNow(ctx context.Context, orderID string, timeout time.Duration) error {
	pushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	order, err := p.repo.GetOrder(orderID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrLocalStore, "failed to load order for push", err)
	}

	if order.SyncState == models.SyncStateConflict {
		return apperrors.New(apperrors.ErrSyncConflict, "order has an unresolved conflict")
	}

	if err := p.repo.SetSyncState(orderID, models.SyncStateSyncing); err != nil {
		return apperrors.Wrap(apperrors.ErrLocalStore, "failed to mark order syncing", err)
	}

	payload, err := json.Marshal(order)
	if err != nil {
		p.restorePending(orderID)
		return apperrors.Wrap(apperrors.ErrInternal, "failed to marshal order", err)
	}

	diverged, err := p.pushPayload(pushCtx, order.ID, order.Revision, order.Status, order.PushedRevision, payload, true)
	if err != nil {
		// Leave the mutation committed locally; the queue entry is
		// still there for the next drain.
		p.restorePending(orderID)
		logging.Warn("Immediate push failed, deferring to batched drain", map[string]interface{}{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return err
	}
	if diverged {
		return apperrors.New(apperrors.ErrSyncConflict, "remote revision diverged")
	}

	// The entity's queued entries mirror state that just reached the
	// remote; clear them.
	entries, err := p.repo.EntriesForEntity("order", orderID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrLocalStore, "failed to load queue entries", err)
	}
	for _, e := range entries {
		if err := p.repo.MarkEntryDone(string(e.ID)); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalStore, "failed to clear queue entry", err)
		}
	}

	logging.Info("Order pushed", map[string]interface{}{
		"order_id": orderID,
		"revision": order.Revision,
	})

	return nil
}

// restorePending undoes the syncing flag after a failed push. A
// failed restore would leave the order wedged in syncing, so it is
// logged rather than swallowed.
func (p *Pusher) restorePending(orderID string) {
	if err := p.repo.SetSyncState(orderID, models.SyncStatePending); err != nil {
		logging.Error("Failed to restore pending sync state", err, map[string]interface{}{
			"order_id": orderID,
		})
	}
}

// DrainQueue processes queued entries per entity in FIFO order,
// stopping a given entity's queue on first failure to preserve
// ordering while continuing independent entities. Only one drain runs
// at a time; a concurrent call returns immediately.
func (p *Pusher) DrainQueue(ctx context.Context, timeout time.Duration) (*DrainResult, error) {
	p.mu.Lock()
	if p.status == PushStatusDraining {
		p.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrDuplicate, "drain already in progress")
	}
	p.status = PushStatusDraining
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.status = PushStatusIdle
		p.lastRun = time.Now()
		p.mu.Unlock()
	}()

	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &DrainResult{StartTime: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartTime)
	}()

	entries, err := p.repo.PendingEntries(0)
	if err != nil {
		err = apperrors.Wrap(apperrors.ErrLocalStore, "failed to load pending entries", err)
		p.setLastErr(err)
		return result, err
	}

	// Entries arrive grouped per entity, FIFO within each group.
	byEntity := groupByEntity(entries)

	for _, group := range byEntity {
		select {
		case <-drainCtx.Done():
			p.setLastErr(drainCtx.Err())
			return result, apperrors.Wrap(apperrors.ErrRemoteTimeout, "drain timed out", drainCtx.Err())
		default:
		}

		p.drainEntity(drainCtx, group, result)
	}

	p.setLastErr(nil)

	logging.Info("Queue drain completed", map[string]interface{}{
		"processed": result.Processed,
		"failed":    result.Failed,
		"conflicts": result.Conflicts,
	})

	return result, nil
}

// drainEntity pushes one entity's entries in order, stopping on the
// first failure so the remote never observes an update before its
// preceding create.
func (p *Pusher) drainEntity(ctx context.Context, group []models.SyncQueueEntry, result *DrainResult) {
	for i, entry := range group {
		var snap orderSnapshot
		if err := json.Unmarshal(entry.Payload, &snap); err != nil {
			// A corrupt snapshot can never succeed; drop it with a
			// reported failure rather than wedging the entity queue.
			p.repo.MarkEntryDone(string(entry.ID))
			result.Failed++
			logging.Error("Dropped corrupt queue entry", err, map[string]interface{}{
				"entry_id":  entry.ID,
				"entity_id": entry.EntityID,
			})
			continue
		}

		order, err := p.repo.GetOrder(string(entry.EntityID))
		if err != nil {
			p.repo.MarkEntryFailed(string(entry.ID), err.Error())
			result.Failed++
			return
		}

		// Only the entity's last entry settles sync_state: earlier
		// entries still have queued successors mirroring newer state.
		diverged, err := p.pushPayload(ctx, entry.EntityID, snap.Revision, snap.Status, order.PushedRevision, entry.Payload, i == len(group)-1)
		if err != nil {
			p.repo.MarkEntryFailed(string(entry.ID), err.Error())
			result.Failed++
			return // stop this entity, preserve FIFO
		}
		if diverged {
			p.repo.MarkEntryFailed(string(entry.ID), "remote revision diverged")
			result.Conflicts++
			return // unresolved conflict blocks the entity's queue
		}

		if err := p.repo.MarkEntryDone(string(entry.ID)); err != nil {
			result.Failed++
			return
		}
		result.Processed++
	}
}

// pushPayload performs the conflict check and upsert for one
// snapshot. Returns true when the remote's revision advanced
// independently and a conflict record was written instead. final
// marks the entity's last queued snapshot; only then is the sync
// state settled to synced.
func (p *Pusher) pushPayload(ctx context.Context, entityID models.UUID, revision int, status models.OrderStatus, pushedRevision int, payload json.RawMessage, final bool) (bool, error) {
	rev, err := p.backend.GetOrderRevision(ctx, string(entityID))
	if err != nil {
		return false, err
	}

	// The remote's stored revision must match what this terminal last
	// wrote; anything else means another writer advanced it.
	if rev.Found && rev.Revision != pushedRevision {
		remoteStatus := models.OrderStatus(rev.Status)
		if _, err := p.conflicts.Record("order", entityID, revision, rev.Revision, status, remoteStatus); err != nil {
			return false, err
		}
		if err := p.repo.SetSyncState(string(entityID), models.SyncStateConflict); err != nil {
			return false, apperrors.Wrap(apperrors.ErrLocalStore, "failed to flag conflict state", err)
		}
		return true, nil
	}

	upsert, err := p.backend.UpsertOrder(ctx, payload)
	if err != nil {
		return false, err
	}

	if final {
		err = p.repo.MarkSynced(string(entityID), upsert.RemoteID, revision)
	} else {
		err = p.repo.MarkPushed(string(entityID), upsert.RemoteID, revision)
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrLocalStore, "failed to reconcile remote id", err)
	}

	return false, nil
}

func (p *Pusher) setLastErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

// groupByEntity splits ordered entries into per-entity groups,
// preserving the incoming FIFO order inside each group and the
// first-seen order across groups.
func groupByEntity(entries []models.SyncQueueEntry) [][]models.SyncQueueEntry {
	index := make(map[string]int)
	var groups [][]models.SyncQueueEntry

	for _, e := range entries {
		key := fmt.Sprintf("%s/%s", e.EntityType, e.EntityID)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}

	return groups
}
