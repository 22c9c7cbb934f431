package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hweilin/ordersync/internal/db"
	apperrors "github.com/hweilin/ordersync/internal/errors"
	"github.com/hweilin/ordersync/internal/models"
	"github.com/hweilin/ordersync/internal/session"
	syncpkg "github.com/hweilin/ordersync/internal/sync"
	"github.com/hweilin/ordersync/internal/sync/conflict"
	"github.com/hweilin/ordersync/internal/sync/retry"
	"github.com/hweilin/ordersync/internal/sync/scheduler"
)

// SyncHandler exposes the sync pipeline: queue status, manual drain,
// the retry queue and conflict inspection.
type SyncHandler struct {
	repo         *db.Repository
	pusher       *syncpkg.Pusher
	retryQueue   *retry.Queue
	conflicts    *conflict.Store
	sched        *scheduler.Scheduler
	gate         *session.Gate
	notifier     Notifier
	drainTimeout time.Duration
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(repo *db.Repository, pusher *syncpkg.Pusher, retryQueue *retry.Queue, conflicts *conflict.Store, sched *scheduler.Scheduler, gate *session.Gate, notifier Notifier, drainTimeout time.Duration) *SyncHandler {
	if drainTimeout <= 0 {
		drainTimeout = 60 * time.Second
	}
	return &SyncHandler{
		repo:         repo,
		pusher:       pusher,
		retryQueue:   retryQueue,
		conflicts:    conflicts,
		sched:        sched,
		gate:         gate,
		notifier:     notifier,
		drainTimeout: drainTimeout,
	}
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.repo.PendingCount()
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrLocalStore, "failed to count pending entries", err))
		return
	}

	open, err := h.conflicts.Open()
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, map[string]interface{}{
		"push_status":    h.pusher.Status(),
		"queue_pending":  pending,
		"retry_pending":  h.retryQueue.Len(),
		"open_conflicts": len(open),
		"scheduler":      h.sched.GetStatus(),
	})
}

// Drain handles POST /api/sync/drain: a manual, synchronous drain of
// the queue. An already-running drain is reported, not duplicated.
func (h *SyncHandler) Drain(w http.ResponseWriter, r *http.Request) {
	if !h.gate.HasPermission(session.ActionTriggerSync) {
		writeFail(w, http.StatusForbidden, apperrors.ErrPermission, "not permitted to trigger sync")
		return
	}

	result, err := h.pusher.DrainQueue(r.Context(), h.drainTimeout)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrDuplicate {
			writeFail(w, http.StatusConflict, apperrors.ErrDuplicate, "a drain is already in progress")
			return
		}
		writeError(w, err)
		return
	}

	h.notifier.BroadcastSyncCompleted(result.Processed, result.Failed, result.Conflicts)
	writeOK(w, result)
}

// RetryQueue handles GET /api/sync/retry.
func (h *SyncHandler) RetryQueue(w http.ResponseWriter, r *http.Request) {
	entries := h.retryQueue.Queue()
	writeOK(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// saveRetryRequest is the wire shape for parking a failed operation.
type saveRetryRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// SaveRetry handles POST /api/sync/retry: parks an operation whose
// origin call failed so the scheduler can retry it.
func (h *SyncHandler) SaveRetry(w http.ResponseWriter, r *http.Request) {
	var req saveRetryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Payload) == 0 {
		writeFail(w, http.StatusBadRequest, apperrors.ErrInvalid, "payload is required")
		return
	}

	length, id := h.retryQueue.SaveForRetry(req.Payload)
	writeResult(w, http.StatusCreated, models.OK(map[string]interface{}{
		"entry_id":     id,
		"queue_length": length,
	}))
}

// ProcessRetries handles POST /api/sync/retry/process: one synchronous
// pass over the retry queue.
func (h *SyncHandler) ProcessRetries(w http.ResponseWriter, r *http.Request) {
	if !h.gate.HasPermission(session.ActionTriggerSync) {
		writeFail(w, http.StatusForbidden, apperrors.ErrPermission, "not permitted to trigger sync")
		return
	}

	result := h.retryQueue.ProcessRetryQueue(r.Context())
	writeOK(w, result)
}

// Conflicts handles GET /api/sync/conflicts.
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	records, err := h.conflicts.Open()
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, map[string]interface{}{
		"conflicts": records,
		"count":     len(records),
	})
}

// resolveConflictRequest is the wire shape for conflict resolution.
type resolveConflictRequest struct {
	Strategy string `json:"strategy,omitempty"`
}

// ResolveConflict handles POST /api/sync/conflicts/{id}/resolve.
func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	if !h.gate.HasPermission(session.ActionResolve) {
		writeFail(w, http.StatusForbidden, apperrors.ErrPermission, "not permitted to resolve conflicts")
		return
	}

	id := r.PathValue("id")

	var req resolveConflictRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	var strategy conflict.Strategy
	switch req.Strategy {
	case "", "furthest_state_wins":
		strategy = nil // store default
	default:
		writeFail(w, http.StatusBadRequest, apperrors.ErrInvalid, "unknown strategy "+req.Strategy)
		return
	}

	resolved, err := h.conflicts.Resolve(id, strategy)
	if err != nil {
		writeError(w, err)
		return
	}
	if !resolved {
		writeFail(w, http.StatusConflict, apperrors.ErrDuplicate, "conflict already resolved")
		return
	}

	writeOK(w, map[string]interface{}{
		"conflict_id": id,
		"resolved":    true,
	})
}
