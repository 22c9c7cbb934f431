// Package retry provides the holding area for operations whose
// origin call itself failed (for example, order creation pushed while
// offline). Entries are retried with a bounded attempt count and are
// dropped with a reported failure once exhausted, never silently.
package retry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/hweilin/ordersync/internal/errors"
	"github.com/hweilin/ordersync/internal/logging"
	"github.com/hweilin/ordersync/internal/remote"
	"github.com/hweilin/ordersync/internal/uuid"
)

// Entry is one held operation awaiting retry.
type Entry struct {
	ID              string          `json:"id"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	SavedAt         int64           `json:"saved_at"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	LastError       string          `json:"last_error,omitempty"`
}

// AttemptResult records the outcome of one processed entry.
type AttemptResult struct {
	EntryID    string `json:"entry_id"`
	Success    bool   `json:"success"`
	RetryCount int    `json:"retry_count"`
	Dropped    bool   `json:"dropped"`
	Error      string `json:"error,omitempty"`
}

// ProcessResult summarizes one ProcessRetryQueue pass.
type ProcessResult struct {
	Results          []AttemptResult `json:"results"`
	RemainingInQueue int             `json:"remaining_in_queue"`
}

// Queue holds failed-origin operations in memory, guarded by a mutex.
// Processing is strictly sequential: concurrent attempts on the same
// synthetic id could create duplicate remote rows.
type Queue struct {
	mu         sync.Mutex
	entries    []*Entry
	maxRetries int
	backend    remote.Backend
	processing bool
}

// NewQueue creates a retry queue pushing through the given backend.
func NewQueue(backend remote.Backend, maxRetries int) *Queue {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &Queue{
		backend:    backend,
		maxRetries: maxRetries,
	}
}

// SaveForRetry stores a failed operation's original payload and
// returns the new queue length.
func (q *Queue) SaveForRetry(payload json.RawMessage) (int, string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := &Entry{
		ID:              uuid.New(),
		OriginalPayload: payload,
		SavedAt:         time.Now().Unix(),
		RetryCount:      0,
		MaxRetries:      q.maxRetries,
	}
	q.entries = append(q.entries, entry)

	logging.Info("Operation saved for retry", map[string]interface{}{
		"entry_id":     entry.ID,
		"queue_length": len(q.entries),
	})

	return len(q.entries), entry.ID
}

// Queue returns a snapshot copy of the current entries.
func (q *Queue) Queue() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	return out
}

// Len returns the number of held entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// ProcessRetryQueue iterates the current snapshot sequentially. Each
// entry's original operation is attempted against the remote backend:
// success removes the entry, failure increments its retry count, and
// an exhausted entry is dropped with a reported failure. Only one
// pass runs at a time.
func (q *Queue) ProcessRetryQueue(ctx context.Context) *ProcessResult {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return &ProcessResult{RemainingInQueue: len(q.entries)}
	}
	q.processing = true
	snapshot := make([]*Entry, len(q.entries))
	copy(snapshot, q.entries)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	result := &ProcessResult{}

	for _, entry := range snapshot {
		select {
		case <-ctx.Done():
			result.RemainingInQueue = q.Len()
			return result
		default:
		}

		_, err := q.backend.UpsertOrder(ctx, entry.OriginalPayload)
		if err == nil {
			q.remove(entry.ID)
			result.Results = append(result.Results, AttemptResult{
				EntryID:    entry.ID,
				Success:    true,
				RetryCount: entry.RetryCount,
			})
			logging.Info("Retry succeeded", map[string]interface{}{
				"entry_id": entry.ID,
				"attempts": entry.RetryCount + 1,
			})
			continue
		}

		count, dropped := q.recordFailure(entry.ID, err)
		result.Results = append(result.Results, AttemptResult{
			EntryID:    entry.ID,
			Success:    false,
			RetryCount: count,
			Dropped:    dropped,
			Error:      err.Error(),
		})

		if dropped {
			logging.Error("Retry exhausted, dropping entry",
				apperrors.Wrap(apperrors.ErrRetryExhausted, "max retries reached", err),
				map[string]interface{}{
					"entry_id":    entry.ID,
					"max_retries": entry.MaxRetries,
				})
		} else {
			logging.Warn("Retry failed, keeping entry", map[string]interface{}{
				"entry_id":    entry.ID,
				"retry_count": count,
				"error":       err.Error(),
			})
		}
	}

	result.RemainingInQueue = q.Len()
	return result
}

// remove deletes an entry by id.
func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// recordFailure bumps the retry count and returns the new count plus
// whether the entry was dropped for exhausting its attempts. The
// snapshot in ProcessRetryQueue shares the Entry pointer, so callers
// must report this count rather than re-reading the entry.
func (q *Queue) recordFailure(id string, cause error) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.ID != id {
			continue
		}
		e.RetryCount++
		e.LastError = cause.Error()
		if e.RetryCount >= e.MaxRetries {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e.RetryCount, true
		}
		return e.RetryCount, false
	}
	return 0, false
}
