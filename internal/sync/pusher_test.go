package sync

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hweilin/ordersync/internal/db"
	apperrors "github.com/hweilin/ordersync/internal/errors"
	"github.com/hweilin/ordersync/internal/logging"
	"github.com/hweilin/ordersync/internal/models"
	"github.com/hweilin/ordersync/internal/remote"
	"github.com/hweilin/ordersync/internal/sync/conflict"
)

// fakeBackend implements remote.Backend with programmable responses.
type fakeBackend struct {
	upserts    int
	upsertErr  error
	failAfter  int // when set, upserts beyond this many successes fail
	revisions  map[string]*remote.RemoteRevision
	nextRemote string
}

func (f *fakeBackend) UpsertOrder(ctx context.Context, payload json.RawMessage) (*remote.UpsertResult, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	if f.failAfter > 0 && f.upserts >= f.failAfter {
		return nil, errors.New("connection reset")
	}
	f.upserts++

	var snap struct {
		ID       string `json:"id"`
		Revision int    `json:"revision"`
	}
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, err
	}

	remoteID := f.nextRemote
	if remoteID == "" {
		remoteID = "remote-" + snap.ID
	}
	if f.revisions == nil {
		f.revisions = map[string]*remote.RemoteRevision{}
	}
	f.revisions[snap.ID] = &remote.RemoteRevision{
		Found: true, RemoteID: remoteID, Revision: snap.Revision,
	}
	return &remote.UpsertResult{RemoteID: remoteID, Revision: snap.Revision}, nil
}

func (f *fakeBackend) GetOrderRevision(ctx context.Context, localID string) (*remote.RemoteRevision, error) {
	if rev, ok := f.revisions[localID]; ok {
		return rev, nil
	}
	return &remote.RemoteRevision{Found: false}, nil
}

func (f *fakeBackend) SearchAddresses(ctx context.Context, query string) ([]remote.Suggestion, error) {
	return nil, nil
}

func (f *fakeBackend) ResolveAddress(ctx context.Context, suggestionID string) (*remote.ResolvedAddress, error) {
	return nil, nil
}

func (f *fakeBackend) ValidateZone(ctx context.Context, address string, lat, lng float64) (*remote.ZoneCheck, error) {
	return nil, nil
}

func (f *fakeBackend) FetchZoneSnapshot(ctx context.Context) ([]remote.ZoneSnapshotEntry, error) {
	return nil, nil
}

func (f *fakeBackend) Ping(ctx context.Context) error { return nil }

// closingBackend severs the database before failing the revision
// check, so the follow-up sync state restore cannot succeed either.
type closingBackend struct {
	fakeBackend
	db *sql.DB
}

func (c *closingBackend) GetOrderRevision(ctx context.Context, localID string) (*remote.RemoteRevision, error) {
	c.db.Close()
	return nil, errors.New("connection refused")
}

func newTestPusher(t *testing.T, backend remote.Backend) (*Pusher, *db.Repository) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.Migrate(database.DB); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo := db.NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })

	conflicts := conflict.NewStore(repo, nil)
	return NewPusher(repo, backend, conflicts), repo
}

func createOrder(t *testing.T, repo *db.Repository) *models.Order {
	t.Helper()

	order := &models.Order{
		OrderType: models.OrderTypeTakeout,
		Items: []models.OrderItem{
			{SKU: "TEA", Name: "Tea", Quantity: 1,
				UnitPrice: decimal.RequireFromString("2.50"),
				LineTotal: decimal.RequireFromString("2.50")},
		},
		Subtotal:    decimal.RequireFromString("2.50"),
		TotalAmount: decimal.RequireFromString("2.50"),
	}
	if err := repo.CreateOrder(order); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	return order
}

func TestDrainQueue(t *testing.T) {
	t.Run("pushes pending entries and reconciles remote ids", func(t *testing.T) {
		backend := &fakeBackend{}
		pusher, repo := newTestPusher(t, backend)
		order := createOrder(t, repo)

		result, err := pusher.DrainQueue(context.Background(), time.Minute)
		if err != nil {
			t.Fatalf("DrainQueue failed: %v", err)
		}
		if result.Processed != 1 {
			t.Errorf("processed = %d, want 1", result.Processed)
		}

		loaded, err := repo.GetOrder(string(order.ID))
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if loaded.SyncState != models.SyncStateSynced {
			t.Errorf("sync_state = %s, want synced", loaded.SyncState)
		}
		if loaded.RemoteID == "" {
			t.Error("expected remote id to be reconciled")
		}
		if loaded.PushedRevision != loaded.Revision {
			t.Errorf("pushed_revision = %d, want %d", loaded.PushedRevision, loaded.Revision)
		}

		n, _ := repo.PendingCount()
		if n != 0 {
			t.Errorf("pending = %d, want 0", n)
		}
	})

	t.Run("is idempotent across repeated drains", func(t *testing.T) {
		backend := &fakeBackend{}
		pusher, repo := newTestPusher(t, backend)
		createOrder(t, repo)

		if _, err := pusher.DrainQueue(context.Background(), time.Minute); err != nil {
			t.Fatalf("first drain failed: %v", err)
		}
		upserts := backend.upserts

		result, err := pusher.DrainQueue(context.Background(), time.Minute)
		if err != nil {
			t.Fatalf("second drain failed: %v", err)
		}
		if result.Processed != 0 {
			t.Errorf("second drain processed = %d, want 0", result.Processed)
		}
		if backend.upserts != upserts {
			t.Errorf("second drain re-pushed: upserts = %d, want %d", backend.upserts, upserts)
		}
	})

	t.Run("keeps entries when the remote is unreachable", func(t *testing.T) {
		backend := &fakeBackend{upsertErr: apperrors.New(apperrors.ErrNetwork, "connection refused")}
		pusher, repo := newTestPusher(t, backend)
		order := createOrder(t, repo)

		result, err := pusher.DrainQueue(context.Background(), time.Minute)
		if err != nil {
			t.Fatalf("DrainQueue failed: %v", err)
		}
		if result.Failed != 1 {
			t.Errorf("failed = %d, want 1", result.Failed)
		}

		entries, err := repo.EntriesForEntity("order", string(order.ID))
		if err != nil {
			t.Fatalf("EntriesForEntity failed: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("entries = %d, want 1 (kept for next drain)", len(entries))
		}
		if entries[0].Attempts != 1 {
			t.Errorf("attempts = %d, want 1", entries[0].Attempts)
		}

		// Recovery: the same entry succeeds on the next drain.
		backend.upsertErr = nil
		result, err = pusher.DrainQueue(context.Background(), time.Minute)
		if err != nil {
			t.Fatalf("recovery drain failed: %v", err)
		}
		if result.Processed != 1 {
			t.Errorf("recovery processed = %d, want 1", result.Processed)
		}
	})

	t.Run("stops an entity queue on first failure, continues others", func(t *testing.T) {
		backend := &fakeBackend{}
		pusher, repo := newTestPusher(t, backend)

		blocked := createOrder(t, repo)
		if _, err := repo.UpdateOrder(string(blocked.ID), db.OrderPatch{}); err != nil {
			t.Fatalf("UpdateOrder failed: %v", err)
		}
		healthy := createOrder(t, repo)

		// Remote diverged for the blocked order only.
		backend.revisions = map[string]*remote.RemoteRevision{
			string(blocked.ID): {Found: true, Revision: 99, Status: string(models.StatusCompleted)},
		}

		result, err := pusher.DrainQueue(context.Background(), time.Minute)
		if err != nil {
			t.Fatalf("DrainQueue failed: %v", err)
		}

		if result.Conflicts != 1 {
			t.Errorf("conflicts = %d, want 1", result.Conflicts)
		}
		if result.Processed != 1 {
			t.Errorf("processed = %d, want 1 (the healthy order)", result.Processed)
		}

		// Both of the blocked order's entries must remain queued.
		entries, err := repo.EntriesForEntity("order", string(blocked.ID))
		if err != nil {
			t.Fatalf("EntriesForEntity failed: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("blocked entries = %d, want 2", len(entries))
		}

		loadedHealthy, err := repo.GetOrder(string(healthy.ID))
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if loadedHealthy.SyncState != models.SyncStateSynced {
			t.Errorf("healthy order sync_state = %s, want synced", loadedHealthy.SyncState)
		}
	})

	t.Run("partial entity drain leaves the sync state unsettled", func(t *testing.T) {
		backend := &fakeBackend{failAfter: 1}
		pusher, repo := newTestPusher(t, backend)
		order := createOrder(t, repo)
		if _, err := repo.UpdateOrder(string(order.ID), db.OrderPatch{}); err != nil {
			t.Fatalf("UpdateOrder failed: %v", err)
		}

		// First of the two entries pushes, the second fails.
		result, err := pusher.DrainQueue(context.Background(), time.Minute)
		if err != nil {
			t.Fatalf("DrainQueue failed: %v", err)
		}
		if result.Processed != 1 || result.Failed != 1 {
			t.Errorf("processed/failed = %d/%d, want 1/1", result.Processed, result.Failed)
		}

		loaded, err := repo.GetOrder(string(order.ID))
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if loaded.SyncState == models.SyncStateSynced {
			t.Error("order reads synced while an outbox entry is still queued")
		}
		if loaded.PushedRevision != 1 {
			t.Errorf("pushed_revision = %d, want 1", loaded.PushedRevision)
		}
		if loaded.RemoteID == "" {
			t.Error("expected remote id from the first entry")
		}

		// The next drain settles it.
		backend.failAfter = 0
		if _, err := pusher.DrainQueue(context.Background(), time.Minute); err != nil {
			t.Fatalf("recovery drain failed: %v", err)
		}
		loaded, err = repo.GetOrder(string(order.ID))
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if loaded.SyncState != models.SyncStateSynced {
			t.Errorf("sync_state = %s, want synced after recovery", loaded.SyncState)
		}
		if loaded.PushedRevision != 2 {
			t.Errorf("pushed_revision = %d, want 2", loaded.PushedRevision)
		}
	})

	t.Run("only one drain runs at a time", func(t *testing.T) {
		backend := &fakeBackend{}
		pusher, _ := newTestPusher(t, backend)

		pusher.mu.Lock()
		pusher.status = PushStatusDraining
		pusher.mu.Unlock()

		_, err := pusher.DrainQueue(context.Background(), time.Minute)
		if apperrors.CodeOf(err) != apperrors.ErrDuplicate {
			t.Errorf("error code = %v, want %v", apperrors.CodeOf(err), apperrors.ErrDuplicate)
		}
	})
}

func TestConflictDetection(t *testing.T) {
	t.Run("divergent remote revision records a conflict instead of overwriting", func(t *testing.T) {
		backend := &fakeBackend{}
		pusher, repo := newTestPusher(t, backend)
		order := createOrder(t, repo)

		backend.revisions = map[string]*remote.RemoteRevision{
			string(order.ID): {Found: true, RemoteID: "remote-x", Revision: 7, Status: string(models.StatusCancelled)},
		}

		result, err := pusher.DrainQueue(context.Background(), time.Minute)
		if err != nil {
			t.Fatalf("DrainQueue failed: %v", err)
		}
		if result.Conflicts != 1 {
			t.Fatalf("conflicts = %d, want 1", result.Conflicts)
		}
		if backend.upserts != 0 {
			t.Errorf("upserts = %d, want 0 (local state must not overwrite the remote)", backend.upserts)
		}

		loaded, err := repo.GetOrder(string(order.ID))
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if loaded.SyncState != models.SyncStateConflict {
			t.Errorf("sync_state = %s, want conflict", loaded.SyncState)
		}

		open, err := repo.OpenConflicts()
		if err != nil {
			t.Fatalf("OpenConflicts failed: %v", err)
		}
		if len(open) != 1 {
			t.Fatalf("open conflicts = %d, want 1", len(open))
		}
		rec := open[0]
		if rec.RemoteRevision != 7 {
			t.Errorf("remote_revision = %d, want 7", rec.RemoteRevision)
		}
		if rec.RemoteStatus != models.StatusCancelled {
			t.Errorf("remote_status = %s, want cancelled", rec.RemoteStatus)
		}
		if rec.LocalRevision != order.Revision {
			t.Errorf("local_revision = %d, want %d", rec.LocalRevision, order.Revision)
		}
	})

	t.Run("matching pushed revision is not a conflict", func(t *testing.T) {
		backend := &fakeBackend{}
		pusher, repo := newTestPusher(t, backend)
		order := createOrder(t, repo)

		// First push establishes pushed_revision = 1 on both sides.
		if _, err := pusher.DrainQueue(context.Background(), time.Minute); err != nil {
			t.Fatalf("first drain failed: %v", err)
		}

		// A local edit bumps revision to 2; the remote still holds 1,
		// which matches what this terminal last pushed.
		if _, err := repo.UpdateOrder(string(order.ID), db.OrderPatch{}); err != nil {
			t.Fatalf("UpdateOrder failed: %v", err)
		}

		result, err := pusher.DrainQueue(context.Background(), time.Minute)
		if err != nil {
			t.Fatalf("second drain failed: %v", err)
		}
		if result.Conflicts != 0 {
			t.Errorf("conflicts = %d, want 0", result.Conflicts)
		}
		if result.Processed != 1 {
			t.Errorf("processed = %d, want 1", result.Processed)
		}

		loaded, err := repo.GetOrder(string(order.ID))
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if loaded.PushedRevision != 2 {
			t.Errorf("pushed_revision = %d, want 2", loaded.PushedRevision)
		}
	})
}

func TestPushOrderNow(t *testing.T) {
	t.Run("pushes immediately and clears the entity queue", func(t *testing.T) {
		backend := &fakeBackend{}
		pusher, repo := newTestPusher(t, backend)
		order := createOrder(t, repo)

		if err := pusher.PushOrderNow(context.Background(), string(order.ID), time.Minute); err != nil {
			t.Fatalf("PushOrderNow failed: %v", err)
		}

		loaded, err := repo.GetOrder(string(order.ID))
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if loaded.SyncState != models.SyncStateSynced {
			t.Errorf("sync_state = %s, want synced", loaded.SyncState)
		}

		entries, err := repo.EntriesForEntity("order", string(order.ID))
		if err != nil {
			t.Fatalf("EntriesForEntity failed: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("entries = %d, want 0 after immediate push", len(entries))
		}
	})

	t.Run("repeated pushes of an unchanged order stay idempotent", func(t *testing.T) {
		backend := &fakeBackend{}
		pusher, repo := newTestPusher(t, backend)
		order := createOrder(t, repo)

		if err := pusher.PushOrderNow(context.Background(), string(order.ID), time.Minute); err != nil {
			t.Fatalf("first push failed: %v", err)
		}
		if err := pusher.PushOrderNow(context.Background(), string(order.ID), time.Minute); err != nil {
			t.Fatalf("second push failed: %v", err)
		}

		// Upserts are keyed by local id: one remote row, no duplicate.
		if len(backend.revisions) != 1 {
			t.Errorf("remote rows = %d, want 1", len(backend.revisions))
		}

		loaded, err := repo.GetOrder(string(order.ID))
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if loaded.PushedRevision != loaded.Revision {
			t.Errorf("pushed_revision = %d, want %d", loaded.PushedRevision, loaded.Revision)
		}
	})

	t.Run("failure defers to the batched drain without rollback", func(t *testing.T) {
		cause := errors.New("connection refused")
		backend := &fakeBackend{upsertErr: cause}
		pusher, repo := newTestPusher(t, backend)
		order := createOrder(t, repo)

		err := pusher.PushOrderNow(context.Background(), string(order.ID), time.Minute)
		if err == nil {
			t.Fatal("expected push to fail")
		}

		loaded, err := repo.GetOrder(string(order.ID))
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if loaded.SyncState != models.SyncStatePending {
			t.Errorf("sync_state = %s, want pending (kept for the drain)", loaded.SyncState)
		}

		entries, err := repo.EntriesForEntity("order", string(order.ID))
		if err != nil {
			t.Fatalf("EntriesForEntity failed: %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("entries = %d, want 1 (local mutation stays committed)", len(entries))
		}
	})

	t.Run("failed state restore is logged rather than swallowed", func(t *testing.T) {
		database, err := db.Open(t.TempDir())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		t.Cleanup(func() { database.Close() })

		if err := db.Migrate(database.DB); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}

		repo := db.NewRepository(database.DB)
		t.Cleanup(func() { repo.Close() })

		order := createOrder(t, repo)

		var buf bytes.Buffer
		logging.Init(&buf, logging.LevelWarn)
		t.Cleanup(func() { logging.Init(os.Stdout, logging.LevelInfo) })

		backend := &closingBackend{db: database.DB}
		pusher := NewPusher(repo, backend, conflict.NewStore(repo, nil))

		if err := pusher.PushOrderNow(context.Background(), string(order.ID), time.Minute); err == nil {
			t.Fatal("expected push to fail")
		}
		if !strings.Contains(buf.String(), "Failed to restore pending sync state") {
			t.Errorf("missing restore failure log, got %q", buf.String())
		}
	})

	t.Run("refuses to push an order in conflict state", func(t *testing.T) {
		backend := &fakeBackend{}
		pusher, repo := newTestPusher(t, backend)
		order := createOrder(t, repo)

		if err := repo.SetSyncState(string(order.ID), models.SyncStateConflict); err != nil {
			t.Fatalf("SetSyncState failed: %v", err)
		}

		err := pusher.PushOrderNow(context.Background(), string(order.ID), time.Minute)
		if apperrors.CodeOf(err) != apperrors.ErrSyncConflict {
			t.Errorf("error code = %v, want %v", apperrors.CodeOf(err), apperrors.ErrSyncConflict)
		}
	})
}
