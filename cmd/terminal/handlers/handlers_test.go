package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hweilin/ordersync/internal/db"
	"github.com/hweilin/ordersync/internal/models"
	"github.com/hweilin/ordersync/internal/remote"
	"github.com/hweilin/ordersync/internal/session"
	"github.com/hweilin/ordersync/internal/store"
	syncpkg "github.com/hweilin/ordersync/internal/sync"
	"github.com/hweilin/ordersync/internal/sync/conflict"
	"github.com/hweilin/ordersync/internal/sync/retry"
	"github.com/hweilin/ordersync/internal/sync/scheduler"
	"github.com/hweilin/ordersync/internal/validation"
)

// recordingNotifier captures broadcast events for assertions.
type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) BroadcastOrderCreated(orderID, total string) {
	n.events = append(n.events, "order.created")
}
func (n *recordingNotifier) BroadcastOrderUpdated(orderID string) {
	n.events = append(n.events, "order.updated")
}
func (n *recordingNotifier) BroadcastStatusChanged(orderID, status string) {
	n.events = append(n.events, "order.status_changed")
}
func (n *recordingNotifier) BroadcastSyncCompleted(processed, failed, conflicts int) {
	n.events = append(n.events, "sync.completed")
}
func (n *recordingNotifier) BroadcastConflictDetected(entityID string, localRevision, remoteRevision int) {
	n.events = append(n.events, "sync.conflict_detected")
}

// apiBackend is a programmable remote for handler tests.
type apiBackend struct {
	zone      *remote.ZoneCheck
	zoneErr   error
	upsertErr error
}

func (b *apiBackend) UpsertOrder(ctx context.Context, payload json.RawMessage) (*remote.UpsertResult, error) {
	if b.upsertErr != nil {
		return nil, b.upsertErr
	}
	var snap struct {
		ID       string `json:"id"`
		Revision int    `json:"revision"`
	}
	json.Unmarshal(payload, &snap)
	return &remote.UpsertResult{RemoteID: "remote-" + snap.ID, Revision: snap.Revision}, nil
}

func (b *apiBackend) GetOrderRevision(ctx context.Context, localID string) (*remote.RemoteRevision, error) {
	return &remote.RemoteRevision{Found: false}, nil
}

func (b *apiBackend) SearchAddresses(ctx context.Context, query string) ([]remote.Suggestion, error) {
	return []remote.Suggestion{{ID: "1", AddressText: "Harbor Street"}}, nil
}

func (b *apiBackend) ResolveAddress(ctx context.Context, suggestionID string) (*remote.ResolvedAddress, error) {
	return &remote.ResolvedAddress{AddressText: "Harbor Street", ZoneID: "zone-a", Verified: true}, nil
}

func (b *apiBackend) ValidateZone(ctx context.Context, address string, lat, lng float64) (*remote.ZoneCheck, error) {
	if b.zoneErr != nil {
		return nil, b.zoneErr
	}
	if b.zone != nil {
		return b.zone, nil
	}
	return &remote.ZoneCheck{InZone: true, ZoneID: "zone-a"}, nil
}

func (b *apiBackend) FetchZoneSnapshot(ctx context.Context) ([]remote.ZoneSnapshotEntry, error) {
	return nil, nil
}

func (b *apiBackend) Ping(ctx context.Context) error { return nil }

type alwaysOnline struct{}

func (alwaysOnline) Online() bool            { return true }
func (alwaysOnline) Subscribe(fn func(bool)) {}

type testAPI struct {
	mux      *http.ServeMux
	repo     *db.Repository
	gate     *session.Gate
	notifier *recordingNotifier
	backend  *apiBackend
}

func newTestAPI(t *testing.T) *testAPI {
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

	backend := &apiBackend{}
	localStore := store.New(repo)
	conflicts := conflict.NewStore(repo, nil)
	pusher := syncpkg.NewPusher(repo, backend, conflicts)
	retryQueue := retry.NewQueue(backend, 3)
	conn := alwaysOnline{}
	cache := validation.NewOfflineCache(repo, backend, time.Minute)
	orchestrator := validation.NewOrchestrator(backend, cache, conn, time.Second)
	sched := scheduler.New(pusher, retryQueue, cache, conn, nil)
	gate := session.NewGate(true)
	notifier := &recordingNotifier{}

	orderHandler := NewOrderHandler(localStore, pusher, orchestrator, gate, notifier, time.Second)
	syncHandler := NewSyncHandler(repo, pusher, retryQueue, conflicts, sched, gate, notifier, 10*time.Second)
	validationHandler := NewValidationHandler(orchestrator, cache)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", orderHandler.Create)
	mux.HandleFunc("GET /api/orders", orderHandler.List)
	mux.HandleFunc("GET /api/orders/{id}", orderHandler.Get)
	mux.HandleFunc("PATCH /api/orders/{id}", orderHandler.Update)
	mux.HandleFunc("POST /api/orders/{id}/status", orderHandler.UpdateStatus)
	mux.HandleFunc("GET /api/orders/{id}/history", orderHandler.History)
	mux.HandleFunc("GET /api/sync/status", syncHandler.Status)
	mux.HandleFunc("POST /api/sync/drain", syncHandler.Drain)
	mux.HandleFunc("GET /api/sync/conflicts", syncHandler.Conflicts)
	mux.HandleFunc("POST /api/sync/conflicts/{id}/resolve", syncHandler.ResolveConflict)
	mux.HandleFunc("POST /api/validation/validate", validationHandler.Validate)

	return &testAPI{mux: mux, repo: repo, gate: gate, notifier: notifier, backend: backend}
}

func (a *testAPI) request(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, models.Result) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)

	var result models.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("malformed envelope: %v (body %s)", err, rec.Body.String())
	}
	return rec, result
}

func createOrderBody() map[string]interface{} {
	return map[string]interface{}{
		"order_type": "dine_in",
		"items": []map[string]interface{}{
			{"sku": "BURGER", "name": "Cheeseburger", "quantity": 1, "unit_price": "8.50"},
		},
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	t.Run("creates and broadcasts", func(t *testing.T) {
		api := newTestAPI(t)

		rec, result := api.request(t, http.MethodPost, "/api/orders", createOrderBody())
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
		}
		if !result.Success {
			t.Fatalf("envelope failed: %+v", result)
		}
		if len(api.notifier.events) == 0 || api.notifier.events[0] != "order.created" {
			t.Errorf("events = %v, want order.created first", api.notifier.events)
		}
	})

	t.Run("invalid payload is a 400 envelope", func(t *testing.T) {
		api := newTestAPI(t)

		rec, result := api.request(t, http.MethodPost, "/api/orders", map[string]interface{}{
			"order_type": "dine_in",
			"items":      []map[string]interface{}{},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if result.Success {
			t.Error("envelope reported success")
		}
		if result.ErrorCode == "" {
			t.Error("envelope missing error code")
		}
	})

	t.Run("delivery out of zone is blocked without override", func(t *testing.T) {
		api := newTestAPI(t)
		api.backend.zone = &remote.ZoneCheck{InZone: false}

		body := createOrderBody()
		body["order_type"] = "delivery"
		body["delivery_address"] = "999 Nowhere"

		rec, result := api.request(t, http.MethodPost, "/api/orders", body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
		if result.Success {
			t.Error("out-of-zone delivery accepted")
		}
	})

	t.Run("override accepts an unverifiable delivery", func(t *testing.T) {
		api := newTestAPI(t)
		api.backend.zone = &remote.ZoneCheck{InZone: false}

		body := createOrderBody()
		body["order_type"] = "delivery"
		body["delivery_address"] = "999 Nowhere"
		body["override_zone"] = true

		rec, result := api.request(t, http.MethodPost, "/api/orders", body)
		if rec.Code != http.StatusCreated {
			t.Errorf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
		}
		if !result.Success {
			t.Errorf("envelope failed: %+v", result)
		}
	})

	t.Run("permission gate blocks untrusted terminals", func(t *testing.T) {
		api := newTestAPI(t)
		api.gate.SetSession(&session.Session{ID: "s1", Operator: "eve", Roles: nil})

		rec, _ := api.request(t, http.MethodPost, "/api/orders", createOrderBody())
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})
}

func TestOrderLifecycleEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec, result := api.request(t, http.MethodPost, "/api/orders", createOrderBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}

	data := result.Data.(map[string]interface{})
	order := data["order"].(map[string]interface{})
	orderID := order["id"].(string)

	t.Run("get by id", func(t *testing.T) {
		rec, result := api.request(t, http.MethodGet, "/api/orders/"+orderID, nil)
		if rec.Code != http.StatusOK || !result.Success {
			t.Fatalf("get failed: %d %+v", rec.Code, result)
		}
	})

	t.Run("unknown id is a 404 envelope", func(t *testing.T) {
		rec, result := api.request(t, http.MethodGet, "/api/orders/no-such-order", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
		if result.ErrorCode != "ORDER_NOT_FOUND" {
			t.Errorf("error_code = %q, want ORDER_NOT_FOUND", result.ErrorCode)
		}
	})

	t.Run("valid status transition", func(t *testing.T) {
		rec, result := api.request(t, http.MethodPost, "/api/orders/"+orderID+"/status",
			map[string]interface{}{"status": "preparing", "changed_by": "alice"})
		if rec.Code != http.StatusOK || !result.Success {
			t.Fatalf("transition failed: %d %+v", rec.Code, result)
		}
	})

	t.Run("invalid status transition is a 422 envelope", func(t *testing.T) {
		rec, result := api.request(t, http.MethodPost, "/api/orders/"+orderID+"/status",
			map[string]interface{}{"status": "completed"})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
		if result.ErrorCode != "INVALID_TRANSITION" {
			t.Errorf("error_code = %q, want INVALID_TRANSITION", result.ErrorCode)
		}
	})

	t.Run("history records transitions", func(t *testing.T) {
		rec, result := api.request(t, http.MethodGet, "/api/orders/"+orderID+"/history", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("history failed: %d", rec.Code)
		}
		data := result.Data.(map[string]interface{})
		history := data["history"].([]interface{})
		if len(history) != 2 {
			t.Errorf("history rows = %d, want 2", len(history))
		}
	})

	t.Run("list", func(t *testing.T) {
		rec, result := api.request(t, http.MethodGet, "/api/orders", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("list failed: %d", rec.Code)
		}
		data := result.Data.(map[string]interface{})
		if data["count"].(float64) != 1 {
			t.Errorf("count = %v, want 1", data["count"])
		}
	})
}

func TestSyncEndpoints(t *testing.T) {
	t.Run("drain processes the queue and broadcasts", func(t *testing.T) {
		api := newTestAPI(t)
		api.request(t, http.MethodPost, "/api/orders", createOrderBody())

		rec, result := api.request(t, http.MethodPost, "/api/sync/drain", nil)
		if rec.Code != http.StatusOK || !result.Success {
			t.Fatalf("drain failed: %d %+v", rec.Code, result)
		}

		found := false
		for _, e := range api.notifier.events {
			if e == "sync.completed" {
				found = true
			}
		}
		if !found {
			t.Errorf("events = %v, want sync.completed", api.notifier.events)
		}
	})

	t.Run("status reports queue depth", func(t *testing.T) {
		api := newTestAPI(t)
		// Block pushes so the entry stays queued for the assertion.
		api.backend.upsertErr = context.DeadlineExceeded
		api.request(t, http.MethodPost, "/api/orders", createOrderBody())

		rec, result := api.request(t, http.MethodGet, "/api/sync/status", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status failed: %d", rec.Code)
		}
		data := result.Data.(map[string]interface{})
		if data["queue_pending"].(float64) < 1 {
			t.Errorf("queue_pending = %v, want >= 1", data["queue_pending"])
		}
	})

	t.Run("conflicts list and resolve", func(t *testing.T) {
		api := newTestAPI(t)

		rec, err := api.repo.CreateConflict(&models.ConflictRecord{
			EntityType: "order", EntityID: "o1",
			LocalRevision: 2, RemoteRevision: 3,
			LocalStatus: models.StatusReady, RemoteStatus: models.StatusCompleted,
		})
		if err != nil {
			t.Fatalf("CreateConflict failed: %v", err)
		}

		httpRec, result := api.request(t, http.MethodGet, "/api/sync/conflicts", nil)
		if httpRec.Code != http.StatusOK {
			t.Fatalf("conflicts failed: %d", httpRec.Code)
		}
		data := result.Data.(map[string]interface{})
		if data["count"].(float64) != 1 {
			t.Fatalf("count = %v, want 1", data["count"])
		}

		httpRec, result = api.request(t, http.MethodPost,
			"/api/sync/conflicts/"+string(rec.ID)+"/resolve", map[string]interface{}{})
		if httpRec.Code != http.StatusOK || !result.Success {
			t.Fatalf("resolve failed: %d %+v", httpRec.Code, result)
		}
	})
}

func TestValidateEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec, result := api.request(t, http.MethodPost, "/api/validation/validate",
		map[string]interface{}{"address": "12 Harbor Street"})
	if rec.Code != http.StatusOK || !result.Success {
		t.Fatalf("validate failed: %d %+v", rec.Code, result)
	}

	data := result.Data.(map[string]interface{})
	if data["validation_status"].(string) != "verified" {
		t.Errorf("validation_status = %v, want verified", data["validation_status"])
	}
	if data["isValid"].(bool) != true {
		t.Errorf("isValid = %v, want true", data["isValid"])
	}
}
