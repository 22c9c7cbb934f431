package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hweilin/ordersync/internal/remote"
)

// flakyBackend answers Ping according to its healthy flag.
type flakyBackend struct {
	healthy bool
}

func (f *flakyBackend) Ping(ctx context.Context) error {
	if f.healthy {
		return nil
	}
	return errors.New("no route to host")
}

func (f *flakyBackend) UpsertOrder(ctx context.Context, payload json.RawMessage) (*remote.UpsertResult, error) {
	return nil, errors.New("not implemented")
}

func (f *flakyBackend) GetOrderRevision(ctx context.Context, localID string) (*remote.RemoteRevision, error) {
	return nil, errors.New("not implemented")
}

func (f *flakyBackend) SearchAddresses(ctx context.Context, query string) ([]remote.Suggestion, error) {
	return nil, nil
}

func (f *flakyBackend) ResolveAddress(ctx context.Context, suggestionID string) (*remote.ResolvedAddress, error) {
	return nil, nil
}

func (f *flakyBackend) ValidateZone(ctx context.Context, address string, lat, lng float64) (*remote.ZoneCheck, error) {
	return nil, nil
}

func (f *flakyBackend) FetchZoneSnapshot(ctx context.Context) ([]remote.ZoneSnapshotEntry, error) {
	return nil, nil
}

func TestMonitor(t *testing.T) {
	t.Run("starts optimistic", func(t *testing.T) {
		m := NewMonitor(&flakyBackend{}, time.Minute)
		if !m.Online() {
			t.Error("expected monitor to assume online at start")
		}
	})

	t.Run("subscribers fire on transitions only", func(t *testing.T) {
		m := NewMonitor(&flakyBackend{}, time.Minute)

		var events []bool
		m.Subscribe(func(online bool) {
			events = append(events, online)
		})

		m.SetOnline(true) // steady state, no event
		m.SetOnline(false)
		m.SetOnline(false) // steady state, no event
		m.SetOnline(true)

		if len(events) != 2 {
			t.Fatalf("events = %d, want 2", len(events))
		}
		if events[0] != false || events[1] != true {
			t.Errorf("events = %v, want [false true]", events)
		}
	})

	t.Run("probe reflects backend health", func(t *testing.T) {
		backend := &flakyBackend{healthy: false}
		m := NewMonitor(backend, time.Minute)

		m.probe(context.Background())
		if m.Online() {
			t.Error("expected offline after failed probe")
		}

		backend.healthy = true
		m.probe(context.Background())
		if !m.Online() {
			t.Error("expected online after successful probe")
		}
	})

	t.Run("start and stop are idempotent", func(t *testing.T) {
		m := NewMonitor(&flakyBackend{healthy: true}, time.Minute)

		ctx := context.Background()
		m.Start(ctx)
		m.Start(ctx)
		m.Stop()
		m.Stop()
	})
}
