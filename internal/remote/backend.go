// Package remote provides the client for the shared cloud backend
// all terminals eventually converge toward.
package remote

import (
	"context"
	"encoding/json"
)

// UpsertResult is the remote's acknowledgement of an order upsert.
// Upserts are keyed by local id, so repeated pushes of unchanged
// state never create duplicate remote rows.
type UpsertResult struct {
	RemoteID string `json:"remote_id"`
	Revision int    `json:"revision"` // revision now stored remotely
}

// RemoteRevision is the remote's view of one entity's revision and
// status.
type RemoteRevision struct {
	Found    bool   `json:"found"`
	RemoteID string `json:"remote_id"`
	Revision int    `json:"revision"`
	Status   string `json:"status"`
}

// Suggestion is one address autocomplete candidate.
type Suggestion struct {
	ID          string  `json:"id"`
	AddressText string  `json:"address_text"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Source      string  `json:"source"` // online or offline_cache
}

// ResolvedAddress is the full detail for one suggestion.
type ResolvedAddress struct {
	AddressText string  `json:"address_text"`
	ZoneID      string  `json:"zone_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Verified    bool    `json:"verified"`
}

// ZoneCheck is the remote's verdict on a delivery address.
type ZoneCheck struct {
	InZone bool   `json:"in_zone"`
	ZoneID string `json:"zone_id"`
}

// ZoneSnapshotEntry is one row of the downloadable offline snapshot.
type ZoneSnapshotEntry struct {
	AddressText string  `json:"address_text"`
	ZoneID      string  `json:"zone_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Verified    bool    `json:"verified"`
}

// Backend is the narrow collaborator contract for the remote store.
// Every call is time-bounded through its context; a timed-out call is
// abandoned, never awaited further.
type Backend interface {
	// UpsertOrder pushes an order snapshot keyed by local id.
	UpsertOrder(ctx context.Context, payload json.RawMessage) (*UpsertResult, error)

	// GetOrderRevision fetches the remote's stored revision for a
	// local id, for optimistic conflict checks.
	GetOrderRevision(ctx context.Context, localID string) (*RemoteRevision, error)

	// SearchAddresses queries the live autocomplete endpoint.
	SearchAddresses(ctx context.Context, query string) ([]Suggestion, error)

	// ResolveAddress fetches full place details for a suggestion.
	ResolveAddress(ctx context.Context, suggestionID string) (*ResolvedAddress, error)

	// ValidateZone checks a delivery address against live zones.
	ValidateZone(ctx context.Context, address string, lat, lng float64) (*ZoneCheck, error)

	// FetchZoneSnapshot downloads the full offline validation
	// snapshot for the cache refresh.
	FetchZoneSnapshot(ctx context.Context) ([]ZoneSnapshotEntry, error)

	// Ping probes connectivity.
	Ping(ctx context.Context) error
}
