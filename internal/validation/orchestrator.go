package validation

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hweilin/ordersync/internal/logging"
	"github.com/hweilin/ordersync/internal/remote"
)

// Validation status values reported to callers.
const (
	StatusVerified          = "verified"
	StatusOutOfZone         = "out_of_zone"
	StatusUnverifiedOffline = "unverified_offline"
)

// Validation sources.
const (
	SourceOnline       = "online"
	SourceOfflineCache = "offline_cache"
)

// ValidationResult is the outcome of a delivery-zone check. The
// system never silently treats an unverifiable address as valid: an
// offline miss comes back unverified with RequiresOverride set.
type ValidationResult struct {
	IsValid          bool   `json:"isValid"`
	ValidationStatus string `json:"validation_status"`
	RequiresOverride bool   `json:"requires_override"`
	ValidationSource string `json:"validation_source"`
	ZoneID           string `json:"zone_id,omitempty"`
}

// ConnectivitySource reports whether the remote is reachable.
type ConnectivitySource interface {
	Online() bool
}

// Orchestrator performs online-first address validation, degrading to
// the verified subset of the offline cache.
type Orchestrator struct {
	backend remote.Backend
	cache   *OfflineCache
	conn    ConnectivitySource
	timeout time.Duration
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(backend remote.Backend, cache *OfflineCache, conn ConnectivitySource, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Orchestrator{
		backend: backend,
		cache:   cache,
		conn:    conn,
		timeout: timeout,
	}
}

// SearchSuggestions returns autocomplete candidates for a query.
// Online results are merged, deduped by fingerprint and ranked by
// textual match quality; offline the verified cache subset serves.
func (o *Orchestrator) SearchSuggestions(ctx context.Context, query string) ([]remote.Suggestion, error) {
	if o.conn.Online() {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		suggestions, err := o.backend.SearchAddresses(callCtx, query)
		if err == nil {
			return rankSuggestions(dedupeSuggestions(suggestions), query), nil
		}

		logging.Warn("Online address search failed, falling back to cache", map[string]interface{}{
			"query": query,
			"error": err.Error(),
		})
	}

	return o.cacheSuggestions(query)
}

// ResolveDetails fetches full details for a suggestion, falling back
// to the cache entry with the matching fingerprint.
func (o *Orchestrator) ResolveDetails(ctx context.Context, suggestion remote.Suggestion) (*remote.ResolvedAddress, error) {
	if o.conn.Online() {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		resolved, err := o.backend.ResolveAddress(callCtx, suggestion.ID)
		if err == nil {
			return resolved, nil
		}

		logging.Warn("Online address resolution failed, falling back to cache", map[string]interface{}{
			"suggestion_id": suggestion.ID,
			"error":         err.Error(),
		})
	}

	fp := Fingerprint(suggestion.AddressText, suggestion.Latitude, suggestion.Longitude)
	entry, err := o.cache.Lookup(fp)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	return &remote.ResolvedAddress{
		AddressText: entry.AddressText,
		ZoneID:      entry.ZoneID,
		Latitude:    entry.Latitude,
		Longitude:   entry.Longitude,
		Verified:    entry.Verified,
	}, nil
}

// ValidateForDelivery checks whether an address is deliverable.
// Online-first; on failure the verified cache decides; a miss is
// reported unverified and requires a manual override.
func (o *Orchestrator) ValidateForDelivery(ctx context.Context, address string, lat, lng float64) ValidationResult {
	if o.conn.Online() {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		check, err := o.backend.ValidateZone(callCtx, address, lat, lng)
		if err == nil {
			if check.InZone {
				return ValidationResult{
					IsValid:          true,
					ValidationStatus: StatusVerified,
					ValidationSource: SourceOnline,
					ZoneID:           check.ZoneID,
				}
			}
			return ValidationResult{
				IsValid:          false,
				ValidationStatus: StatusOutOfZone,
				ValidationSource: SourceOnline,
			}
		}

		logging.Warn("Online zone validation failed, falling back to cache", map[string]interface{}{
			"address": address,
			"error":   err.Error(),
		})
	}

	return o.validateOffline(address, lat, lng)
}

// validateOffline consults the cache. Only entries explicitly
// verified by a prior online validation count as "in zone".
func (o *Orchestrator) validateOffline(address string, lat, lng float64) ValidationResult {
	entry, err := o.cache.Lookup(Fingerprint(address, lat, lng))
	if err == nil && entry == nil {
		// Coordinates may be absent or jittered; try the text-only key.
		entry, err = o.cache.Lookup(Fingerprint(address, 0, 0))
	}

	if err == nil && entry != nil && entry.Verified {
		return ValidationResult{
			IsValid:          true,
			ValidationStatus: StatusVerified,
			ValidationSource: SourceOfflineCache,
			ZoneID:           entry.ZoneID,
		}
	}

	return ValidationResult{
		IsValid:          false,
		ValidationStatus: StatusUnverifiedOffline,
		RequiresOverride: true,
		ValidationSource: SourceOfflineCache,
	}
}

// cacheSuggestions serves suggestions from the verified cache subset.
func (o *Orchestrator) cacheSuggestions(query string) ([]remote.Suggestion, error) {
	entries, err := o.cache.SearchVerified(query, 10)
	if err != nil {
		return nil, err
	}

	suggestions := make([]remote.Suggestion, 0, len(entries))
	for _, e := range entries {
		suggestions = append(suggestions, remote.Suggestion{
			ID:          e.Fingerprint,
			AddressText: e.AddressText,
			Latitude:    e.Latitude,
			Longitude:   e.Longitude,
			Source:      SourceOfflineCache,
		})
	}

	return rankSuggestions(suggestions, query), nil
}

// dedupeSuggestions collapses suggestions sharing a fingerprint,
// keeping the first occurrence.
func dedupeSuggestions(suggestions []remote.Suggestion) []remote.Suggestion {
	seen := make(map[string]bool)
	out := suggestions[:0]
	for _, s := range suggestions {
		fp := Fingerprint(s.AddressText, s.Latitude, s.Longitude)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, s)
	}
	return out
}

// rankSuggestions orders by textual match quality: prefix matches
// first, then earlier substring position, then alphabetically for a
// stable order.
func rankSuggestions(suggestions []remote.Suggestion, query string) []remote.Suggestion {
	q := NormalizeAddress(query)

	score := func(s remote.Suggestion) int {
		text := NormalizeAddress(s.AddressText)
		if strings.HasPrefix(text, q) {
			return 0
		}
		if i := strings.Index(text, q); i >= 0 {
			return 1 + i
		}
		return 1 << 20
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		si, sj := score(suggestions[i]), score(suggestions[j])
		if si != sj {
			return si < sj
		}
		return suggestions[i].AddressText < suggestions[j].AddressText
	})

	return suggestions
}
