package validation

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	apperrors "github.com/hweilin/ordersync/internal/errors"
	"github.com/hweilin/ordersync/internal/logging"
	"github.com/hweilin/ordersync/internal/models"
	"github.com/hweilin/ordersync/internal/remote"
)

// CacheRepository is the persistence surface the cache needs.
// Implemented by db.Repository.
type CacheRepository interface {
	GetCacheEntry(fingerprint string) (*models.AddressCacheEntry, error)
	SearchVerifiedEntries(normalizedQuery string, limit int) ([]models.AddressCacheEntry, error)
	ReplaceCacheSnapshot(entries []models.AddressCacheEntry) error
	CacheCount() (int, error)
}

// OfflineCache holds the delivery-zone snapshot used when the live
// validation API is unreachable. It is refreshed from the remote on a
// lower-bounded interval and read-only to every other component.
type OfflineCache struct {
	repo       CacheRepository
	backend    remote.Backend
	minRefresh time.Duration

	mu          sync.Mutex
	lastRefresh time.Time
	refreshing  bool
}

// NewOfflineCache creates an OfflineCache. minRefresh lower-bounds
// refresh frequency so connectivity flapping cannot cause a storm.
func NewOfflineCache(repo CacheRepository, backend remote.Backend, minRefresh time.Duration) *OfflineCache {
	if minRefresh < time.Minute {
		minRefresh = time.Minute
	}
	return &OfflineCache{
		repo:       repo,
		backend:    backend,
		minRefresh: minRefresh,
	}
}

// Lookup returns the cache entry for a fingerprint, or nil on miss.
func (c *OfflineCache) Lookup(fingerprint string) (*models.AddressCacheEntry, error) {
	entry, err := c.repo.GetCacheEntry(fingerprint)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrLocalStore, "cache lookup failed", err)
	}
	return entry, nil
}

// SearchVerified returns verified entries matching the query text.
func (c *OfflineCache) SearchVerified(query string, limit int) ([]models.AddressCacheEntry, error) {
	entries, err := c.repo.SearchVerifiedEntries(NormalizeAddress(query), limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrLocalStore, "cache search failed", err)
	}
	return entries, nil
}

// Refresh replaces the snapshot from the remote backend. Calls inside
// the lower-bound window or while a refresh is running are skipped;
// the skip is not an error.
func (c *OfflineCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshing || time.Since(c.lastRefresh) < c.minRefresh {
		c.mu.Unlock()
		return nil
	}
	c.refreshing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()

	snapshot, err := c.backend.FetchZoneSnapshot(ctx)
	if err != nil {
		logging.Warn("Offline cache refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	now := time.Now().Unix()
	entries := make([]models.AddressCacheEntry, 0, len(snapshot))
	for _, row := range snapshot {
		entries = append(entries, models.AddressCacheEntry{
			Fingerprint:     Fingerprint(row.AddressText, row.Latitude, row.Longitude),
			AddressText:     NormalizeAddress(row.AddressText),
			ZoneID:          row.ZoneID,
			Latitude:        row.Latitude,
			Longitude:       row.Longitude,
			Verified:        row.Verified,
			LastRefreshedAt: now,
		})
	}

	if err := c.repo.ReplaceCacheSnapshot(entries); err != nil {
		return apperrors.Wrap(apperrors.ErrLocalStore, "failed to store cache snapshot", err)
	}

	c.mu.Lock()
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	logging.Info("Offline cache refreshed", map[string]interface{}{
		"entries": len(entries),
	})

	return nil
}

// LastRefresh returns when the snapshot was last replaced.
func (c *OfflineCache) LastRefresh() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefresh
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
