package observations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/atmx/atmx/internal/database"
)

// BundleCache stores fetched observation bundles in cache.db so that
// verification and re-settlement paths do not refetch the upstream archive.
// Entries are msgpack-encoded and expire after the configured TTL.
type BundleCache struct {
	db  *database.DB
	ttl time.Duration
	log zerolog.Logger
}

// NewBundleCache creates a bundle cache backed by cache.db.
func NewBundleCache(db *database.DB, ttl time.Duration, log zerolog.Logger) *BundleCache {
	return &BundleCache{
		db:  db,
		ttl: ttl,
		log: log.With().Str("component", "bundle_cache").Logger(),
	}
}

// cacheKey identifies a bundle by cell and window.
func cacheKey(cell string, start, end time.Time) string {
	return fmt.Sprintf("%s|%d|%d", cell, start.UTC().Unix(), end.UTC().Unix())
}

// Get returns a cached bundle if present and fresh.
func (c *BundleCache) Get(cell string, start, end time.Time) (*CellObservationBundle, bool) {
	var data []byte
	err := c.db.QueryRow(`
		SELECT data FROM observation_bundles
		WHERE cache_key = ? AND expires_at > ?
	`, cacheKey(cell, start, end), time.Now().Unix()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("cell", cell).Msg("Bundle cache read failed")
		return nil, false
	}

	var bundle CellObservationBundle
	if err := msgpack.Unmarshal(data, &bundle); err != nil {
		c.log.Warn().Err(err).Str("cell", cell).Msg("Failed to decode cached bundle")
		return nil, false
	}
	return &bundle, true
}

// Put stores a bundle with expiry = now + TTL. Cache failures are logged and
// swallowed; the cache is an optimization, never a correctness dependency.
func (c *BundleCache) Put(bundle *CellObservationBundle) {
	data, err := msgpack.Marshal(bundle)
	if err != nil {
		c.log.Warn().Err(err).Str("cell", bundle.H3Cell).Msg("Failed to encode bundle for cache")
		return
	}

	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO observation_bundles (cache_key, data, expires_at)
		VALUES (?, ?, ?)
	`, cacheKey(bundle.H3Cell, bundle.WindowStart, bundle.WindowEnd), data, time.Now().Add(c.ttl).Unix())
	if err != nil {
		c.log.Warn().Err(err).Str("cell", bundle.H3Cell).Msg("Bundle cache write failed")
	}
}

// DeleteExpired removes stale cache entries and returns the count removed.
func (c *BundleCache) DeleteExpired() (int64, error) {
	result, err := c.db.Exec(`DELETE FROM observation_bundles WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired bundles: %w", err)
	}
	return result.RowsAffected()
}

// CleanupJob removes expired bundle cache entries. Scheduled daily.
type CleanupJob struct {
	cache *BundleCache
	log   zerolog.Logger
}

// NewCleanupJob creates a bundle cache cleanup job.
func NewCleanupJob(cache *BundleCache, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		cache: cache,
		log:   log.With().Str("job", "bundle_cache_cleanup").Logger(),
	}
}

// Run executes the cleanup job.
func (j *CleanupJob) Run() error {
	deleted, err := j.cache.DeleteExpired()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired bundle cache entries")
		return err
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Cleaned up expired bundle cache entries")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "bundle_cache_cleanup"
}
