// Package registry persists the per-source page registry: one record per
// discovered URL per attempt, queryable by URL digest.
package registry

import (
	"github.com/sirupsen/logrus"

	"sitecrawl/pkg/config"
	"sitecrawl/pkg/models"
	"sitecrawl/pkg/utils"
)

// Registry stores PageEntry records for one source. Implementations are used
// by a single crawl worker and need not be safe for concurrent use.
type Registry interface {
	// Get returns the most recent entry for urlHash, if any.
	Get(urlHash string) (*models.PageEntry, bool, error)

	// Put appends a new entry. A later Put for the same URL digest (a
	// cross-run retry) supersedes the earlier entry in Get lookups without
	// erasing it.
	Put(entry *models.PageEntry) error

	// Update rewrites the most recent entry for entry.URLHash in place.
	// Used for the discovery -> outcome transition within one run.
	Update(entry *models.PageEntry) error

	// Len returns the total number of stored entries.
	Len() int

	// Flush persists any buffered writes.
	Flush() error

	// Close flushes and releases the backing store.
	Close() error
}

// Open returns the Registry implementation selected by backend, rooted at
// path.
func Open(backend, path string, batchSize int, log *logrus.Entry) (Registry, error) {
	switch backend {
	case config.RegistryBackendFiles:
		return OpenFileRegistry(path, batchSize, log)
	case config.RegistryBackendBadger:
		return OpenBadgerRegistry(path, log)
	default:
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "unknown registry backend '%s'", backend)
	}
}
