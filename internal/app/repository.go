// Package app implements the offline-first synchronization engine and defines
// its ports (cache repository, configuration).
package app

import (
	"github.com/jaakkos/attendsync/internal/domain"
)

// CacheRepository is the Local Cache Store: the single source of local truth.
// Save merges by collection key and updates the in-process view before
// returning; an error only means durable storage lagged. Close releases
// durable storage and is safe to call twice.
// Implementation: internal/repository/sqlite.
type CacheRepository interface {
	Load() (*domain.Snapshot, error)
	Save(domain.PartialSnapshot) error
	Close() error
}
