package repository

import (
	"github.com/jaakkos/attendsync/internal/app"
	"github.com/jaakkos/attendsync/internal/repository/sqlite"
)

// NewCacheRepository returns a CacheRepository backed by SQLite at path.
// The path is typically from policy.StateFile() (default ~/.config/attendsync/cache.sqlite).
// Saves touch signalPath so other processes sharing the file can reload.
func NewCacheRepository(path, namespace, signalPath string) (app.CacheRepository, error) {
	return sqlite.New(path, sqlite.WithNamespace(namespace), sqlite.WithSignalFile(signalPath))
}
