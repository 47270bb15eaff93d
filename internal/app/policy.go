package app

import "time"

// Policy is the configuration port used by the application.
// Implemented by internal/policy.Policy.
type Policy interface {
	StateFile() string
	SignalFilePath() string
	Namespace() string
	SyncInterval() time.Duration
	DuplicateWindow() time.Duration
	IsToolEnabled(name string) bool
}
