package app

import (
	"time"

	"github.com/jaakkos/attendsync/internal/domain"
)

// DefaultDuplicateWindow is the tolerance within which two events of the same
// subject and type are considered the same event.
const DefaultDuplicateWindow = 60 * time.Second

// ShouldInsert reports whether candidate may be inserted given the events
// already stored remotely. It returns false when an existing event has the
// same subject and type and a timestamp within window of the candidate's.
func ShouldInsert(candidate domain.Event, existing []domain.Event, window time.Duration) bool {
	for _, ev := range existing {
		if ev.EventSubject() != candidate.EventSubject() || ev.EventType() != candidate.EventType() {
			continue
		}
		delta := ev.EventTime().Sub(candidate.EventTime())
		if delta < 0 {
			delta = -delta
		}
		if delta <= window {
			return false
		}
	}
	return true
}
