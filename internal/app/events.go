package app

import (
	"sync"
	"time"
)

// SyncEventKind classifies a SyncEvent.
type SyncEventKind string

const (
	SyncQueued        SyncEventKind = "queued"         // stored locally, remote write deferred
	SyncSynced        SyncEventKind = "synced"         // accepted by the backend
	SyncSuppressed    SyncEventKind = "suppressed"     // duplicate event dropped before insert
	SyncDropped       SyncEventKind = "dropped"        // permanent failure, removed from the queue
	SyncFailed        SyncEventKind = "failed"         // transient failure, still queued
	SyncPassCompleted SyncEventKind = "pass_completed" // reconciliation pass finished
)

const defaultSubscriberBuffer = 64

// SyncEvent reports one outcome of the write path or a reconciliation pass.
type SyncEvent struct {
	Kind        SyncEventKind
	Collection  string
	ID          string // local id the outcome applies to
	CanonicalID string // set when a provisional entity was promoted
	Err         error
	Result      *PassResult // set for SyncPassCompleted
	At          time.Time
}

// eventHub fans SyncEvents out to subscribers. Sends never block: a
// subscriber whose buffer is full misses the event.
type eventHub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan SyncEvent
}

func (h *eventHub) subscribe(buffer int) (<-chan SyncEvent, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]chan SyncEvent)
	}
	id := h.next
	h.next++
	ch := make(chan SyncEvent, buffer)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (h *eventHub) publish(ev SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
