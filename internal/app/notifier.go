package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounceMs   = 200
	defaultPollInterval = 10 * time.Second
)

// SyncStatusMethod is the notification method pushed to MCP clients.
const SyncStatusMethod = "notifications/sync_status"

// SyncStatusParams is the payload for notifications/sync_status.
type SyncStatusParams struct {
	Pending     int    `json:"pending"`
	Provisional int    `json:"provisional"`
	Dirty       int    `json:"dirty"`
	LastSync    string `json:"last_sync,omitempty"`
	Summary     string `json:"summary"`
}

// StatusSource reports queue counts. Implemented by *Engine.
type StatusSource interface {
	Pending() PendingStats
	LastSync() time.Time
}

// Reloader re-reads durable cache state. Implemented by the SQLite store.
type Reloader interface {
	Reload() error
}

// Notifier watches the cache signal file. When another process wrote the
// cache it reloads the local view; on any change it pushes a
// sync_status notification if the pending counts moved.
type Notifier struct {
	signalPath   string
	source       StatusSource
	reloader     Reloader // optional; nil disables cross-process reloads
	pushFunc     func(method string, params any) error
	logger       *log.Logger
	debounceMs   int
	pollInterval time.Duration

	mu            sync.Mutex
	lastPushedRev string
	lastParams    SyncStatusParams
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
	stopOnce      sync.Once
	stopCh        chan struct{}
	doneCh        chan struct{}
	pushMu        sync.Mutex // serializes checkAndPush to prevent duplicate pushes
}

// NotifierOption configures the notifier.
type NotifierOption func(*Notifier)

// WithPollInterval sets the fallback poll interval (default 10s).
func WithPollInterval(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.pollInterval = d
	}
}

// WithReloader attaches the store to reload when another process wrote the cache.
func WithReloader(r Reloader) NotifierOption {
	return func(n *Notifier) {
		n.reloader = r
	}
}

// NewNotifier creates a notifier. pushFunc is called with SyncStatusMethod and
// SyncStatusParams; if nil, pushes are skipped and only reloads happen.
func NewNotifier(signalPath string, source StatusSource, pushFunc func(method string, params any) error, logger *log.Logger, opts ...NotifierOption) *Notifier {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	n := &Notifier{
		signalPath:   signalPath,
		source:       source,
		pushFunc:     pushFunc,
		logger:       logger,
		debounceMs:   defaultDebounceMs,
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Start starts the file watcher and fallback poll. Returns when ctx is cancelled.
// If fsnotify fails to initialize, falls back to poll-only mode.
func (n *Notifier) Start(ctx context.Context) {
	defer close(n.doneCh)

	watchDir := filepath.Dir(n.signalPath)
	signalName := filepath.Base(n.signalPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		n.logger.Printf("Notifier: fsnotify init failed (%v), using poll-only", err)
		n.useFsnotify = false
	} else {
		n.watcher = watcher
		n.useFsnotify = true
		if err := watcher.Add(watchDir); err != nil {
			n.logger.Printf("Notifier: fsnotify add %s failed (%v), using poll-only", watchDir, err)
			_ = watcher.Close()
			n.watcher = nil
			n.useFsnotify = false
		}
	}

	if n.useFsnotify {
		defer n.watcher.Close()
		go n.watchLoop(ctx, signalName)
	}

	n.pollLoop(ctx)
}

// Stop signals the notifier to stop. Call after cancelling the context passed to Start.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	<-n.doneCh
}

// CheckOnce runs one check-and-push cycle (for testing or manual trigger).
func (n *Notifier) CheckOnce() {
	n.checkAndPush()
}

// Trigger forces a check-and-push cycle, bypassing the revision dedup.
// The engine calls it after every cache write so same-process changes are
// pushed even if fsnotify misses them.
func (n *Notifier) Trigger() {
	n.mu.Lock()
	n.lastPushedRev = ""
	n.mu.Unlock()
	n.triggerDebounced()
}

func (n *Notifier) watchLoop(ctx context.Context, signalName string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != signalName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			n.triggerDebounced()
		case _, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (n *Notifier) triggerDebounced() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.debounceTimer != nil {
		n.debounceTimer.Stop()
	}
	n.debounceTimer = time.AfterFunc(time.Duration(n.debounceMs)*time.Millisecond, func() {
		n.checkAndPush()
	})
}

func (n *Notifier) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.checkAndPush()
		}
	}
}

func (n *Notifier) checkAndPush() {
	// The debounce timer goroutine and the poll loop can both pass the
	// revision check concurrently.
	n.pushMu.Lock()
	defer n.pushMu.Unlock()

	rev := n.readSignalRevision()
	if rev == "" {
		return
	}
	n.mu.Lock()
	if rev == n.lastPushedRev {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	if n.reloader != nil && !IsOwnSignal(rev) {
		if err := n.reloader.Reload(); err != nil {
			n.logger.Printf("Notifier: cache reload failed: %v", err)
		}
	}

	params := n.buildParams()
	n.mu.Lock()
	unchanged := params == n.lastParams
	n.mu.Unlock()
	if unchanged || n.pushFunc == nil {
		n.markPushed(rev, params)
		return
	}

	if err := n.pushFunc(SyncStatusMethod, params); err != nil {
		n.logger.Printf("Notifier: push failed: %v", err)
		return
	}
	n.markPushed(rev, params)
}

func (n *Notifier) markPushed(rev string, params SyncStatusParams) {
	n.mu.Lock()
	n.lastPushedRev = rev
	n.lastParams = params
	n.mu.Unlock()
}

func (n *Notifier) readSignalRevision() string {
	data, err := os.ReadFile(n.signalPath)
	if err != nil {
		return ""
	}
	return string(data)
}

func (n *Notifier) buildParams() SyncStatusParams {
	stats := n.source.Pending()
	p := SyncStatusParams{
		Pending:     stats.Total,
		Provisional: stats.Provisional,
		Dirty:       stats.Dirty,
	}
	if last := n.source.LastSync(); !last.IsZero() {
		p.LastSync = last.UTC().Format(time.RFC3339)
	}
	p.Summary = buildSummary(stats)
	return p
}

func buildSummary(stats PendingStats) string {
	if stats.Total == 0 {
		return "all records synced"
	}
	if stats.Provisional > 0 && stats.Dirty > 0 {
		return fmt.Sprintf("%d record(s) pending sync (%d new, %d edited)", stats.Total, stats.Provisional, stats.Dirty)
	}
	if stats.Provisional > 0 {
		return fmt.Sprintf("%d new record(s) pending sync", stats.Provisional)
	}
	return fmt.Sprintf("%d edited record(s) pending sync", stats.Dirty)
}
