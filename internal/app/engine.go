package app

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jaakkos/attendsync/internal/domain"
	"github.com/jaakkos/attendsync/internal/identity"
	"github.com/jaakkos/attendsync/internal/remote"
)

// Reachability reports whether the remote backend is believed reachable.
// Implemented by netstate.Monitor.
type Reachability interface {
	Online() bool
}

// Engine is the offline-first sync engine. Local writes always land in the
// cache first; remote writes are attempted when reachable and otherwise
// queued for the next reconciliation pass.
//
// The cache mutex serializes every load-modify-save and is never held
// across a remote call.
type Engine struct {
	cache  CacheRepository
	remote remote.Backend
	net    Reachability
	logger *log.Logger
	window time.Duration
	now    func() time.Time
	mint   func() string

	mu       sync.Mutex
	inflight map[string]struct{} // ids with a remote write in progress; guarded by mu

	// Acknowledgements that may postdate an in-flight fetch; guarded by mu.
	ackSeq   uint64
	acked    map[string]uint64 // collection/id -> ackSeq at acknowledgement
	fetching map[uint64]int    // ackSeq at fetch start -> fetches still in flight

	running  atomic.Bool // a reconciliation pass is in progress
	notifier Triggerable // optional; set via SetNotifier after construction
	events   eventHub

	students   *Collection[domain.Student]
	attendance *Collection[domain.AttendanceRecord]
	documents  *Collection[domain.Document]
}

// Triggerable is something that can be triggered after a cache write (e.g. Notifier).
type Triggerable interface {
	Trigger()
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithIDMinter replaces identity.Mint for provisional ids.
func WithIDMinter(mint func() string) EngineOption {
	return func(e *Engine) { e.mint = mint }
}

// NewEngine returns an Engine over cache and backend. The duplicate window is
// taken from policy (DefaultDuplicateWindow when unset).
func NewEngine(cache CacheRepository, backend remote.Backend, net Reachability, policy Policy, logger *log.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		cache:    cache,
		remote:   backend,
		net:      net,
		logger:   logger,
		window:   DefaultDuplicateWindow,
		now:      time.Now,
		mint:     identity.Mint,
		inflight: make(map[string]struct{}),
		acked:    make(map[string]uint64),
		fetching: make(map[uint64]int),
	}
	if policy != nil && policy.DuplicateWindow() > 0 {
		e.window = policy.DuplicateWindow()
	}
	for _, o := range opts {
		o(e)
	}

	e.students = &Collection[domain.Student]{e: e, b: binding[domain.Student]{
		name: domain.CollectionStudents,
		get:  func(s *domain.Snapshot) []domain.Student { return s.Students },
		put:  func(v []domain.Student) domain.PartialSnapshot { return domain.PartialSnapshot{Students: &v} },
	}}
	e.attendance = &Collection[domain.AttendanceRecord]{e: e, b: binding[domain.AttendanceRecord]{
		name: domain.CollectionAttendance,
		get:  func(s *domain.Snapshot) []domain.AttendanceRecord { return s.AttendanceRecords },
		put: func(v []domain.AttendanceRecord) domain.PartialSnapshot {
			return domain.PartialSnapshot{AttendanceRecords: &v}
		},
		subjectField: "student_id",
		typeField:    "type",
	}}
	e.documents = &Collection[domain.Document]{e: e, b: binding[domain.Document]{
		name: domain.CollectionDocuments,
		get:  func(s *domain.Snapshot) []domain.Document { return s.Documents },
		put:  func(v []domain.Document) domain.PartialSnapshot { return domain.PartialSnapshot{Documents: &v} },
	}}
	return e
}

// SetNotifier attaches a Triggerable (e.g. *Notifier) that is poked after every cache write.
func (e *Engine) SetNotifier(n Triggerable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// Students returns the students collection.
func (e *Engine) Students() *Collection[domain.Student] { return e.students }

// Attendance returns the attendance records collection.
func (e *Engine) Attendance() *Collection[domain.AttendanceRecord] { return e.attendance }

// Documents returns the documents collection.
func (e *Engine) Documents() *Collection[domain.Document] { return e.documents }

// Subscribe returns a channel of sync outcomes and a cancel func that closes it.
// buffer <= 0 selects a default size.
func (e *Engine) Subscribe(buffer int) (<-chan SyncEvent, func()) {
	return e.events.subscribe(buffer)
}

func (e *Engine) publish(ev SyncEvent) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.events.publish(ev)
}

func (e *Engine) online() bool {
	return e.net == nil || e.net.Online()
}

// syncers lists the collections in push/pull order.
func (e *Engine) syncers() []syncer {
	return []syncer{e.students, e.attendance, e.documents}
}

// loadLocked returns the cache snapshot. Caller holds mu.
func (e *Engine) loadLocked() (*domain.Snapshot, error) {
	snap, err := e.cache.Load()
	if err != nil {
		e.logger.Printf("Engine: cache load failed: %v", err)
		return nil, err
	}
	return snap, nil
}

// saveLocked writes p to the cache and pokes the notifier. A durable-write
// failure is logged only; the in-process view is already updated. Caller holds mu.
func (e *Engine) saveLocked(p domain.PartialSnapshot) {
	if err := e.cache.Save(p); err != nil {
		e.logger.Printf("Engine: cache save failed: %v", err)
	}
	if e.notifier != nil {
		e.notifier.Trigger()
	}
}

// claimLocked marks id as having a remote write in flight. It returns false if
// another writer already holds it. Caller holds mu.
func (e *Engine) claimLocked(id string) bool {
	if _, busy := e.inflight[id]; busy {
		return false
	}
	e.inflight[id] = struct{}{}
	return true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}

// PendingStats counts entities still waiting for a remote write.
type PendingStats struct {
	Total        int            `json:"total"`
	Provisional  int            `json:"provisional"`
	Dirty        int            `json:"dirty"`
	ByCollection map[string]int `json:"by_collection"`
}

// Pending counts provisional and dirty entities in the cache.
func (e *Engine) Pending() PendingStats {
	stats := PendingStats{ByCollection: make(map[string]int)}
	e.mu.Lock()
	snap, err := e.loadLocked()
	e.mu.Unlock()
	if err != nil {
		return stats
	}
	for _, s := range e.syncers() {
		p, d := s.queued(snap)
		stats.ByCollection[s.collection()] = p + d
		stats.Provisional += p
		stats.Dirty += d
	}
	stats.Total = stats.Provisional + stats.Dirty
	return stats
}

// LastSync returns the time of the last pass whose pulls all succeeded.
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, err := e.loadLocked()
	if err != nil {
		return time.Time{}
	}
	return snap.LastSync
}

// beginFetchLocked registers a remote fetch and returns its start mark for
// ackedSinceLocked and endFetchLocked. Caller holds mu.
func (e *Engine) beginFetchLocked() uint64 {
	e.fetching[e.ackSeq]++
	return e.ackSeq
}

// endFetchLocked unregisters a fetch and forgets acknowledgements no
// remaining fetch can be older than. Caller holds mu.
func (e *Engine) endFetchLocked(start uint64) {
	if e.fetching[start]--; e.fetching[start] <= 0 {
		delete(e.fetching, start)
	}
	if len(e.fetching) == 0 {
		clear(e.acked)
		return
	}
	oldest := e.ackSeq
	for s := range e.fetching {
		oldest = min(oldest, s)
	}
	for k, seq := range e.acked {
		if seq <= oldest {
			delete(e.acked, k)
		}
	}
}

// stampLocked records that the backend acknowledged collection/id. Only
// needed while a fetch is in flight. Caller holds mu.
func (e *Engine) stampLocked(collection, id string) {
	if len(e.fetching) == 0 {
		return
	}
	e.ackSeq++
	e.acked[collection+"/"+id] = e.ackSeq
}

// ackedSinceLocked returns the ids of collection acknowledged after the
// fetch that started at start. Caller holds mu.
func (e *Engine) ackedSinceLocked(collection string, start uint64) map[string]struct{} {
	prefix := collection + "/"
	var ids map[string]struct{}
	for k, seq := range e.acked {
		if seq <= start || !strings.HasPrefix(k, prefix) {
			continue
		}
		if ids == nil {
			ids = make(map[string]struct{})
		}
		ids[strings.TrimPrefix(k, prefix)] = struct{}{}
	}
	return ids
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Skipped    bool          `json:"skipped,omitempty"` // another pass was running
	Offline    bool          `json:"offline,omitempty"` // backend unreachable, nothing attempted
	Synced     int           `json:"synced"`
	Suppressed int           `json:"suppressed"`
	Dropped    int           `json:"dropped"`
	Failed     int           `json:"failed"`
	PullErrors int           `json:"pull_errors"`
	Started    time.Time     `json:"started,omitzero"`
	Duration   time.Duration `json:"duration"`
}

// Attempted reports whether the pass did any work.
func (r PassResult) Attempted() bool {
	return !r.Skipped && !r.Offline
}

// Reconcile runs one reconciliation pass: push every queued entity of every
// collection, then pull every collection. A pass requested while another is
// running is skipped, not queued. No remote call is made while unreachable.
func (e *Engine) Reconcile(ctx context.Context) PassResult {
	if !e.running.CompareAndSwap(false, true) {
		return PassResult{Skipped: true}
	}
	defer e.running.Store(false)

	res := PassResult{Started: e.now()}
	if !e.online() {
		res.Offline = true
		return res
	}

	for _, s := range e.syncers() {
		if ctx.Err() != nil {
			break
		}
		s.push(ctx, &res)
	}

	for _, s := range e.syncers() {
		if ctx.Err() != nil {
			break
		}
		if err := s.pull(ctx); err != nil {
			res.PullErrors++
			e.logger.Printf("Engine: pull %s failed: %v", s.collection(), err)
			e.publish(SyncEvent{Kind: SyncFailed, Collection: s.collection(), Err: err})
		}
	}
	if res.PullErrors == 0 && ctx.Err() == nil {
		synced := e.now()
		e.mu.Lock()
		e.saveLocked(domain.PartialSnapshot{LastSync: &synced})
		e.mu.Unlock()
	}

	res.Duration = e.now().Sub(res.Started)
	result := res
	e.publish(SyncEvent{Kind: SyncPassCompleted, Result: &result})
	return res
}

// Reconciling reports whether a pass is in progress.
func (e *Engine) Reconciling() bool {
	return e.running.Load()
}
