package app

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/jaakkos/attendsync/internal/domain"
	"github.com/jaakkos/attendsync/internal/identity"
	"github.com/jaakkos/attendsync/internal/remote"
)

// binding ties an entity type to its remote collection and snapshot field.
type binding[T domain.Entity[T]] struct {
	name string
	get  func(*domain.Snapshot) []T
	put  func([]T) domain.PartialSnapshot

	// Event-like kinds name the remote fields used for duplicate lookups.
	// Empty for kinds without duplicate suppression.
	subjectField string
	typeField    string
}

// syncer is the type-erased view of a Collection used by reconciliation.
type syncer interface {
	collection() string
	push(ctx context.Context, res *PassResult)
	pull(ctx context.Context) error
	queued(snap *domain.Snapshot) (provisional, dirty int)
}

// Collection is one synchronized entity collection.
type Collection[T domain.Entity[T]] struct {
	e *Engine
	b binding[T]
}

func (c *Collection[T]) collection() string { return c.b.name }

// Name returns the remote collection name.
func (c *Collection[T]) Name() string { return c.b.name }

// Write stores v locally and attempts the matching remote write. For a create
// (isUpdate false) v's id is ignored and a provisional one is minted. For an
// update v carries the full field set of the entity with its id. The returned
// entity is canonical when the remote write succeeded, otherwise provisional
// or dirty; remote failures are published on the event stream, never returned.
func (c *Collection[T]) Write(ctx context.Context, v T, isUpdate bool) T {
	if isUpdate && v.SyncMeta().ID != "" {
		return c.update(ctx, v)
	}
	return c.create(ctx, v)
}

// Read returns the collection. When the backend is reachable the remote set
// is merged with the local queue and cached; otherwise the cached collection
// is returned unchanged.
func (c *Collection[T]) Read(ctx context.Context) []T {
	if c.e.online() {
		merged, err := c.refresh(ctx)
		if err == nil {
			return merged
		}
		c.e.logger.Printf("Engine: read %s from remote failed, serving cache: %v", c.b.name, err)
		c.e.publish(SyncEvent{Kind: SyncFailed, Collection: c.b.name, Err: err})
	}
	return c.Local()
}

// Local returns the cached collection without contacting the backend.
func (c *Collection[T]) Local() []T {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	snap, err := c.e.loadLocked()
	if err != nil {
		return nil
	}
	return c.b.get(snap)
}

// Get returns the cached entity with id.
func (c *Collection[T]) Get(id string) (T, bool) {
	items := c.Local()
	if i := indexOf(items, id); i >= 0 {
		return items[i], true
	}
	var zero T
	return zero, false
}

func (c *Collection[T]) create(ctx context.Context, v T) T {
	e := c.e
	local := v.WithSyncMeta(domain.Meta{ID: e.mint()})
	id := local.SyncMeta().ID

	e.mu.Lock()
	if snap, err := e.loadLocked(); err == nil {
		e.saveLocked(c.b.put(append(c.b.get(snap), local)))
	}
	online := e.online() && e.claimLocked(id)
	e.mu.Unlock()

	if !online {
		e.publish(SyncEvent{Kind: SyncQueued, Collection: c.b.name, ID: id})
		return local
	}
	defer e.release(id)

	canonical, err := c.insert(ctx, local)
	if err != nil {
		e.logger.Printf("Engine: create %s %s queued: %v", c.b.name, id, err)
		e.publish(SyncEvent{Kind: SyncQueued, Collection: c.b.name, ID: id, Err: err})
		return local
	}
	e.mu.Lock()
	result := c.promoteLocked(local, canonical)
	e.mu.Unlock()
	e.publish(SyncEvent{Kind: SyncSynced, Collection: c.b.name, ID: id, CanonicalID: canonical.SyncMeta().ID})
	return result
}

func (c *Collection[T]) update(ctx context.Context, v T) T {
	e := c.e
	id := v.SyncMeta().ID
	meta := domain.Meta{ID: id}
	provisional := identity.IsProvisional(id)
	if !provisional {
		meta.Dirty = true
		meta.DirtyUpdatedAt = e.now()
	}
	local := v.WithSyncMeta(meta)

	e.mu.Lock()
	if snap, err := e.loadLocked(); err == nil {
		items := c.b.get(snap)
		if i := indexOf(items, id); i >= 0 {
			items[i] = local
		} else {
			items = append(items, local)
		}
		e.saveLocked(c.b.put(items))
	}
	// A provisional entity is still a pending create that carries the edit.
	online := !provisional && e.online()
	e.mu.Unlock()

	if !online {
		e.publish(SyncEvent{Kind: SyncQueued, Collection: c.b.name, ID: id})
		return local
	}

	updated, err := c.sendUpdate(ctx, local)
	if err != nil {
		e.logger.Printf("Engine: update %s %s queued: %v", c.b.name, id, err)
		e.publish(SyncEvent{Kind: SyncQueued, Collection: c.b.name, ID: id, Err: err})
		return local
	}
	e.mu.Lock()
	result, acked := c.ackLocked(meta, updated)
	e.mu.Unlock()
	if acked {
		e.publish(SyncEvent{Kind: SyncSynced, Collection: c.b.name, ID: id})
	}
	return result
}

// promoteLocked replaces the provisional entity sent with its canonical
// counterpart. If the provisional entity was edited while the insert was in
// flight, the edit is kept as a dirty update of the canonical id.
// Caller holds mu.
func (c *Collection[T]) promoteLocked(sent, canonical T) T {
	e := c.e
	snap, err := e.loadLocked()
	if err != nil {
		return canonical
	}
	pid, cid := sent.SyncMeta().ID, canonical.SyncMeta().ID
	items := c.b.get(snap)
	out := make([]T, 0, len(items)+1)
	result := canonical
	placed := false
	for _, v := range items {
		switch v.SyncMeta().ID {
		case pid:
			if !reflect.DeepEqual(v, sent) {
				result = v.WithSyncMeta(domain.Meta{ID: cid, Dirty: true, DirtyUpdatedAt: e.now()})
			}
			out = append(out, result)
			placed = true
		case cid:
			// already pulled in; the promoted copy replaces it
		default:
			out = append(out, v)
		}
	}
	if !placed {
		out = append(out, result)
	}
	e.saveLocked(c.b.put(out))
	e.stampLocked(c.b.name, cid)
	return result
}

// ackLocked replaces a dirty entity with the server's copy, unless a newer
// local edit landed after sent was captured. It returns the current local
// entity and whether the acknowledgement was applied. Caller holds mu.
func (c *Collection[T]) ackLocked(sent domain.Meta, updated T) (T, bool) {
	snap, err := c.e.loadLocked()
	if err != nil {
		return updated, false
	}
	items := c.b.get(snap)
	i := indexOf(items, sent.ID)
	if i < 0 {
		// Gone locally (remote deletion pulled in meanwhile); nothing to clear.
		return updated, true
	}
	if !items[i].SyncMeta().DirtyUpdatedAt.Equal(sent.DirtyUpdatedAt) {
		return items[i], false
	}
	items[i] = updated
	c.e.saveLocked(c.b.put(items))
	c.e.stampLocked(c.b.name, sent.ID)
	return updated, true
}

// refresh fetches the remote set, merges it with the local queue and caches
// the result. The local collection is re-read after the fetch so writes made
// while it was in flight are kept, including ones the backend acknowledged
// after the fetch started.
func (c *Collection[T]) refresh(ctx context.Context) ([]T, error) {
	e := c.e
	e.mu.Lock()
	start := e.beginFetchLocked()
	e.mu.Unlock()

	rows, err := e.remote.Select(ctx, c.b.name, remote.Query{})
	var remoteSet []T
	if err == nil {
		remoteSet = c.decodeRows(rows)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.endFetchLocked(start)
	if err != nil {
		return nil, err
	}
	snap, err := e.loadLocked()
	if err != nil {
		return nil, fmt.Errorf("cache load: %w", err)
	}
	merged := mergeRemote(remoteSet, c.b.get(snap), e.ackedSinceLocked(c.b.name, start))
	e.saveLocked(c.b.put(merged))
	return merged, nil
}

func (c *Collection[T]) pull(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

func (c *Collection[T]) queued(snap *domain.Snapshot) (provisional, dirty int) {
	for _, v := range c.b.get(snap) {
		m := v.SyncMeta()
		switch {
		case identity.IsProvisional(m.ID):
			provisional++
		case m.Dirty:
			dirty++
		}
	}
	return provisional, dirty
}

// push attempts a remote write for every queued entity not already in flight.
func (c *Collection[T]) push(ctx context.Context, res *PassResult) {
	e := c.e
	e.mu.Lock()
	snap, err := e.loadLocked()
	if err != nil {
		e.mu.Unlock()
		return
	}
	var queue []T
	for _, v := range c.b.get(snap) {
		m := v.SyncMeta()
		if isQueued(m) && e.claimLocked(m.ID) {
			queue = append(queue, v)
		}
	}
	e.mu.Unlock()

	for _, v := range queue {
		if ctx.Err() == nil {
			c.pushOne(ctx, v, res)
		}
		e.release(v.SyncMeta().ID)
	}
}

func (c *Collection[T]) pushOne(ctx context.Context, v T, res *PassResult) {
	e := c.e
	m := v.SyncMeta()

	if !identity.IsProvisional(m.ID) {
		updated, err := c.sendUpdate(ctx, v)
		switch {
		case err == nil:
			e.mu.Lock()
			c.ackLocked(m, updated)
			e.mu.Unlock()
			res.Synced++
			e.publish(SyncEvent{Kind: SyncSynced, Collection: c.b.name, ID: m.ID})
		case remote.IsPermanent(err):
			e.mu.Lock()
			c.clearDirtyLocked(m)
			e.mu.Unlock()
			res.Dropped++
			e.logger.Printf("Engine: update %s %s dropped: %v", c.b.name, m.ID, err)
			e.publish(SyncEvent{Kind: SyncDropped, Collection: c.b.name, ID: m.ID, Err: err})
		default:
			res.Failed++
			e.publish(SyncEvent{Kind: SyncFailed, Collection: c.b.name, ID: m.ID, Err: err})
		}
		return
	}

	if c.b.subjectField != "" {
		insert, err := c.shouldInsert(ctx, v)
		if err != nil {
			res.Failed++
			e.publish(SyncEvent{Kind: SyncFailed, Collection: c.b.name, ID: m.ID, Err: err})
			return
		}
		if !insert {
			c.drop(m.ID)
			res.Suppressed++
			e.logger.Printf("Engine: %s %s suppressed as duplicate", c.b.name, m.ID)
			e.publish(SyncEvent{Kind: SyncSuppressed, Collection: c.b.name, ID: m.ID})
			return
		}
	}

	canonical, err := c.insert(ctx, v)
	switch {
	case err == nil:
		e.mu.Lock()
		c.promoteLocked(v, canonical)
		e.mu.Unlock()
		res.Synced++
		e.publish(SyncEvent{Kind: SyncSynced, Collection: c.b.name, ID: m.ID, CanonicalID: canonical.SyncMeta().ID})
	case remote.IsPermanent(err):
		c.drop(m.ID)
		res.Dropped++
		e.logger.Printf("Engine: create %s %s dropped: %v", c.b.name, m.ID, err)
		e.publish(SyncEvent{Kind: SyncDropped, Collection: c.b.name, ID: m.ID, Err: err})
	default:
		res.Failed++
		e.publish(SyncEvent{Kind: SyncFailed, Collection: c.b.name, ID: m.ID, Err: err})
	}
}

// shouldInsert checks the backend for an existing event matching v.
func (c *Collection[T]) shouldInsert(ctx context.Context, v T) (bool, error) {
	candidate, ok := any(v).(domain.Event)
	if !ok {
		return true, nil
	}
	rows, err := c.e.remote.Select(ctx, c.b.name, remote.Query{Filters: []remote.Filter{
		{Field: c.b.subjectField, Value: candidate.EventSubject()},
		{Field: c.b.typeField, Value: candidate.EventType()},
	}})
	if err != nil {
		return false, fmt.Errorf("duplicate lookup: %w", err)
	}
	var existing []domain.Event
	for _, r := range c.decodeRows(rows) {
		if ev, ok := any(r).(domain.Event); ok {
			existing = append(existing, ev)
		}
	}
	return ShouldInsert(candidate, existing, c.e.window), nil
}

// drop removes id from the local collection.
func (c *Collection[T]) drop(id string) {
	e := c.e
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, err := e.loadLocked()
	if err != nil {
		return
	}
	items := c.b.get(snap)
	i := indexOf(items, id)
	if i < 0 {
		return
	}
	e.saveLocked(c.b.put(append(items[:i], items[i+1:]...)))
}

// clearDirtyLocked clears the dirty marker of an edit the backend refused, so
// the next pull restores the remote copy. Newer edits stay dirty.
// Caller holds mu.
func (c *Collection[T]) clearDirtyLocked(sent domain.Meta) {
	snap, err := c.e.loadLocked()
	if err != nil {
		return
	}
	items := c.b.get(snap)
	i := indexOf(items, sent.ID)
	if i < 0 || !items[i].SyncMeta().DirtyUpdatedAt.Equal(sent.DirtyUpdatedAt) {
		return
	}
	items[i] = items[i].WithSyncMeta(domain.Meta{ID: sent.ID})
	c.e.saveLocked(c.b.put(items))
}

func (c *Collection[T]) insert(ctx context.Context, v T) (T, error) {
	var zero T
	payload, err := encodeRow(v)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", remote.ErrRejected, err)
	}
	row, err := c.e.remote.Insert(ctx, c.b.name, payload)
	if err != nil {
		return zero, err
	}
	return decodeRow[T](row)
}

func (c *Collection[T]) sendUpdate(ctx context.Context, v T) (T, error) {
	var zero T
	payload, err := encodeRow(v)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", remote.ErrRejected, err)
	}
	row, err := c.e.remote.Update(ctx, c.b.name, v.SyncMeta().ID, payload)
	if err != nil {
		return zero, err
	}
	return decodeRow[T](row)
}

func (c *Collection[T]) decodeRows(rows []json.RawMessage) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := decodeRow[T](r)
		if err != nil {
			c.e.logger.Printf("Engine: skipping undecodable %s row: %v", c.b.name, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// encodeRow returns the wire form of v: its fields without id or sync markers.
func encodeRow[T domain.Entity[T]](v T) (json.RawMessage, error) {
	return json.Marshal(v.WithSyncMeta(domain.Meta{}))
}

// decodeRow parses a remote row into a clean canonical entity.
func decodeRow[T domain.Entity[T]](row json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(row, &v); err != nil {
		return v, fmt.Errorf("decode row: %w", err)
	}
	id := v.SyncMeta().ID
	if id == "" {
		return v, fmt.Errorf("decode row: missing id")
	}
	return v.WithSyncMeta(domain.Meta{ID: id}), nil
}
