package app

import (
	"github.com/jaakkos/attendsync/internal/domain"
	"github.com/jaakkos/attendsync/internal/identity"
)

// mergeRemote combines the authoritative remote set with the local queue:
// remote rows overlaid by dirty local copies with the same id, followed by
// every provisional entity. Remote rows missing locally are taken as is and
// local canonical entities missing remotely disappear.
//
// fresh names canonical entities the backend acknowledged after remoteSet
// was fetched. Their local copy wins over the remote row and is kept even
// when the row is missing.
func mergeRemote[T domain.Entity[T]](remoteSet, local []T, fresh map[string]struct{}) []T {
	dirty := make(map[string]T)
	var provisional, acked []T
	for _, v := range local {
		m := v.SyncMeta()
		_, isFresh := fresh[m.ID]
		switch {
		case identity.IsProvisional(m.ID):
			provisional = append(provisional, v)
		case isFresh:
			dirty[m.ID] = v
			acked = append(acked, v)
		case m.Dirty:
			dirty[m.ID] = v
		}
	}

	merged := make([]T, 0, len(remoteSet)+len(provisional))
	seen := make(map[string]struct{}, len(remoteSet))
	for _, r := range remoteSet {
		id := r.SyncMeta().ID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if d, ok := dirty[id]; ok {
			merged = append(merged, d)
			continue
		}
		merged = append(merged, r)
	}
	for _, v := range acked {
		if _, ok := seen[v.SyncMeta().ID]; !ok {
			merged = append(merged, v)
		}
	}
	return append(merged, provisional...)
}

// indexOf returns the position of id in items, or -1.
func indexOf[T domain.Entity[T]](items []T, id string) int {
	for i, v := range items {
		if v.SyncMeta().ID == id {
			return i
		}
	}
	return -1
}

// isQueued reports whether v still needs a remote write.
func isQueued(m domain.Meta) bool {
	return identity.IsProvisional(m.ID) || m.Dirty
}
