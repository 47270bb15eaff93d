package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jaakkos/attendsync/internal/domain"
)

func doc(id, title string) domain.Document {
	return domain.Document{Meta: domain.Meta{ID: id}, Title: title}
}

func TestMergeRemote(t *testing.T) {
	edited := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	dirty := domain.Document{Meta: domain.Meta{ID: "2", Dirty: true, DirtyUpdatedAt: edited}, Title: "local edit"}
	orphanDirty := domain.Document{Meta: domain.Meta{ID: "9", Dirty: true, DirtyUpdatedAt: edited}, Title: "deleted remotely"}
	provisional := doc("local_1_abc", "not yet synced")

	remoteSet := []domain.Document{doc("1", "one"), doc("2", "remote two"), doc("3", "three"), doc("3", "three again")}
	local := []domain.Document{doc("1", "stale one"), dirty, doc("4", "gone"), provisional, orphanDirty}

	got := mergeRemote(remoteSet, local, nil)

	want := []domain.Document{doc("1", "one"), dirty, doc("3", "three"), provisional}
	assert.Equal(t, want, got)
}

func TestMergeRemote_EmptyRemoteKeepsProvisional(t *testing.T) {
	got := mergeRemote(nil, []domain.Document{doc("5", "canonical"), doc("local_2_def", "queued")}, nil)
	assert.Equal(t, []domain.Document{doc("local_2_def", "queued")}, got)
}

func TestMergeRemote_FreshAcknowledgementsKept(t *testing.T) {
	remoteSet := []domain.Document{doc("1", "one"), doc("2", "before update")}
	local := []domain.Document{doc("1", "one"), doc("2", "after update"), doc("7", "inserted during fetch"), doc("8", "stale")}
	fresh := map[string]struct{}{"2": {}, "7": {}}

	got := mergeRemote(remoteSet, local, fresh)

	want := []domain.Document{doc("1", "one"), doc("2", "after update"), doc("7", "inserted during fetch")}
	assert.Equal(t, want, got)
}

type ev struct {
	subject, typ string
	at           time.Time
}

func (e ev) EventSubject() string { return e.subject }
func (e ev) EventType() string    { return e.typ }
func (e ev) EventTime() time.Time { return e.at }

func TestShouldInsert(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	candidate := ev{"S42", domain.EventCheckIn, t0}

	tests := []struct {
		name     string
		existing []domain.Event
		want     bool
	}{
		{"no events", nil, true},
		{"same event 10s earlier", []domain.Event{ev{"S42", domain.EventCheckIn, t0.Add(-10 * time.Second)}}, false},
		{"same event 10s later", []domain.Event{ev{"S42", domain.EventCheckIn, t0.Add(10 * time.Second)}}, false},
		{"exactly at window edge", []domain.Event{ev{"S42", domain.EventCheckIn, t0.Add(time.Minute)}}, false},
		{"outside window", []domain.Event{ev{"S42", domain.EventCheckIn, t0.Add(61 * time.Second)}}, true},
		{"other type", []domain.Event{ev{"S42", domain.EventCheckOut, t0}}, true},
		{"other subject", []domain.Event{ev{"S43", domain.EventCheckIn, t0}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldInsert(candidate, tt.existing, time.Minute))
		})
	}
}
