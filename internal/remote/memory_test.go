package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestMemoryBackend_InsertAssignsCanonicalID(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	row, err := b.Insert(ctx, "students", json.RawMessage(`{"name":"Ana","id":"local_1"}`))
	require.NoError(t, err)

	m := decode(t, row)
	assert.NotEqual(t, "local_1", m["id"])
	assert.NotEmpty(t, m["id"])
	assert.Equal(t, "Ana", m["name"])
	assert.Equal(t, 1, b.Inserts())
}

func TestMemoryBackend_SelectFilterOrderLimit(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	for _, r := range []string{
		`{"student_id":"S1","type":"check_in","timestamp":"2026-03-01T08:00:00Z"}`,
		`{"student_id":"S1","type":"check_out","timestamp":"2026-03-01T16:00:00.5Z"}`,
		`{"student_id":"S2","type":"check_in","timestamp":"2026-03-01T09:00:00Z"}`,
	} {
		_, err := b.Insert(ctx, "attendance_records", json.RawMessage(r))
		require.NoError(t, err)
	}

	rows, err := b.Select(ctx, "attendance_records", Query{
		Filters:    []Filter{{Field: "student_id", Value: "S1"}},
		OrderBy:    "timestamp",
		Descending: true,
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "check_out", decode(t, rows[0])["type"])

	all, err := b.Select(ctx, "attendance_records", Query{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryBackend_UniqueConflict(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	b.Unique("students", "student_id")

	_, err := b.Insert(ctx, "students", json.RawMessage(`{"student_id":"S1"}`))
	require.NoError(t, err)
	_, err = b.Insert(ctx, "students", json.RawMessage(`{"student_id":"S1"}`))
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.True(t, IsPermanent(err))
}

func TestMemoryBackend_UpdateMergesAndMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	row, err := b.Insert(ctx, "students", json.RawMessage(`{"name":"Ana","course":"BSIT"}`))
	require.NoError(t, err)
	id := decode(t, row)["id"].(string)

	updated, err := b.Update(ctx, "students", id, json.RawMessage(`{"name":"Ana Cruz"}`))
	require.NoError(t, err)
	m := decode(t, updated)
	assert.Equal(t, "Ana Cruz", m["name"])
	assert.Equal(t, "BSIT", m["course"])
	assert.Equal(t, id, m["id"])

	_, err = b.Update(ctx, "students", "missing", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackend_Delete(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	row, err := b.Insert(ctx, "documents", json.RawMessage(`{"title":"Handbook"}`))
	require.NoError(t, err)
	id := decode(t, row)["id"].(string)

	require.NoError(t, b.Delete(ctx, "documents", id))
	assert.Equal(t, 0, b.Count("documents"))
	assert.ErrorIs(t, b.Delete(ctx, "documents", id), ErrNotFound)
}

func TestMemoryBackend_FailWith(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	down := errors.New("connection refused")
	b.FailWith(func(op, collection string) error { return down })

	assert.ErrorIs(t, b.Ping(ctx), down)
	_, err := b.Insert(ctx, "students", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, down)
	assert.False(t, IsPermanent(err))

	b.FailWith(nil)
	assert.NoError(t, b.Ping(ctx))
}
