package attendance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/attendsync/internal/app"
	"github.com/jaakkos/attendsync/internal/domain"
)

func TestSyncStatus(t *testing.T) {
	env := newTestEnv(false)
	mustCall(t, env.srv, "record_attendance", map[string]any{"student_id": "S1"})

	text := mustCall(t, env.srv, "sync_status", map[string]any{})
	for _, want := range []string{"Backend: unreachable", "Queued: 1 (1 new, 0 edited)", "attendance_records: 1", "Last sync: never"} {
		if !strings.Contains(text, want) {
			t.Errorf("sync_status missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Offline:") {
		t.Error("sync_status should not carry the offline banner")
	}
}

func TestSyncNow_PushesQueue(t *testing.T) {
	env := newTestEnv(false)
	mustCall(t, env.srv, "record_attendance", map[string]any{"student_id": "S1"})

	if text := mustCall(t, env.srv, "sync_now", map[string]any{}); !strings.Contains(text, "Backend unreachable") {
		t.Errorf("offline sync_now = %q", text)
	}

	env.monitor.Set(true)
	text := mustCall(t, env.srv, "sync_now", map[string]any{})
	if !strings.Contains(text, "1 synced") {
		t.Errorf("online sync_now = %q", text)
	}
	if n := env.backend.Count(domain.CollectionAttendance); n != 1 {
		t.Errorf("remote records = %d, want 1", n)
	}

	status := mustCall(t, env.srv, "sync_status", map[string]any{})
	if !strings.Contains(status, "Backend: reachable") || !strings.Contains(status, "Queued: 0") {
		t.Errorf("after sync:\n%s", status)
	}
	if strings.Contains(status, "Last sync: never") {
		t.Error("last sync should be recorded after a clean pass")
	}
}

type stubRunner struct {
	calls int
	res   app.PassResult
}

func (s *stubRunner) RunOnce(context.Context) app.PassResult {
	s.calls++
	return s.res
}

func TestSyncNow_UsesRunner(t *testing.T) {
	runner := &stubRunner{res: app.PassResult{Skipped: true}}
	env := newTestEnv(true, WithSyncRunner(runner))

	text := mustCall(t, env.srv, "sync_now", map[string]any{})
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls)
	}
	if !strings.Contains(text, "already running") {
		t.Errorf("skipped pass = %q", text)
	}
}

func TestFormatPass(t *testing.T) {
	res := app.PassResult{Synced: 2, Suppressed: 1, Failed: 1, PullErrors: 1, Duration: 1500 * time.Microsecond}
	got := formatPass(res)
	for _, want := range []string{"2 synced", "1 duplicates suppressed", "1 failed", "1 collection(s) could not be refreshed"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatPass missing %q: %s", want, got)
		}
	}
}

func TestAppendBannerToResult(t *testing.T) {
	result := mcp.NewToolResultText("hello")
	appendBannerToResult(result, " world")
	if text := resultText(t, result); text != "hello world" {
		t.Errorf("appended = %q", text)
	}

	empty := &mcp.CallToolResult{}
	appendBannerToResult(empty, "banner")
	if text := resultText(t, empty); text != "banner" {
		t.Errorf("added = %q", text)
	}
}

func TestBuildBanner(t *testing.T) {
	env := newTestEnv(false)
	if b := buildBanner(env.engine, env.monitor); b != "" {
		t.Errorf("nothing queued: banner = %q", b)
	}
	env.engine.Documents().Write(context.Background(), domain.Document{Title: "T", URL: "u"}, false)
	if b := buildBanner(env.engine, env.monitor); !strings.Contains(b, "1 write(s)") {
		t.Errorf("banner = %q", b)
	}
	env.monitor.Set(true)
	if b := buildBanner(env.engine, env.monitor); b != "" {
		t.Errorf("online: banner = %q", b)
	}
	if b := buildBanner(env.engine, nil); b != "" {
		t.Errorf("no monitor: banner = %q", b)
	}
}
