package attendance

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/attendsync/internal/app"
)

// registerSyncStatus registers the sync_status tool.
func registerSyncStatus(r *registry, engine *app.Engine, net app.Reachability) {
	r.add(
		mcp.NewTool("sync_status",
			mcp.WithDescription("Show backend reachability, how many local writes are still queued, and when the last full sync finished."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(formatSyncStatus(engine, net, time.Now())), nil
		},
	)
}

func formatSyncStatus(engine *app.Engine, net app.Reachability, now time.Time) string {
	var b strings.Builder
	b.WriteString("=== Sync Status ===\n\n")

	switch {
	case net == nil:
	case net.Online():
		b.WriteString("Backend: reachable\n")
	default:
		b.WriteString("Backend: unreachable (writes are kept locally)\n")
	}
	if engine.Reconciling() {
		b.WriteString("A sync pass is running.\n")
	}

	stats := engine.Pending()
	fmt.Fprintf(&b, "Queued: %d (%d new, %d edited)\n", stats.Total, stats.Provisional, stats.Dirty)
	names := make([]string, 0, len(stats.ByCollection))
	for name := range stats.ByCollection {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if n := stats.ByCollection[name]; n > 0 {
			fmt.Fprintf(&b, "  - %s: %d\n", name, n)
		}
	}

	last := engine.LastSync()
	if last.IsZero() {
		b.WriteString("Last sync: never\n")
	} else {
		fmt.Fprintf(&b, "Last sync: %s (%s ago)\n", last.UTC().Format(time.RFC3339), now.Sub(last).Round(time.Second))
	}
	return b.String()
}

// registerSyncNow registers the sync_now tool.
func registerSyncNow(r *registry, runner SyncRunner, logger *log.Logger) {
	r.add(
		mcp.NewTool("sync_now",
			mcp.WithDescription("Run a reconciliation pass now: push queued writes, then refresh every collection from the backend."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			res := runner.RunOnce(ctx)
			logger.Printf("Tools: sync_now finished (synced=%d failed=%d)", res.Synced, res.Failed)
			return mcp.NewToolResultText(formatPass(res)), nil
		},
	)
}

func formatPass(res app.PassResult) string {
	switch {
	case res.Skipped:
		return "Skipped: a sync pass is already running."
	case res.Offline:
		return "Backend unreachable: nothing was sent. Queued writes will sync when it comes back."
	}
	s := fmt.Sprintf("Sync pass finished in %s: %d synced, %d duplicates suppressed, %d dropped, %d failed.",
		res.Duration.Round(time.Millisecond), res.Synced, res.Suppressed, res.Dropped, res.Failed)
	if res.PullErrors > 0 {
		s += fmt.Sprintf(" %d collection(s) could not be refreshed.", res.PullErrors)
	}
	return s
}
