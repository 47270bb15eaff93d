// Package attendance exposes the sync engine as MCP tools: attendance
// recording and status, the student and document catalogs, and sync control.
package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/attendsync/internal/app"
)

// SyncRunner runs one reconciliation pass on demand (implemented by *app.Reconciler).
type SyncRunner interface {
	RunOnce(ctx context.Context) app.PassResult
}

// RegisterOption configures optional dependencies for tool registration.
type RegisterOption func(*registerOpts)

type registerOpts struct {
	runner  SyncRunner
	net     app.Reachability
	enabled func(name string) bool
}

// WithSyncRunner routes sync_now through r instead of calling Engine.Reconcile directly.
func WithSyncRunner(r SyncRunner) RegisterOption {
	return func(o *registerOpts) { o.runner = r }
}

// WithReachability reports the monitor's flag in sync_status.
func WithReachability(r app.Reachability) RegisterOption {
	return func(o *registerOpts) { o.net = r }
}

// WithToolFilter registers only the tools for which enabled returns true
// (typically policy.IsToolEnabled).
func WithToolFilter(enabled func(name string) bool) RegisterOption {
	return func(o *registerOpts) { o.enabled = enabled }
}

// engineRunner adapts Engine.Reconcile to SyncRunner.
type engineRunner struct{ engine *app.Engine }

func (r engineRunner) RunOnce(ctx context.Context) app.PassResult { return r.engine.Reconcile(ctx) }

// registry wraps the server so disabled tools are skipped in one place.
type registry struct {
	s       *server.MCPServer
	enabled func(name string) bool
	logger  *log.Logger
}

func (r *registry) add(tool mcp.Tool, handler server.ToolHandlerFunc) {
	if r.enabled != nil && !r.enabled(tool.Name) {
		r.logger.Printf("Tools: %s disabled by config", tool.Name)
		return
	}
	r.s.AddTool(tool, handler)
}

// Register registers the attendance, catalog and sync tools and the prompt
// templates with the mcp-go server.
func Register(s *server.MCPServer, engine *app.Engine, logger *log.Logger, opts ...RegisterOption) {
	o := registerOpts{runner: engineRunner{engine: engine}}
	for _, opt := range opts {
		opt(&o)
	}
	r := &registry{s: s, enabled: o.enabled, logger: logger}

	// Attendance tools (3)
	registerRecordAttendance(r, engine, logger)
	registerCurrentStatus(r, engine)
	registerListAttendance(r, engine)

	// Catalog tools (4)
	registerSaveStudent(r, engine, logger)
	registerListStudents(r, engine)
	registerSaveDocument(r, engine, logger)
	registerListDocuments(r, engine)

	// Sync tools (2)
	registerSyncStatus(r, engine, o.net)
	registerSyncNow(r, o.runner, logger)

	// Prompt templates (front-desk-scan, sync-check)
	registerPrompts(s)
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
