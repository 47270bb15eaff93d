package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/attendsync/internal/app"
	"github.com/jaakkos/attendsync/internal/domain"
	"github.com/jaakkos/attendsync/internal/netstate"
	"github.com/jaakkos/attendsync/internal/remote"
)

type mockRepository struct {
	mu   sync.Mutex
	snap *domain.Snapshot
}

func (m *mockRepository) Load() (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone(), nil
}

func (m *mockRepository) Save(p domain.PartialSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Apply(p)
	return nil
}

func (m *mockRepository) Close() error { return nil }

type mockPolicy struct{}

func (mockPolicy) StateFile() string              { return "" }
func (mockPolicy) SignalFilePath() string         { return "" }
func (mockPolicy) Namespace() string              { return "test" }
func (mockPolicy) SyncInterval() time.Duration    { return time.Second }
func (mockPolicy) DuplicateWindow() time.Duration { return time.Minute }
func (mockPolicy) IsToolEnabled(string) bool      { return true }

type testEnv struct {
	engine  *app.Engine
	backend *remote.MemoryBackend
	monitor *netstate.Monitor
	srv     *server.MCPServer
}

// newTestEnv builds an engine over an in-memory cache and backend and
// registers every tool on a fresh server.
func newTestEnv(online bool, opts ...RegisterOption) *testEnv {
	backend := remote.NewMemoryBackend()
	monitor := netstate.NewMonitor(online)
	logger := log.New(io.Discard, "", 0)
	engine := app.NewEngine(&mockRepository{snap: domain.NewSnapshot()}, backend, monitor, mockPolicy{}, logger)

	srv := server.NewMCPServer("test", "1.0.0",
		server.WithToolHandlerMiddleware(QueueBannerMiddleware(engine, monitor)),
	)
	Register(srv, engine, logger, append([]RegisterOption{WithReachability(monitor)}, opts...)...)
	return &testEnv{engine: engine, backend: backend, monitor: monitor, srv: srv}
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
// Returns the parsed CallToolResult or an error.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	respJSON := s.HandleMessage(context.Background(), reqJSON)

	respBytes, marshalErr := json.Marshal(respJSON)
	if marshalErr != nil {
		t.Fatalf("marshal response: %v", marshalErr)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}

	return &result, nil
}

// mustCall calls a tool and fails the test on an RPC error.
func mustCall(t *testing.T, s *server.MCPServer, name string, args map[string]any) string {
	t.Helper()
	result, err := callTool(t, s, name, args)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	return resultText(t, result)
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

// listTools returns the names of the tools registered on s.
func listTools(t *testing.T, s *server.MCPServer) map[string]bool {
	t.Helper()
	reqJSON, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"})
	respBytes, err := json.Marshal(s.HandleMessage(context.Background(), reqJSON))
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	names := make(map[string]bool)
	for _, tool := range resp.Result.Tools {
		names[tool.Name] = true
	}
	return names
}
