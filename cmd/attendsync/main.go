// attendsync: offline-first sync for the attendance log, student roster and
// library documents. Stdio MCP for the local client, HTTP for the dashboard
// API and remote MCP clients.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/attendsync/internal/app"
	"github.com/jaakkos/attendsync/internal/dashboard"
	"github.com/jaakkos/attendsync/internal/netstate"
	"github.com/jaakkos/attendsync/internal/policy"
	"github.com/jaakkos/attendsync/internal/remote"
	"github.com/jaakkos/attendsync/internal/repository"
	"github.com/jaakkos/attendsync/internal/tools/attendance"
)

// Version is set by -ldflags at build time.
var Version = "dev"

func main() {
	// Handle CLI subcommands before starting the MCP server.
	headless := false
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			runStatusCommand()
			return
		case "sync":
			runSyncCommand()
			return
		case "serve":
			headless = true
		case "--version", "-v", "version":
			fmt.Println("attendsync " + Version)
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q (want status, sync, serve or version)\n", os.Args[1])
			os.Exit(2)
		}
	}

	// Load config
	tmpLogger := log.New(os.Stderr, "[attendsync] ", log.LstdFlags|log.Lshortfile)
	cfg := loadConfig(tmpLogger)
	pol := policy.New(cfg)

	// Set up logging
	logger := setupLogger(pol.LogFile())
	logger.Println("Starting attendsync...")
	logger.Printf("Log file: %s", pol.LogFile())
	logger.Printf("Cache: %s (namespace %s)", pol.StateFile(), pol.Namespace())
	logger.Printf("Backend: %s", pol.RemoteURL())

	rt, err := newBundle(pol, logger)
	if err != nil {
		logger.Fatalf("Startup: %v", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ignore SIGHUP so the server keeps running when daemonized (nohup, launchd, etc.)
	signal.Ignore(syscall.SIGHUP)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Subscribe before the first probe so an initially reachable backend
	// queues a transition and the reconciler runs a pass on startup.
	transitions, unsubscribe := rt.monitor.Subscribe()
	defer unsubscribe()

	// Reachability: probe once up front so the first writes go straight to
	// the backend when it is up, then keep probing in the background.
	prober := netstate.NewProber(rt.backend, rt.monitor, logger,
		netstate.WithProbeInterval(pol.ProbeInterval()),
		netstate.WithProbeTimeout(pol.ProbeTimeout()),
	)
	prober.ProbeOnce(ctx)
	go prober.Start(ctx)

	// Session store for push notifications (holds actual ClientSession objects)
	sessions := newSessionStore()

	// Build the MCPServer
	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			logger.Printf("Calling tool: %s", message.Params.Name)
		}
	})
	hooks.AddBeforeInitialize(func(ctx context.Context, id any, message *mcp.InitializeRequest) {
		if session := server.ClientSessionFromContext(ctx); session != nil {
			sessions.set(session.SessionID(), session)
			logger.Printf("Client session registered: %s", session.SessionID())
		}
		if message != nil {
			ci := message.Params.ClientInfo
			logger.Printf("Client: %s %s, Protocol: %s", ci.Name, ci.Version, message.Params.ProtocolVersion)
		}
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		sessions.remove(session.SessionID())
		logger.Printf("Client session unregistered: %s", session.SessionID())
	})

	mcpServer := server.NewMCPServer(
		"attendsync",
		Version,
		server.WithInstructions(attendance.InstructionsText()),
		server.WithToolHandlerMiddleware(attendance.QueueBannerMiddleware(rt.engine, rt.monitor)),
		server.WithHooks(hooks),
	)

	notifier := app.NewNotifier(pol.SignalFilePath(), rt.engine, sessions.pushFunc(logger), logger,
		app.WithReloader(rt.reloader()),
	)
	rt.engine.SetNotifier(notifier)
	go notifier.Start(ctx)

	// Reconciliation loop: interval passes plus an immediate pass whenever
	// the backend becomes reachable again.
	reconciler := app.NewReconciler(rt.engine, transitions, logger,
		app.WithReconcileInterval(pol.SyncInterval()),
		app.WithReconcilerNotifier(notifier),
	)
	go reconciler.Start(ctx)

	attendance.Register(mcpServer, rt.engine, logger,
		attendance.WithSyncRunner(reconciler),
		attendance.WithReachability(rt.monitor),
		attendance.WithToolFilter(pol.IsToolEnabled),
	)

	// Dashboard API and streamable MCP over HTTP (optional)
	dash := dashboard.NewHandler(rt.engine,
		dashboard.WithReachability(rt.monitor),
		dashboard.WithNamespace(pol.Namespace()),
	)
	go dash.Track(ctx)

	httpShutdown := func() {}
	if port := pol.HTTPPort(); port > 0 || headless {
		httpShutdown = startHTTPServer(mcpServer, dash, port, logger)
	}

	if headless {
		logger.Println("Headless mode: serving HTTP until signalled")
		<-ctx.Done()
	} else {
		// Run stdio server in foreground (for the local client)
		logger.Println("Stdio ready")
		stdioSrv := server.NewStdioServer(mcpServer)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
			logger.Printf("Stdio server stopped: %v", err)
		}
	}

	// Client disconnected or signal received -- shut everything down
	cancel()
	httpShutdown()

	reconciler.Stop()
	notifier.Stop()
	prober.Stop()
	rt.close()

	logger.Println("Server stopped")
}

// bundle holds the cache, backend, reachability monitor and engine shared by
// the server and the one-shot subcommands.
type bundle struct {
	cache   app.CacheRepository
	backend remote.Backend
	monitor *netstate.Monitor
	engine  *app.Engine
	logger  *log.Logger
}

func newBundle(pol *policy.Policy, logger *log.Logger) (*bundle, error) {
	cache, err := repository.NewCacheRepository(pol.StateFile(), pol.Namespace(), pol.SignalFilePath())
	if err != nil {
		return nil, fmt.Errorf("cache repository: %w", err)
	}
	backend := newBackend(pol)
	monitor := netstate.NewMonitor(false)
	engine := app.NewEngine(cache, backend, monitor, pol, logger)
	return &bundle{cache: cache, backend: backend, monitor: monitor, engine: engine, logger: logger}, nil
}

// reloader returns the cache as a Reloader, or nil if it cannot reload.
func (rt *bundle) reloader() app.Reloader {
	if r, ok := rt.cache.(app.Reloader); ok {
		return r
	}
	return nil
}

func (rt *bundle) close() {
	if err := rt.cache.Close(); err != nil {
		rt.logger.Printf("Warning: close cache: %v", err)
	}
}

// newBackend selects the in-process backend or the REST client from config.
func newBackend(pol *policy.Policy) remote.Backend {
	url := pol.RemoteURL()
	if url == policy.RemoteMemory {
		return remote.NewMemoryBackend()
	}
	return remote.NewRESTBackend(url, pol.RemoteAPIKey(), remote.WithTimeout(pol.RemoteTimeout()))
}

// startHTTPServer starts the HTTP server in the background for the dashboard
// API and remote MCP clients. Returns a shutdown function. Uses net.Listen to
// support port 0 (auto-assign).
func startHTTPServer(mcpServer *server.MCPServer, dash *dashboard.Handler, port int, logger *log.Logger) func() {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Fatalf("HTTP listen: %v", err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port
	baseURL := fmt.Sprintf("http://localhost:%d", actualPort)

	logger.Printf("HTTP server on :%d", actualPort)
	logger.Printf("  MCP clients connect at:  %s/mcp", baseURL)
	logger.Printf("  Status API:              %s/api/status", baseURL)

	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))
	dash.RegisterRoutes(mux)

	httpServer := &http.Server{Handler: mux}

	go func() {
		if err := httpServer.Serve(ln); err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}
}

// sessionStore holds active ClientSession objects for push notifications.
type sessionStore struct {
	mu   sync.RWMutex
	data map[string]server.ClientSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{data: make(map[string]server.ClientSession)}
}

func (ss *sessionStore) set(id string, s server.ClientSession) {
	ss.mu.Lock()
	ss.data[id] = s
	ss.mu.Unlock()
}

func (ss *sessionStore) remove(id string) {
	ss.mu.Lock()
	delete(ss.data, id)
	ss.mu.Unlock()
}

func (ss *sessionStore) snapshot() []server.ClientSession {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]server.ClientSession, 0, len(ss.data))
	for _, s := range ss.data {
		out = append(out, s)
	}
	return out
}

// pushFunc returns the notifier's push function: it sends the notification
// to every initialized session without blocking.
func (ss *sessionStore) pushFunc(logger *log.Logger) func(method string, params any) error {
	return func(method string, params any) error {
		fields, err := toFields(params)
		if err != nil {
			return err
		}
		for _, session := range ss.snapshot() {
			if !session.Initialized() {
				continue
			}
			notification := mcp.JSONRPCNotification{
				JSONRPC: "2.0",
				Notification: mcp.Notification{
					Method: method,
					Params: mcp.NotificationParams{AdditionalFields: fields},
				},
			}
			select {
			case session.NotificationChannel() <- notification:
			default:
				logger.Printf("Notifier: push to %s dropped (channel full)", session.SessionID())
			}
		}
		return nil
	}
}

// toFields flattens params into notification fields via its JSON form.
func toFields(params any) (map[string]any, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode notification params: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("decode notification params: %w", err)
	}
	return fields, nil
}

// setupLogger creates a logger that writes to a log file and optionally stderr.
// When stderr is a terminal (interactive use), logs go to both stderr and the file.
// When stderr is redirected (daemon mode via nohup), logs go only to the file
// to avoid duplicate lines since nohup already redirects stderr to the log file.
func setupLogger(logFilePath string) *log.Logger {
	var writers []io.Writer

	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}

	hasLogFile := false
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[attendsync] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[attendsync] Warning: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}

	// Add stderr if it's a terminal, or if there's no log file (always need at least one output).
	if stderrIsTerminal || !hasLogFile {
		writers = append(writers, os.Stderr)
	}

	return log.New(io.MultiWriter(writers...), "[attendsync] ", log.LstdFlags|log.Lshortfile)
}

// loadConfig loads policy configuration from ATTENDSYNC_CONFIG or defaults.
func loadConfig(logger *log.Logger) *policy.Config {
	cfg := policy.DefaultConfig()
	if configPath := os.Getenv("ATTENDSYNC_CONFIG"); configPath != "" {
		var err error
		cfg, err = policy.LoadConfig(configPath)
		if err != nil {
			logger.Printf("Warning: failed to load config %s: %v, using defaults", configPath, err)
			cfg = policy.DefaultConfig()
		}
	}
	return cfg
}

// statusLine renders "pending=N last_sync=..." for the status subcommand.
func statusLine(stats app.PendingStats, lastSync time.Time) string {
	last := "never"
	if !lastSync.IsZero() {
		last = lastSync.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("pending=%d provisional=%d dirty=%d last_sync=%s", stats.Total, stats.Provisional, stats.Dirty, last)
}

// runStatusCommand implements "attendsync status": queue depth from the local
// cache, without contacting the backend.
func runStatusCommand() {
	logger := log.New(io.Discard, "", 0)
	pol := policy.New(loadConfig(log.New(os.Stderr, "", 0)))

	rt, err := newBundle(pol, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	fmt.Println(statusLine(rt.engine.Pending(), rt.engine.LastSync()))
}

// runSyncCommand implements "attendsync sync": probe the backend and run one
// reconciliation pass.
func runSyncCommand() {
	logger := log.New(os.Stderr, "[attendsync] ", log.LstdFlags)
	pol := policy.New(loadConfig(logger))

	rt, err := newBundle(pol, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	prober := netstate.NewProber(rt.backend, rt.monitor, logger, netstate.WithProbeTimeout(pol.ProbeTimeout()))
	if !prober.ProbeOnce(ctx) {
		fmt.Println("backend unreachable; " + statusLine(rt.engine.Pending(), rt.engine.LastSync()))
		return
	}
	res := rt.engine.Reconcile(ctx)
	fmt.Printf("synced=%d suppressed=%d dropped=%d failed=%d pull_errors=%d\n",
		res.Synced, res.Suppressed, res.Dropped, res.Failed, res.PullErrors)
	fmt.Println(statusLine(rt.engine.Pending(), rt.engine.LastSync()))
}
