// Package dashboard provides a JSON API for monitoring the sync engine:
// queue depth, reachability, recent sync outcomes and cached collections.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jaakkos/attendsync/internal/app"
	"github.com/jaakkos/attendsync/internal/domain"
)

const defaultRecentEvents = 50

// StatusSnapshot is the JSON response from /api/status.
type StatusSnapshot struct {
	Timestamp   string           `json:"timestamp"`
	Namespace   string           `json:"namespace,omitempty"`
	Online      bool             `json:"online"`
	Reconciling bool             `json:"reconciling"`
	Pending     app.PendingStats `json:"pending"`
	LastSync    string           `json:"last_sync,omitempty"`
	LastSyncAge string           `json:"last_sync_age"`
	Recent      []EventSnapshot  `json:"recent,omitempty"`
}

// EventSnapshot is one recent sync outcome.
type EventSnapshot struct {
	Kind        string          `json:"kind"`
	Collection  string          `json:"collection,omitempty"`
	ID          string          `json:"id,omitempty"`
	CanonicalID string          `json:"canonical_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      *app.PassResult `json:"result,omitempty"`
	Age         string          `json:"age"`

	at time.Time
}

// CollectionSnapshot is the JSON response from /api/collections/{name}.
type CollectionSnapshot struct {
	Collection string `json:"collection"`
	Source     string `json:"source"` // "cache" or "merged"
	Count      int    `json:"count"`
	Items      any    `json:"items"`
}

// Handler holds dependencies for dashboard HTTP handlers.
type Handler struct {
	engine    *app.Engine
	net       app.Reachability // optional; nil reports online
	namespace string
	keep      int

	mu     sync.Mutex
	recent []EventSnapshot // newest last
}

// HandlerOption configures optional dependencies for the dashboard handler.
type HandlerOption func(*Handler)

// WithReachability reports the monitor's flag in /api/status.
func WithReachability(r app.Reachability) HandlerOption {
	return func(h *Handler) { h.net = r }
}

// WithNamespace labels /api/status with the cache namespace.
func WithNamespace(ns string) HandlerOption {
	return func(h *Handler) { h.namespace = ns }
}

// WithRecentEvents sets how many sync events /api/status keeps (default 50).
func WithRecentEvents(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.keep = n
		}
	}
}

// NewHandler creates a dashboard handler.
func NewHandler(engine *app.Engine, opts ...HandlerOption) *Handler {
	h := &Handler{engine: engine, keep: defaultRecentEvents}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Track records the engine's sync events until ctx is cancelled.
func (h *Handler) Track(ctx context.Context) {
	events, cancel := h.engine.Subscribe(h.keep)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.record(ev)
		}
	}
}

func (h *Handler) record(ev app.SyncEvent) {
	snap := EventSnapshot{
		Kind:        string(ev.Kind),
		Collection:  ev.Collection,
		ID:          ev.ID,
		CanonicalID: ev.CanonicalID,
		Result:      ev.Result,
		at:          ev.At,
	}
	if ev.Err != nil {
		snap.Error = truncate(ev.Err.Error(), 200)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, snap)
	if len(h.recent) > h.keep {
		h.recent = h.recent[len(h.recent)-h.keep:]
	}
}

// RegisterRoutes adds dashboard routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleAPIStatus)
	mux.HandleFunc("/api/collections/", h.handleAPICollection)
	mux.HandleFunc("/api/sync", h.handleAPISync)
	mux.HandleFunc("/health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")

	now := time.Now()
	snap := StatusSnapshot{
		Timestamp:   now.Format(time.RFC3339),
		Namespace:   h.namespace,
		Online:      h.net == nil || h.net.Online(),
		Reconciling: h.engine.Reconciling(),
		Pending:     h.engine.Pending(),
	}
	last := h.engine.LastSync()
	if !last.IsZero() {
		snap.LastSync = last.UTC().Format(time.RFC3339)
	}
	snap.LastSyncAge = relTime(last, now)

	h.mu.Lock()
	for i := len(h.recent) - 1; i >= 0; i-- {
		ev := h.recent[i]
		ev.Age = relTime(ev.at, now)
		snap.Recent = append(snap.Recent, ev)
	}
	h.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
}

func (h *Handler) handleAPICollection(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"GET required"}`))
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/collections/"), "/")
	merged := r.URL.Query().Get("source") == "merged"
	snap := CollectionSnapshot{Collection: name, Source: "cache"}
	if merged {
		snap.Source = "merged"
	}

	switch name {
	case domain.CollectionStudents:
		snap.Count, snap.Items = list(r.Context(), h.engine.Students(), merged)
	case domain.CollectionAttendance:
		snap.Count, snap.Items = list(r.Context(), h.engine.Attendance(), merged)
	case domain.CollectionDocuments:
		snap.Count, snap.Items = list(r.Context(), h.engine.Documents(), merged)
	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown collection " + strconv.Quote(name)})
		return
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
}

func list[T domain.Entity[T]](ctx context.Context, c *app.Collection[T], merged bool) (int, []T) {
	var items []T
	if merged {
		items = c.Read(ctx)
	} else {
		items = c.Local()
	}
	if items == nil {
		items = []T{}
	}
	return len(items), items
}

func (h *Handler) handleAPISync(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"POST required"}`))
		return
	}

	res := h.engine.Reconcile(r.Context())
	if res.Skipped {
		w.WriteHeader(http.StatusConflict)
	}
	_ = json.NewEncoder(w).Encode(res)
}

func relTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return formatDuration(d, "s")
	case d < time.Hour:
		return formatDuration(d, "m")
	case d < 24*time.Hour:
		return formatDuration(d, "h")
	default:
		return t.Format("Jan 2 15:04")
	}
}

func formatDuration(d time.Duration, unit string) string {
	switch unit {
	case "s":
		return strconv.Itoa(int(d.Seconds())) + "s ago"
	case "m":
		return strconv.Itoa(int(d.Minutes())) + "m ago"
	case "h":
		return strconv.Itoa(int(d.Hours())) + "h ago"
	default:
		return d.String()
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
