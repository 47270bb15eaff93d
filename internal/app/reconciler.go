package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jaakkos/attendsync/internal/netstate"
)

// defaultReconcileInterval is how often the reconciler runs a pass.
const defaultReconcileInterval = 10 * time.Second

// Reconciler drives reconciliation passes on an interval and immediately
// whenever the backend becomes reachable again. Each pass runs on its own
// goroutine so a hung remote call cannot delay the next firing; the engine
// skips firings that overlap a running pass.
type Reconciler struct {
	engine      *Engine
	transitions <-chan netstate.Transition
	logger      *log.Logger
	interval    time.Duration
	notifier    Triggerable

	passes   sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// ReconcilerOption configures the reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcileInterval sets the pass interval.
func WithReconcileInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReconcilerNotifier sets the notifier to trigger after a pass that changed something.
func WithReconcilerNotifier(n Triggerable) ReconcilerOption {
	return func(r *Reconciler) { r.notifier = n }
}

// NewReconciler creates a Reconciler. transitions may be nil, in which case
// only the interval fires passes.
func NewReconciler(engine *Engine, transitions <-chan netstate.Transition, logger *log.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		engine:      engine,
		transitions: transitions,
		logger:      logger,
		interval:    defaultReconcileInterval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start begins the reconciliation loop. Returns when ctx is cancelled or
// Stop is called, after in-progress passes have finished.
func (r *Reconciler) Start(ctx context.Context) {
	defer close(r.doneCh)
	r.logger.Printf("Reconciler: started (interval=%s)", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.passes.Wait()

	transitions := r.transitions
	for {
		select {
		case <-ctx.Done():
			r.logger.Println("Reconciler: stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Println("Reconciler: stopped")
			return
		case <-ticker.C:
			r.fire(ctx)
		case t, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if t.Online {
				r.logger.Println("Reconciler: backend reachable, reconciling now")
				r.fire(ctx)
			}
		}
	}
}

// Stop signals the loop to stop and waits for it to exit.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// RunOnce runs one pass synchronously (for testing or manual trigger).
func (r *Reconciler) RunOnce(ctx context.Context) PassResult {
	return r.run(ctx)
}

func (r *Reconciler) fire(ctx context.Context) {
	r.passes.Add(1)
	go func() {
		defer r.passes.Done()
		r.run(ctx)
	}()
}

func (r *Reconciler) run(ctx context.Context) PassResult {
	res := r.engine.Reconcile(ctx)
	switch {
	case res.Skipped:
		r.logger.Println("Reconciler: pass skipped (previous pass still running)")
	case res.Offline:
	default:
		if res.Synced+res.Suppressed+res.Dropped+res.Failed+res.PullErrors > 0 {
			r.logger.Printf("Reconciler: pass done in %s (synced=%d suppressed=%d dropped=%d failed=%d pull_errors=%d)",
				res.Duration, res.Synced, res.Suppressed, res.Dropped, res.Failed, res.PullErrors)
		}
		if r.notifier != nil && res.Synced+res.Suppressed+res.Dropped > 0 {
			r.notifier.Trigger()
		}
	}
	return res
}
