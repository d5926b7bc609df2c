// Package controller runs the reconciliation loops that drive stored
// resources toward their declared state. Each controller owns one kind: a
// watcher feeds resource names into a rate-limited workqueue, workers fetch
// the current document and hand it to the kind's reconciler, and a periodic
// resync re-enqueues everything as a safety net for missed events.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/manager"
	"go.wharfapis.com/wharf/internal/metrics"
	"go.wharfapis.com/wharf/internal/resource"
	"go.wharfapis.com/wharf/internal/store"
	"go.wharfapis.com/wharf/internal/watcher"
)

const (
	// DefaultResyncInterval is the fallback full-list resync period.
	DefaultResyncInterval = 5 * time.Minute
	// DefaultWorkers is the fallback worker count per controller.
	DefaultWorkers = 2
	// conflictAttempts bounds immediate retries on write conflicts before the
	// conflict is treated like any other transient failure.
	conflictAttempts = 3
)

// Request is one unit of reconciliation work. Object is the current stored
// document, or nil when the resource no longer exists.
type Request[T any, PT resource.ObjectOf[T]] struct {
	Name   string
	Object PT
}

// Reconciler drives one resource toward its declared state. Implementations
// must be idempotent: reconciling an already-converged resource must not
// write.
type Reconciler[T any, PT resource.ObjectOf[T]] interface {
	Reconcile(ctx context.Context, req Request[T, PT]) (Result, error)
}

// ReconcilerFunc adapts a function to the Reconciler interface.
type ReconcilerFunc[T any, PT resource.ObjectOf[T]] func(ctx context.Context, req Request[T, PT]) (Result, error)

// Reconcile implements Reconciler.
func (f ReconcilerFunc[T, PT]) Reconcile(ctx context.Context, req Request[T, PT]) (Result, error) {
	return f(ctx, req)
}

// Options tunes one controller.
type Options struct {
	// Workers is the number of concurrent reconcile workers.
	Workers int
	// ResyncInterval is the period of the full-list resync.
	ResyncInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.ResyncInterval <= 0 {
		o.ResyncInterval = DefaultResyncInterval
	}
	return o
}

// Controller reconciles one resource kind.
type Controller[T any, PT resource.ObjectOf[T]] struct {
	name       string
	mgr        *manager.Manager[T, PT]
	reconciler Reconciler[T, PT]
	opts       Options
	queue      workqueue.TypedRateLimitingInterface[string]

	mu        sync.Mutex
	conflicts map[string]int
	fatalErr  error
	cancel    context.CancelFunc
}

// New creates a controller for the kind served by mgr.
func New[T any, PT resource.ObjectOf[T]](mgr *manager.Manager[T, PT], reconciler Reconciler[T, PT], opts Options) *Controller[T, PT] {
	return &Controller[T, PT]{
		name:       mgr.TypeMeta().Kind,
		mgr:        mgr,
		reconciler: reconciler,
		opts:       opts.withDefaults(),
		queue: workqueue.NewTypedRateLimitingQueue(
			workqueue.DefaultTypedControllerRateLimiter[string](),
		),
		conflicts: make(map[string]int),
	}
}

// Name identifies the controller in logs and the scheduler.
func (c *Controller[T, PT]) Name() string { return c.name }

// Run starts the feed pump, the resync ticker, and the workers, and blocks
// until the context ends or a fatal condition stops the controller.
func (c *Controller[T, PT]) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	klog.InfoS("Starting controller", "controller", c.name, "workers", c.opts.Workers, "resync", c.opts.ResyncInterval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runFeed(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runResync(ctx)
	}()
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runWorker(ctx)
		}()
	}

	// Seed the queue with the current state of the kind.
	if err := c.resync(ctx); err != nil && ctx.Err() == nil {
		klog.ErrorS(err, "Initial resync failed, relying on the resync ticker", "controller", c.name)
	}

	<-ctx.Done()
	c.queue.ShutDown()
	wg.Wait()

	c.mu.Lock()
	err := c.fatalErr
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("controller %s: %w", c.name, err)
	}
	klog.InfoS("Controller stopped", "controller", c.name)
	return nil
}

// runFeed pumps watcher events into the workqueue. The watcher handles
// reconnects internally; the pump only ends on context cancellation or a
// fatal store error.
func (c *Controller[T, PT]) runFeed(ctx context.Context) {
	w := watcher.New[T, PT](ctx, c.mgr.Store(), c.mgr.TypeMeta(), store.SinceNow)
	defer w.Close()
	for {
		ev, err := w.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.stop(fmt.Errorf("change feed: %w", err))
			return
		}
		klog.V(4).InfoS("Observed change", "controller", c.name, "name", ev.Name, "type", ev.Type, "seq", ev.Seq)
		c.queue.Add(ev.Name)
	}
}

func (c *Controller[T, PT]) runResync(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.resync(ctx); err != nil && ctx.Err() == nil {
				klog.ErrorS(err, "Resync failed", "controller", c.name)
			}
		}
	}
}

// resync enqueues every resource of the kind.
func (c *Controller[T, PT]) resync(ctx context.Context) error {
	objs, err := c.mgr.List(ctx)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		c.queue.Add(obj.GetMetadata().Name)
	}
	klog.V(2).InfoS("Resynced", "controller", c.name, "resources", len(objs))
	return nil
}

func (c *Controller[T, PT]) runWorker(ctx context.Context) {
	for c.processNextItem(ctx) {
	}
}

func (c *Controller[T, PT]) processNextItem(ctx context.Context) bool {
	name, shutdown := c.queue.Get()
	if shutdown {
		return false
	}
	defer c.queue.Done(name)

	res, err := c.reconcileOne(ctx, name)
	if ctx.Err() != nil {
		return false
	}

	switch {
	case err == nil:
		c.clearConflicts(name)
		c.queue.Forget(name)
		metrics.ReconcileTotal.WithLabelValues(c.name, "success").Inc()
		if res.RequeueAfter > 0 {
			c.queue.AddAfter(name, res.RequeueAfter)
		}

	case store.IsConflict(err):
		metrics.ReconcileTotal.WithLabelValues(c.name, "conflict").Inc()
		// A conflict means someone else wrote between our read and write.
		// Retry immediately against the fresh document a bounded number of
		// times, then fall back to rate-limited requeueing.
		if c.bumpConflicts(name) <= conflictAttempts {
			klog.V(2).InfoS("Write conflict, retrying against fresh document", "controller", c.name, "name", name)
			c.queue.Add(name)
		} else {
			c.clearConflicts(name)
			klog.InfoS("Write conflict persists, backing off", "controller", c.name, "name", name)
			c.queue.AddRateLimited(name)
		}

	case store.IsInvalid(err):
		// A malformed document cannot converge; retrying would spin. Log it
		// and wait for a corrected write or the next resync.
		c.clearConflicts(name)
		c.queue.Forget(name)
		metrics.ReconcileTotal.WithLabelValues(c.name, "invalid").Inc()
		klog.ErrorS(err, "Skipping invalid resource", "controller", c.name, "name", name)

	case store.IsFatal(err):
		metrics.ReconcileTotal.WithLabelValues(c.name, "fatal").Inc()
		c.stop(err)
		return false

	default:
		c.clearConflicts(name)
		metrics.ReconcileTotal.WithLabelValues(c.name, "error").Inc()
		klog.ErrorS(err, "Reconcile failed, requeueing", "controller", c.name, "name", name)
		c.queue.AddRateLimited(name)
	}
	return true
}

// reconcileOne fetches the current document and runs the reconciler against
// it. The fetch is authoritative: a retry always sees the latest state, never
// the event that triggered it. Panics surface as ErrReconcilePanic and stop
// the controller.
func (c *Controller[T, PT]) reconcileOne(ctx context.Context, name string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			klog.ErrorS(nil, "Reconciler panicked", "controller", c.name, "name", name, "panic", r)
			err = fmt.Errorf("%w: reconciling %s %q: %v", ErrReconcilePanic, c.name, name, r)
			c.stop(err)
		}
	}()

	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	}()

	obj, _, err := c.mgr.Get(ctx, name)
	if err != nil {
		return Result{}, err
	}
	return c.reconciler.Reconcile(ctx, Request[T, PT]{Name: name, Object: obj})
}

// stop records the fatal error and cancels the controller's context.
func (c *Controller[T, PT]) stop(err error) {
	c.mu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller[T, PT]) bumpConflicts(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts[name]++
	return c.conflicts[name]
}

func (c *Controller[T, PT]) clearConflicts(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conflicts, name)
}
