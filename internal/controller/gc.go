package controller

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/manager"
	"go.wharfapis.com/wharf/internal/resource"
	"go.wharfapis.com/wharf/internal/store"
)

// DefaultGCInterval is the fallback tombstone sweep period.
const DefaultGCInterval = 30 * time.Second

// Sweep removes expired documents for one kind and reports how many it
// deleted.
type Sweep func(ctx context.Context) (int, error)

// GC periodically hard-deletes tombstoned documents that the per-kind
// reconcilers did not finalize, for example because a tombstone was written
// while the process was down and no change event ever fired.
type GC struct {
	interval time.Duration
	sweeps   []Sweep
}

// NewGC creates the sweeper. A non-positive interval falls back to
// DefaultGCInterval.
func NewGC(interval time.Duration, sweeps ...Sweep) *GC {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return &GC{interval: interval, sweeps: sweeps}
}

// Name implements Runnable.
func (g *GC) Name() string { return "gc" }

// Run implements Runnable.
func (g *GC) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			total := 0
			for _, sweep := range g.sweeps {
				n, err := sweep(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					klog.ErrorS(err, "Tombstone sweep failed")
					continue
				}
				total += n
			}
			if total > 0 {
				klog.InfoS("Swept tombstoned resources", "deleted", total)
			}
		}
	}
}

// SweepTombstones builds a Sweep that removes every tombstoned document of
// one kind.
func SweepTombstones[T any, PT resource.ObjectOf[T]](mgr *manager.Manager[T, PT]) Sweep {
	return func(ctx context.Context) (int, error) {
		objs, err := mgr.Find(ctx, store.Selector{
			"metadata.deletedAt": map[string]any{"$exists": true},
		})
		if err != nil {
			return 0, err
		}
		deleted := 0
		for _, obj := range objs {
			name := obj.GetMetadata().Name
			if err := mgr.Delete(ctx, name); err != nil {
				if store.IsNotFound(err) || store.IsConflict(err) {
					// Someone else removed or rewrote it; the next sweep or
					// the reconciler will catch up.
					continue
				}
				return deleted, err
			}
			klog.V(2).InfoS("Swept tombstoned resource", "kind", mgr.TypeMeta().Kind, "name", name)
			deleted++
		}
		return deleted, nil
	}
}
