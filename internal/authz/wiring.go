package authz

import (
	"context"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/resource"
	"go.wharfapis.com/wharf/internal/store"
)

// reloadRetryDelay spaces retries after a failed model reload.
const reloadRetryDelay = 5 * time.Second

// Wiring follows the store's change feed and keeps the enforcer's model
// fresh. Changes to any access-control kind mark the model dirty; bursts
// coalesce into a single reload through a capacity-one notification channel.
type Wiring struct {
	st       store.Interface
	enforcer *Enforcer
	db       string
	prefixes map[string]struct{}
	notify   chan struct{}
}

// NewWiring creates the wiring for the enforcer over the given store. The
// database is the access-control group's database.
func NewWiring(st store.Interface, enforcer *Enforcer, db string, kinds ...resource.TypeMeta) *Wiring {
	prefixes := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		prefixes[k.KindPlural] = struct{}{}
	}
	return &Wiring{
		st:       st,
		enforcer: enforcer,
		db:       db,
		prefixes: prefixes,
		notify:   make(chan struct{}, 1),
	}
}

// Name implements the runtime manager's Runnable.
func (w *Wiring) Name() string { return "acl-wiring" }

// Run subscribes to the change feed, performs the initial model load, and
// reloads on every dirty notification until the context ends.
func (w *Wiring) Run(ctx context.Context) error {
	go w.followFeed(ctx)

	// The enforcer denies everything until the first load lands, so retry
	// the initial load rather than giving up.
	for w.reload(ctx) != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reloadRetryDelay):
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.notify:
			if err := w.reload(ctx); err != nil {
				// Keep the model marked dirty so the reload is retried.
				w.markDirty()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reloadRetryDelay):
				}
			}
		}
	}
}

func (w *Wiring) reload(ctx context.Context) error {
	if err := w.enforcer.Reload(ctx); err != nil {
		if ctx.Err() == nil {
			klog.ErrorS(err, "Access-control model reload failed")
		}
		return err
	}
	return nil
}

// followFeed pumps relevant changes into the dirty notification. Feed
// failures reconnect with backoff from the last seen sequence token.
func (w *Wiring) followFeed(ctx context.Context) {
	backoff := wait.Backoff{
		Duration: time.Second,
		Factor:   2,
		Jitter:   0.2,
		Cap:      30 * time.Second,
		Steps:    math.MaxInt32,
	}
	since := store.SinceNow

	for {
		feed, err := w.st.Changes(ctx, w.db, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := backoff.Step()
			klog.V(2).InfoS("Access-control feed connect failed, backing off", "delay", delay, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		backoff = wait.Backoff{
			Duration: time.Second,
			Factor:   2,
			Jitter:   0.2,
			Cap:      30 * time.Second,
			Steps:    math.MaxInt32,
		}

		for {
			change, err := feed.Next(ctx)
			if err != nil {
				_ = feed.Close()
				if ctx.Err() != nil {
					return
				}
				// A disconnect may have dropped changes; resync the model.
				// Without a concrete resume token, replay from the start so
				// nothing written during the outage is missed.
				if since == store.SinceNow {
					since = ""
				}
				w.markDirty()
				klog.V(2).InfoS("Access-control feed failed, reconnecting", "lastSeq", since, "err", err)
				break
			}
			since = change.Seq
			if _, ok := w.prefixes[resource.KindPluralFromDocumentID(change.ID)]; !ok {
				continue
			}
			klog.V(4).InfoS("Access-control document changed", "id", change.ID, "seq", change.Seq)
			w.markDirty()
		}
	}
}

// markDirty requests a reload, coalescing with any pending request.
func (w *Wiring) markDirty() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}
