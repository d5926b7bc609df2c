// Package watcher turns a database change feed into a typed, pull-based event
// stream for one resource kind. The stream subscribes at construction,
// survives feed failures by reconnecting with backoff, and resumes from the
// last delivered sequence token so consumers see every change at least once.
package watcher

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/metrics"
	"go.wharfapis.com/wharf/internal/resource"
	"go.wharfapis.com/wharf/internal/store"
)

// EventType distinguishes live documents from tombstone removals. Creations
// and updates are not distinguished; reconcilers derive the distinction from
// the document itself.
type EventType string

const (
	// Changed reports a document that exists at the delivered revision.
	Changed EventType = "changed"
	// Deleted reports a document that has been removed from the store.
	Deleted EventType = "deleted"
)

// Event is one typed change delivered by a Watcher. Object is nil for a
// Deleted event whose document was never observed live on this stream.
type Event[T any, PT resource.ObjectOf[T]] struct {
	Type   EventType
	Name   string
	Object PT
	Seq    string
}

// Watcher streams changes for a single kind. It is not safe for concurrent
// use; each consumer owns its watcher.
type Watcher[T any, PT resource.ObjectOf[T]] struct {
	store   store.Interface
	meta    resource.TypeMeta
	db      string
	lastSeq string
	feed    store.ChangeFeed
	backoff wait.Backoff

	// lastKnown remembers the last live body per document so Deleted events
	// can carry the final observed shape of the resource.
	lastKnown map[string]json.RawMessage
}

// New creates a watcher for the given kind starting after the sequence token
// since (store.SinceNow for live-only). The feed is opened immediately so a
// "now" cursor resolves to the moment of construction; anything written
// between New and the first Next is still delivered.
func New[T any, PT resource.ObjectOf[T]](ctx context.Context, st store.Interface, meta resource.TypeMeta, since string) *Watcher[T, PT] {
	w := &Watcher[T, PT]{
		store:     st,
		meta:      meta,
		db:        meta.Group(),
		lastSeq:   since,
		backoff:   newBackoff(),
		lastKnown: make(map[string]json.RawMessage),
	}
	// A failed dial here falls back to the reconnect path in Next.
	if feed, err := st.Changes(ctx, w.db, w.lastSeq); err == nil {
		w.feed = feed
	}
	return w
}

func newBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: time.Second,
		Factor:   2,
		Jitter:   0.2,
		Cap:      30 * time.Second,
		Steps:    math.MaxInt32,
	}
}

// Next blocks until the next event for the kind is available. Feed failures
// are handled internally by reconnecting; Next only returns an error when the
// context ends or the store reports a fatal condition.
func (w *Watcher[T, PT]) Next(ctx context.Context) (Event[T, PT], error) {
	var zero Event[T, PT]
	for {
		if w.feed == nil {
			if err := w.connect(ctx); err != nil {
				return zero, err
			}
		}

		change, err := w.feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			metrics.WatchReconnectsTotal.WithLabelValues(w.meta.Kind).Inc()
			klog.V(2).InfoS("Change feed failed, reconnecting", "kind", w.meta.Kind, "lastSeq", w.lastSeq, "err", err)
			w.dropFeed()
			continue
		}
		w.lastSeq = change.Seq

		if resource.KindPluralFromDocumentID(change.ID) != w.meta.KindPlural {
			continue
		}
		name, err := resource.NameFromDocumentID(change.ID)
		if err != nil {
			klog.ErrorS(err, "Skipping change with malformed document id", "kind", w.meta.Kind, "id", change.ID)
			continue
		}

		if change.Deleted {
			ev := Event[T, PT]{Type: Deleted, Name: name, Seq: change.Seq}
			if raw, ok := w.lastKnown[change.ID]; ok {
				if obj, err := w.decode(raw); err == nil {
					ev.Object = obj
				}
				delete(w.lastKnown, change.ID)
			}
			return ev, nil
		}

		obj, err := w.decode(change.Doc)
		if err != nil {
			klog.ErrorS(err, "Skipping undecodable change", "kind", w.meta.Kind, "id", change.ID, "seq", change.Seq)
			continue
		}
		w.lastKnown[change.ID] = change.Doc
		return Event[T, PT]{Type: Changed, Name: name, Object: obj, Seq: change.Seq}, nil
	}
}

// LastSeq returns the sequence token of the most recently delivered change.
func (w *Watcher[T, PT]) LastSeq() string { return w.lastSeq }

// Close releases the open feed, if any. The watcher stays usable; the next
// Next call reconnects.
func (w *Watcher[T, PT]) Close() {
	w.dropFeed()
}

func (w *Watcher[T, PT]) connect(ctx context.Context) error {
	for {
		feed, err := w.store.Changes(ctx, w.db, w.lastSeq)
		if err == nil {
			w.feed = feed
			w.backoff = newBackoff()
			return nil
		}
		if store.IsFatal(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := w.backoff.Step()
		klog.V(2).InfoS("Change feed connect failed, backing off", "kind", w.meta.Kind, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (w *Watcher[T, PT]) dropFeed() {
	if w.feed != nil {
		_ = w.feed.Close()
		w.feed = nil
	}
}

func (w *Watcher[T, PT]) decode(raw json.RawMessage) (PT, error) {
	var obj T
	ptr := PT(&obj)
	if err := json.Unmarshal(raw, ptr); err != nil {
		return nil, err
	}
	ptr.SetTypeMeta(w.meta)
	return ptr, nil
}
