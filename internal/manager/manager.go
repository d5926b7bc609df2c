// Package manager provides the typed CRUD façade over the document store for
// one resource kind. Physical addressing is derived from the kind's TypeMeta:
// database = group, partition = kindPlural, document id = "<kindPlural>:<name>".
package manager

import (
	"context"
	"encoding/json"
	"fmt"

	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/events"
	"go.wharfapis.com/wharf/internal/resource"
	"go.wharfapis.com/wharf/internal/store"
)

// listPageSize bounds each Find round-trip when paging through a kind.
const listPageSize = 200

// Manager is the resource manager for kind T. It holds no mutable state
// beyond the store handle and is safe to share across tasks.
type Manager[T any, PT resource.ObjectOf[T]] struct {
	store store.Interface
	meta  resource.TypeMeta
	bus   events.Bus
}

// New creates a resource manager for the kind identified by meta.
func New[T any, PT resource.ObjectOf[T]](st store.Interface, meta resource.TypeMeta) *Manager[T, PT] {
	return &Manager[T, PT]{store: st, meta: meta}
}

// WithEventBus makes every mutation emit a domain event.
func (m *Manager[T, PT]) WithEventBus(bus events.Bus) *Manager[T, PT] {
	m.bus = bus
	return m
}

// TypeMeta returns the kind this manager addresses.
func (m *Manager[T, PT]) TypeMeta() resource.TypeMeta { return m.meta }

// Store exposes the underlying store handle for components that need raw
// change feed access against this kind's database.
func (m *Manager[T, PT]) Store() store.Interface { return m.store }

// Database returns the physical database name for the kind.
func (m *Manager[T, PT]) Database() string { return m.meta.Group() }

// EnsureDatabase creates the kind's backing database if missing.
func (m *Manager[T, PT]) EnsureDatabase(ctx context.Context) error {
	return m.store.EnsureDatabase(ctx, m.Database(), true)
}

// Put writes the resource and returns the stored shape, re-read from the
// store so callers observe any server-assigned fields. Writes race through
// optimistic concurrency against the revision current at the time of the
// read; a concurrent writer surfaces as a conflict.
func (m *Manager[T, PT]) Put(ctx context.Context, obj PT) (PT, error) {
	name := obj.GetMetadata().Name
	if name == "" {
		return nil, store.NewError(store.KindInvalid, "manager.put", fmt.Errorf("%s has no name", m.meta.Kind))
	}
	obj.SetTypeMeta(m.meta)

	id := resource.DocumentID(m.meta, name)
	var existing json.RawMessage
	rev, existed, err := m.store.Get(ctx, m.Database(), id, &existing)
	if err != nil {
		return nil, err
	}

	if _, err := m.store.Put(ctx, m.Database(), id, obj, rev); err != nil {
		return nil, err
	}

	stored, found, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		// Deleted between the write and the read-back; report the conflict.
		return nil, store.NewError(store.KindConflict, "manager.put", fmt.Errorf("%s %q disappeared during put", m.meta.Kind, name))
	}

	if existed {
		m.publish(ctx, events.ResourceUpdated, name)
	} else {
		m.publish(ctx, events.ResourceCreated, name)
	}
	return stored, nil
}

// Get reads one resource by name. Missing resources report found=false.
func (m *Manager[T, PT]) Get(ctx context.Context, name string) (PT, bool, error) {
	var obj T
	ptr := PT(&obj)
	_, found, err := m.store.Get(ctx, m.Database(), resource.DocumentID(m.meta, name), ptr)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	ptr.SetTypeMeta(m.meta)
	return ptr, true, nil
}

// Revision reads the store revision token for a resource, for callers that
// need explicit optimistic-concurrency control.
func (m *Manager[T, PT]) Revision(ctx context.Context, name string) (string, bool, error) {
	var raw json.RawMessage
	return m.store.Get(ctx, m.Database(), resource.DocumentID(m.meta, name), &raw)
}

// List returns every resource of the kind, including tombstoned ones.
func (m *Manager[T, PT]) List(ctx context.Context) ([]PT, error) {
	return m.Find(ctx, nil)
}

// Find returns every resource of the kind matching the selector, paging
// through the store in bounded batches.
func (m *Manager[T, PT]) Find(ctx context.Context, selector store.Selector) ([]PT, error) {
	var out []PT
	for skip := 0; ; skip += listPageSize {
		page, err := m.store.Find(ctx, m.Database(), m.meta.KindPlural, selector, listPageSize, skip)
		if err != nil {
			return nil, err
		}
		for _, raw := range page {
			obj, err := m.decode(raw)
			if err != nil {
				klog.ErrorS(err, "Skipping undecodable document", "kind", m.meta.Kind)
				continue
			}
			out = append(out, obj)
		}
		if len(page) < listPageSize {
			return out, nil
		}
	}
}

// Delete removes the resource. A missing resource is a NotFound error: the
// caller asserted presence by asking for deletion.
func (m *Manager[T, PT]) Delete(ctx context.Context, name string) error {
	id := resource.DocumentID(m.meta, name)
	var raw json.RawMessage
	rev, found, err := m.store.Get(ctx, m.Database(), id, &raw)
	if err != nil {
		return err
	}
	if !found {
		return store.NewError(store.KindNotFound, "manager.delete", fmt.Errorf("%s %q not found", m.meta.Kind, name))
	}
	if err := m.store.Delete(ctx, m.Database(), id, rev); err != nil {
		return err
	}
	m.publish(ctx, events.ResourceDeleted, name)
	return nil
}

// Decode unmarshals a raw store document into a typed resource.
func (m *Manager[T, PT]) Decode(raw json.RawMessage) (PT, error) {
	return m.decode(raw)
}

func (m *Manager[T, PT]) decode(raw json.RawMessage) (PT, error) {
	var obj T
	ptr := PT(&obj)
	if err := json.Unmarshal(raw, ptr); err != nil {
		return nil, store.NewError(store.KindInvalid, "manager.decode", err)
	}
	ptr.SetTypeMeta(m.meta)
	return ptr, nil
}

func (m *Manager[T, PT]) publish(ctx context.Context, t events.Type, name string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, events.NewEvent(t, m.meta.Group(), m.meta.Kind, m.meta.KindPlural, name))
}
