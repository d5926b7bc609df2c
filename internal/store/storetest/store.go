// Package storetest provides an in-memory store.Interface used by the
// runtime's tests. It mimics the CouchDB semantics the adapter relies on:
// monotonic revisions, optimistic concurrency, partition-scoped finds, and a
// resumable change feed with per-database sequence tokens.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.wharfapis.com/wharf/internal/store"
)

// Store is an in-memory document store. The zero value is not usable; use New.
type Store struct {
	mu  sync.Mutex
	dbs map[string]*database
}

type database struct {
	partitioned bool
	docs        map[string]*document
	indexes     map[string][]string
	seq         int64
	log         []store.Change
	waiters     []chan struct{}
	breakGen    int
}

type document struct {
	revN int
	rev  string
	body map[string]any
}

var _ store.Interface = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{dbs: make(map[string]*database)}
}

func (s *Store) db(name string) (*database, error) {
	db, ok := s.dbs[name]
	if !ok {
		return nil, store.NewError(store.KindNotFound, "storetest.db", fmt.Errorf("database %q does not exist", name))
	}
	return db, nil
}

// EnsureDatabase implements store.Interface.
func (s *Store) EnsureDatabase(_ context.Context, name string, partitioned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dbs[name]; !ok {
		s.dbs[name] = &database{partitioned: partitioned, docs: make(map[string]*document)}
	}
	return nil
}

// Put implements store.Interface.
func (s *Store) Put(_ context.Context, dbName, id string, doc any, expectedRev string) (string, error) {
	body, err := encode(doc)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.db(dbName)
	if err != nil {
		return "", err
	}

	existing := db.docs[id]
	if expectedRev != "" {
		if existing == nil || existing.rev != expectedRev {
			return "", store.NewError(store.KindConflict, "storetest.put", fmt.Errorf("document update conflict on %q", id))
		}
	}

	revN := 1
	if existing != nil {
		revN = existing.revN + 1
	}
	rev := fmt.Sprintf("%d-%08x", revN, db.seq+1)

	body["_id"] = id
	body["_rev"] = rev
	db.docs[id] = &document{revN: revN, rev: rev, body: body}

	raw, _ := json.Marshal(body)
	db.appendChange(store.Change{ID: id, Rev: rev, Doc: raw})
	return rev, nil
}

// Get implements store.Interface.
func (s *Store) Get(_ context.Context, dbName, id string, dest any) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.db(dbName)
	if err != nil {
		return "", false, err
	}
	doc, ok := db.docs[id]
	if !ok {
		return "", false, nil
	}
	raw, _ := json.Marshal(doc.body)
	if err := json.Unmarshal(raw, dest); err != nil {
		return "", false, store.NewError(store.KindInvalid, "storetest.get", err)
	}
	return doc.rev, true, nil
}

// Delete implements store.Interface.
func (s *Store) Delete(_ context.Context, dbName, id, expectedRev string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.db(dbName)
	if err != nil {
		return err
	}
	doc, ok := db.docs[id]
	if !ok {
		return store.NewError(store.KindNotFound, "storetest.delete", fmt.Errorf("document %q not found", id))
	}
	if doc.rev != expectedRev {
		return store.NewError(store.KindConflict, "storetest.delete", fmt.Errorf("document update conflict on %q", id))
	}
	delete(db.docs, id)
	rev := fmt.Sprintf("%d-%08x", doc.revN+1, db.seq+1)
	db.appendChange(store.Change{ID: id, Rev: rev, Deleted: true})
	return nil
}

// Find implements store.Interface.
func (s *Store) Find(_ context.Context, dbName, partition string, selector store.Selector, limit, skip int) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.db(dbName)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(db.docs))
	for id := range db.docs {
		if strings.HasPrefix(id, partition+":") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var docs []json.RawMessage
	matched := 0
	for _, id := range ids {
		if !matches(db.docs[id].body, selector) {
			continue
		}
		matched++
		if matched <= skip {
			continue
		}
		raw, _ := json.Marshal(db.docs[id].body)
		docs = append(docs, raw)
		if limit > 0 && len(docs) >= limit {
			break
		}
	}
	return docs, nil
}

// EnsureIndex implements store.Interface. Finds scan every document, so the
// index is only recorded; Indexes exposes it for assertions.
func (s *Store) EnsureIndex(_ context.Context, dbName, name string, fields []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.db(dbName)
	if err != nil {
		return err
	}
	if db.indexes == nil {
		db.indexes = make(map[string][]string)
	}
	db.indexes[name] = append([]string(nil), fields...)
	return nil
}

// Indexes returns the names of the indexes registered on the database.
func (s *Store) Indexes(dbName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(db.indexes))
	for name := range db.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Changes implements store.Interface.
func (s *Store) Changes(_ context.Context, dbName, since string) (store.ChangeFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.db(dbName)
	if err != nil {
		return nil, err
	}

	idx := 0
	switch since {
	case "", "0":
		idx = 0
	case store.SinceNow:
		idx = len(db.log)
	default:
		n, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			return nil, store.NewError(store.KindInvalid, "storetest.changes", fmt.Errorf("bad since token %q", since))
		}
		for idx < len(db.log) {
			seq, _ := strconv.ParseInt(db.log[idx].Seq, 10, 64)
			if seq > n {
				break
			}
			idx++
		}
	}

	return &feed{s: s, dbName: dbName, idx: idx, gen: db.breakGen}, nil
}

// Close implements store.Interface.
func (s *Store) Close() error { return nil }

// BreakFeeds fails every open change feed on the database with a transient
// error, forcing consumers through their reconnect path.
func (s *Store) BreakFeeds(dbName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		return
	}
	db.breakGen++
	db.notify()
}

func (db *database) appendChange(ch store.Change) {
	db.seq++
	ch.Seq = strconv.FormatInt(db.seq, 10)
	db.log = append(db.log, ch)
	db.notify()
}

func (db *database) notify() {
	for _, w := range db.waiters {
		close(w)
	}
	db.waiters = nil
}

type feed struct {
	s      *Store
	dbName string
	idx    int
	gen    int
	failed bool
}

func (f *feed) Next(ctx context.Context) (store.Change, error) {
	for {
		if err := ctx.Err(); err != nil {
			return store.Change{}, err
		}
		f.s.mu.Lock()
		db := f.s.dbs[f.dbName]
		if f.failed {
			f.s.mu.Unlock()
			return store.Change{}, store.NewError(store.KindTransient, "storetest.changes", errors.New("feed closed"))
		}
		if f.gen != db.breakGen {
			f.failed = true
			f.s.mu.Unlock()
			return store.Change{}, store.NewError(store.KindTransient, "storetest.changes", errors.New("feed disconnected"))
		}
		if f.idx < len(db.log) {
			ch := db.log[f.idx]
			f.idx++
			f.s.mu.Unlock()
			return ch, nil
		}
		waiter := make(chan struct{})
		db.waiters = append(db.waiters, waiter)
		f.s.mu.Unlock()

		select {
		case <-ctx.Done():
			return store.Change{}, ctx.Err()
		case <-waiter:
		}
	}
}

func (f *feed) Close() error {
	f.failed = true
	return nil
}

// matches evaluates a Mango-style selector against a document body. Keys are
// dotted paths; values match for equality or through a small operator set.
func matches(body map[string]any, selector store.Selector) bool {
	for path, want := range selector {
		got, present := lookup(body, path)
		if ops, ok := want.(map[string]any); ok && isOperatorMap(ops) {
			if !matchOps(got, present, ops) {
				return false
			}
			continue
		}
		if !present || !equalJSON(got, want) {
			return false
		}
	}
	return true
}

func isOperatorMap(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func matchOps(got any, present bool, ops map[string]any) bool {
	for op, arg := range ops {
		switch op {
		case "$exists":
			want, _ := arg.(bool)
			if present != want {
				return false
			}
		case "$gte":
			s, ok := got.(string)
			a, ok2 := arg.(string)
			if !present || !ok || !ok2 || s < a {
				return false
			}
		case "$lt":
			s, ok := got.(string)
			a, ok2 := arg.(string)
			if !present || !ok || !ok2 || s >= a {
				return false
			}
		case "$eq":
			if !present || !equalJSON(got, arg) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func lookup(body map[string]any, path string) (any, bool) {
	cur := any(body)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func equalJSON(a, b any) bool {
	ra, err1 := json.Marshal(a)
	rb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return reflect.DeepEqual(a, b)
	}
	var na, nb any
	_ = json.Unmarshal(ra, &na)
	_ = json.Unmarshal(rb, &nb)
	return reflect.DeepEqual(na, nb)
}

func encode(doc any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, store.NewError(store.KindInvalid, "storetest.put", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, store.NewError(store.KindInvalid, "storetest.put", fmt.Errorf("document must be a JSON object: %w", err))
	}
	delete(body, "_id")
	delete(body, "_rev")
	return body, nil
}
