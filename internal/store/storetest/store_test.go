package storetest

import (
	"context"
	"testing"
	"time"

	"go.wharfapis.com/wharf/internal/store"
)

func newDB(t *testing.T) *Store {
	t.Helper()
	s := New()
	if err := s.EnsureDatabase(context.Background(), "auth", true); err != nil {
		t.Fatalf("ensure database: %v", err)
	}
	return s
}

func TestOptimisticConcurrency(t *testing.T) {
	s := newDB(t)
	ctx := context.Background()

	rev1, err := s.Put(ctx, "auth", "users:alice", map[string]any{"n": 1}, "")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	rev2, err := s.Put(ctx, "auth", "users:alice", map[string]any{"n": 2}, rev1)
	if err != nil {
		t.Fatalf("put with rev: %v", err)
	}
	if rev1 == rev2 {
		t.Error("revision must advance on every write")
	}

	if _, err := s.Put(ctx, "auth", "users:alice", map[string]any{"n": 3}, rev1); !store.IsConflict(err) {
		t.Errorf("stale write should conflict, got %v", err)
	}
	if err := s.Delete(ctx, "auth", "users:alice", rev1); !store.IsConflict(err) {
		t.Errorf("stale delete should conflict, got %v", err)
	}
}

func TestFindScopesToPartition(t *testing.T) {
	s := newDB(t)
	ctx := context.Background()

	for _, id := range []string{"users:alice", "users:bob", "roles:admins"} {
		if _, err := s.Put(ctx, "auth", id, map[string]any{}, ""); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	docs, err := s.Find(ctx, "auth", "users", nil, 10, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 users, got %d", len(docs))
	}
}

func TestFindPaging(t *testing.T) {
	s := newDB(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.Put(ctx, "auth", "users:"+name, map[string]any{}, ""); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	page1, err := s.Find(ctx, "auth", "users", nil, 2, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	page2, err := s.Find(ctx, "auth", "users", nil, 2, 2)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(page1) != 2 || len(page2) != 1 {
		t.Errorf("paging returned %d and %d docs, want 2 and 1", len(page1), len(page2))
	}
}

func TestEnsureIndex(t *testing.T) {
	s := newDB(t)
	ctx := context.Background()

	if err := s.EnsureIndex(ctx, "auth", "by-deleted-at", []string{"metadata.deletedAt"}); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	// Re-creating the same index is success.
	if err := s.EnsureIndex(ctx, "auth", "by-deleted-at", []string{"metadata.deletedAt"}); err != nil {
		t.Fatalf("ensure index again: %v", err)
	}
	if got := s.Indexes("auth"); len(got) != 1 || got[0] != "by-deleted-at" {
		t.Errorf("indexes = %v, want [by-deleted-at]", got)
	}

	if err := s.EnsureIndex(ctx, "missing", "x", nil); !store.IsNotFound(err) {
		t.Errorf("index on missing database should be not-found, got %v", err)
	}
}

func TestChangeFeedResume(t *testing.T) {
	s := newDB(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "auth", "users:alice", map[string]any{}, ""); err != nil {
		t.Fatalf("put: %v", err)
	}

	feed, err := s.Changes(ctx, "auth", "")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	defer feed.Close()

	first, err := feed.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if first.ID != "users:alice" {
		t.Errorf("change id = %q, want users:alice", first.ID)
	}

	if _, err := s.Put(ctx, "auth", "users:bob", map[string]any{}, ""); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A new feed resuming after the first token sees only the second write.
	resumed, err := s.Changes(ctx, "auth", first.Seq)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	defer resumed.Close()
	ch, err := resumed.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ch.ID != "users:bob" {
		t.Errorf("resumed change id = %q, want users:bob", ch.ID)
	}
}

func TestChangeFeedBlocksUntilWrite(t *testing.T) {
	s := newDB(t)
	ctx := context.Background()

	feed, err := s.Changes(ctx, "auth", store.SinceNow)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	defer feed.Close()

	got := make(chan store.Change, 1)
	go func() {
		ch, err := feed.Next(ctx)
		if err == nil {
			got <- ch
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := s.Put(ctx, "auth", "users:alice", map[string]any{}, ""); err != nil {
		t.Fatalf("put: %v", err)
	}

	select {
	case ch := <-got:
		if ch.ID != "users:alice" {
			t.Errorf("change id = %q, want users:alice", ch.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not wake up on write")
	}
}

func TestBreakFeedsForcesReconnect(t *testing.T) {
	s := newDB(t)
	ctx := context.Background()

	feed, err := s.Changes(ctx, "auth", store.SinceNow)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	defer feed.Close()

	s.BreakFeeds("auth")
	if _, err := feed.Next(ctx); !store.IsTransient(err) {
		t.Errorf("broken feed should fail transiently, got %v", err)
	}
}

func TestDeleteEmitsTombstoneChange(t *testing.T) {
	s := newDB(t)
	ctx := context.Background()

	rev, err := s.Put(ctx, "auth", "users:alice", map[string]any{}, "")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(ctx, "auth", "users:alice", rev); err != nil {
		t.Fatalf("delete: %v", err)
	}

	feed, err := s.Changes(ctx, "auth", "")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	defer feed.Close()

	if _, err := feed.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	second, err := feed.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !second.Deleted {
		t.Error("second change should be a deletion")
	}
}
