// Package store provides the document-store abstraction the resource runtime
// is built on: partitioned databases, revisioned CRUD, selector lookups, and
// a resumable change feed. The production implementation targets CouchDB; an
// in-memory implementation for tests lives in the storetest subpackage.
package store

import (
	"context"
	"encoding/json"
)

// SinceNow subscribes a change feed starting at the current end of the
// database's change log.
const SinceNow = "now"

// Change is one entry of a database's change feed. Seq tokens are monotonic
// per database but may be non-contiguous after compaction; consumers resume
// from the last Seq they acknowledged.
type Change struct {
	ID      string
	Seq     string
	Rev     string
	Deleted bool
	Doc     json.RawMessage
}

// ChangeFeed is a pull source over a database's change log. Next blocks until
// a change is available, the context is cancelled, or the feed fails. A
// failed feed is not reusable; callers reconnect through Changes.
type ChangeFeed interface {
	Next(ctx context.Context) (Change, error)
	Close() error
}

// Selector is a Mango-style equality selector. Keys are dotted field paths;
// values are matched for equality, or an operator map such as
// {"$exists": true}.
type Selector map[string]any

// Interface is the store adapter contract. All operations are retry-safe for
// the same logical operation provided the caller honors the expectedRev
// optimistic-concurrency rules. The adapter does not cache; every read is
// authoritative.
type Interface interface {
	// EnsureDatabase creates the named database if it does not exist.
	// "already exists" is success.
	EnsureDatabase(ctx context.Context, name string, partitioned bool) error

	// Put writes doc under id. An empty expectedRev means create-or-overwrite;
	// a non-empty expectedRev fails with a conflict if the stored revision
	// differs. Returns the new revision token.
	Put(ctx context.Context, db, id string, doc any, expectedRev string) (string, error)

	// Get reads the document with the given id into dest and returns its
	// revision. A missing document returns found=false and no error.
	Get(ctx context.Context, db, id string, dest any) (rev string, found bool, err error)

	// Delete removes the document at the expected revision.
	Delete(ctx context.Context, db, id, expectedRev string) error

	// Find returns one page of documents within a partition matching the
	// selector. A nil selector matches every document in the partition.
	Find(ctx context.Context, db, partition string, selector Selector, limit, skip int) ([]json.RawMessage, error)

	// EnsureIndex creates a Mango index named name over the given field paths.
	// An identical existing index is success.
	EnsureIndex(ctx context.Context, db, name string, fields []string) error

	// Changes subscribes to the database's change feed starting after the
	// given sequence token, or at the end of the log for SinceNow. The
	// returned feed is owned exclusively by the caller.
	Changes(ctx context.Context, db, since string) (ChangeFeed, error)

	// Close releases the underlying connection.
	Close() error
}
