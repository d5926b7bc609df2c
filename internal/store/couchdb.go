package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kivik/kivik/v4"
	couchdb "github.com/go-kivik/kivik/v4/couchdb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/metrics"
)

var tracer = otel.Tracer("wharf-couchdb-store")

const (
	// defaultRequestTimeout bounds every store round-trip. Expiry maps to a
	// transient failure.
	defaultRequestTimeout = 30 * time.Second

	// overwriteAttempts bounds the read-rev-and-retry loop used when a Put
	// carries no expected revision.
	overwriteAttempts = 3
)

// CouchDBConfig configures the CouchDB connection.
type CouchDBConfig struct {
	URL      string
	Username string
	Password string

	// RequestTimeout overrides the per-request timeout. Zero means the
	// default of 30s.
	RequestTimeout time.Duration
}

var _ Interface = (*CouchDB)(nil)

// CouchDB implements Interface against a CouchDB server over HTTP+JSON with
// basic authentication.
type CouchDB struct {
	client  *kivik.Client
	timeout time.Duration
}

// NewCouchDB connects to CouchDB and verifies the server is reachable.
func NewCouchDB(ctx context.Context, config CouchDBConfig) (*CouchDB, error) {
	var opts []kivik.Option
	if config.Username != "" {
		opts = append(opts, couchdb.BasicAuth(config.Username, config.Password))
	}

	client, err := kivik.New("couch", config.URL, opts...)
	if err != nil {
		return nil, NewError(KindFatal, "couchdb.connect", err)
	}

	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := client.Ping(pingCtx); err != nil {
		return nil, NewError(KindFatal, "couchdb.ping", err)
	}

	klog.InfoS("Connected to CouchDB", "url", config.URL)

	return &CouchDB{client: client, timeout: timeout}, nil
}

// EnsureDatabase creates the database if missing. "already exists" is success.
func (c *CouchDB) EnsureDatabase(ctx context.Context, name string, partitioned bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "couchdb.ensure_database")
	span.SetAttributes(attribute.String("db", name))
	defer span.End()

	exists, err := c.client.DBExists(ctx, name)
	if err != nil {
		return c.spanErr(span, classify("couchdb.db_exists", err))
	}
	if exists {
		return nil
	}

	var opts []kivik.Option
	if partitioned {
		opts = append(opts, kivik.Param("partitioned", true))
	}
	if err := c.client.CreateDB(ctx, name, opts...); err != nil {
		// A concurrent creator winning the race is still success.
		if kivik.HTTPStatus(err) == http.StatusPreconditionFailed {
			return nil
		}
		return c.spanErr(span, NewError(KindFatal, "couchdb.create_db", err))
	}

	klog.V(2).InfoS("Created database", "db", name, "partitioned", partitioned)
	return nil
}

// Put writes the document, honoring optimistic concurrency when expectedRev
// is set and performing a bounded read-then-write loop otherwise.
func (c *CouchDB) Put(ctx context.Context, db, id string, doc any, expectedRev string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "couchdb.put")
	span.SetAttributes(attribute.String("db", db), attribute.String("id", id))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StoreRequestDuration.WithLabelValues("put").Observe(time.Since(start).Seconds()) }()

	body, err := toDocument(doc, id, expectedRev)
	if err != nil {
		return "", c.spanErr(span, err)
	}

	if expectedRev != "" {
		rev, err := c.client.DB(db).Put(ctx, id, body)
		if err != nil {
			return "", c.spanErr(span, classify("couchdb.put", err))
		}
		return rev, nil
	}

	// No expected revision: create-or-overwrite. On conflict, refresh the
	// revision and retry a bounded number of times.
	for attempt := 0; ; attempt++ {
		rev, err := c.client.DB(db).Put(ctx, id, body)
		if err == nil {
			return rev, nil
		}
		classified := classify("couchdb.put", err)
		if !IsConflict(classified) || attempt+1 >= overwriteAttempts {
			return "", c.spanErr(span, classified)
		}

		var current map[string]any
		currentRev, found, getErr := c.Get(ctx, db, id, &current)
		if getErr != nil {
			return "", c.spanErr(span, getErr)
		}
		if !found {
			// Deleted between attempts; retry as a fresh create.
			delete(body, "_rev")
			continue
		}
		body["_rev"] = currentRev
	}
}

// Get reads a document. Missing documents report found=false, not an error.
func (c *CouchDB) Get(ctx context.Context, db, id string, dest any) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "couchdb.get")
	span.SetAttributes(attribute.String("db", db), attribute.String("id", id))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StoreRequestDuration.WithLabelValues("get").Observe(time.Since(start).Seconds()) }()

	row := c.client.DB(db).Get(ctx, id)
	if err := row.ScanDoc(dest); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, c.spanErr(span, classify("couchdb.get", err))
	}
	rev, err := row.Rev()
	if err != nil {
		return "", false, c.spanErr(span, classify("couchdb.get", err))
	}
	return rev, true, nil
}

// Delete removes the document at the expected revision.
func (c *CouchDB) Delete(ctx context.Context, db, id, expectedRev string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "couchdb.delete")
	span.SetAttributes(attribute.String("db", db), attribute.String("id", id))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StoreRequestDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds()) }()

	if _, err := c.client.DB(db).Delete(ctx, id, expectedRev); err != nil {
		return c.spanErr(span, classify("couchdb.delete", err))
	}
	return nil
}

// Find runs a Mango selector query scoped to one partition via the document
// id prefix.
func (c *CouchDB) Find(ctx context.Context, db, partition string, selector Selector, limit, skip int) ([]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "couchdb.find")
	span.SetAttributes(attribute.String("db", db), attribute.String("partition", partition))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StoreRequestDuration.WithLabelValues("find").Observe(time.Since(start).Seconds()) }()

	sel := map[string]any{
		// Partitioned databases prefix every id with "<partition>:"; the id
		// range keeps the scan inside the partition.
		"_id": map[string]any{
			"$gte": partition + ":",
			"$lt":  partition + ";",
		},
	}
	for k, v := range selector {
		sel[k] = v
	}

	query := map[string]any{"selector": sel}
	if limit > 0 {
		query["limit"] = limit
	}
	if skip > 0 {
		query["skip"] = skip
	}

	rs := c.client.DB(db).Find(ctx, query)
	defer rs.Close()

	var docs []json.RawMessage
	for rs.Next() {
		var doc json.RawMessage
		if err := rs.ScanDoc(&doc); err != nil {
			return nil, c.spanErr(span, classify("couchdb.find", err))
		}
		docs = append(docs, doc)
	}
	if err := rs.Err(); err != nil {
		return nil, c.spanErr(span, classify("couchdb.find", err))
	}
	return docs, nil
}

// EnsureIndex creates a Mango index over the given fields. CouchDB reports an
// identical existing index as success.
func (c *CouchDB) EnsureIndex(ctx context.Context, db, name string, fields []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "couchdb.ensure_index")
	span.SetAttributes(attribute.String("db", db), attribute.String("index", name))
	defer span.End()
	start := time.Now()
	defer func() {
		metrics.StoreRequestDuration.WithLabelValues("ensure_index").Observe(time.Since(start).Seconds())
	}()

	index := map[string]any{"fields": fields}
	if err := c.client.DB(db).CreateIndex(ctx, "indexes", name, index); err != nil {
		return c.spanErr(span, classify("couchdb.ensure_index", err))
	}
	return nil
}

// Changes opens a continuous change feed. The feed is restartable from any
// previously emitted sequence token.
func (c *CouchDB) Changes(ctx context.Context, db, since string) (ChangeFeed, error) {
	if since == "" {
		since = "0"
	}
	opts := kivik.Params(map[string]any{
		"feed":         "continuous",
		"since":        since,
		"include_docs": true,
		"heartbeat":    30000,
	})

	changes := c.client.DB(db).Changes(ctx, opts)
	if err := changes.Err(); err != nil {
		return nil, classify("couchdb.changes", err)
	}
	return &couchFeed{changes: changes}, nil
}

// Close releases the client connection.
func (c *CouchDB) Close() error {
	return c.client.Close()
}

func (c *CouchDB) spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// couchFeed adapts the kivik changes iterator to ChangeFeed.
type couchFeed struct {
	changes *kivik.Changes
}

func (f *couchFeed) Next(ctx context.Context) (Change, error) {
	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	if !f.changes.Next() {
		if err := f.changes.Err(); err != nil {
			return Change{}, classify("couchdb.changes", err)
		}
		if err := ctx.Err(); err != nil {
			return Change{}, err
		}
		return Change{}, NewError(KindTransient, "couchdb.changes", errors.New("change feed closed"))
	}

	ch := Change{
		ID:      f.changes.ID(),
		Seq:     f.changes.Seq(),
		Deleted: f.changes.Deleted(),
	}
	if revs := f.changes.Changes(); len(revs) > 0 {
		ch.Rev = revs[0]
	}
	if !ch.Deleted {
		var doc json.RawMessage
		if err := f.changes.ScanDoc(&doc); err == nil {
			ch.Doc = doc
		}
	}
	return ch, nil
}

func (f *couchFeed) Close() error {
	return f.changes.Close()
}

// toDocument normalizes an arbitrary value into a CouchDB document body with
// _id and, when known, _rev set.
func toDocument(doc any, id, rev string) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, NewError(KindInvalid, "couchdb.encode", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, NewError(KindInvalid, "couchdb.encode", fmt.Errorf("document must be a JSON object: %w", err))
	}
	body["_id"] = id
	if rev != "" {
		body["_rev"] = rev
	} else {
		delete(body, "_rev")
	}
	return body, nil
}

// classify maps a kivik error onto the store failure taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTransient, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	switch status := kivik.HTTPStatus(err); {
	case status == http.StatusConflict:
		return NewError(KindConflict, op, err)
	case status == http.StatusNotFound:
		return NewError(KindNotFound, op, err)
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType:
		return NewError(KindInvalid, op, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(KindFatal, op, err)
	case status >= 500:
		return NewError(KindTransient, op, err)
	default:
		return NewError(KindTransient, op, err)
	}
}
