// Command seeder populates a CouchDB instance with a small set of sample
// resources for local development: a handful of users, an admin role with a
// wildcard policy, and a read-only grant. Safe to run repeatedly; existing
// documents are overwritten at their current revision.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-kivik/kivik/v4"
	"github.com/go-kivik/kivik/v4/couchdb"
)

const database = "auth"

func main() {
	url := flag.String("couchdb-url", "http://127.0.0.1:5984", "Base URL of the CouchDB server")
	username := flag.String("couchdb-username", "", "Username for basic authentication")
	password := flag.String("couchdb-password", "", "Password for basic authentication")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, *url, *username, *password); err != nil {
		log.Fatalf("seeding failed: %v", err)
	}
	log.Println("seeded sample resources into", database)
}

func run(ctx context.Context, url, username, password string) error {
	var opts []kivik.Option
	if username != "" {
		opts = append(opts, couchdb.BasicAuth(username, password))
	}
	client, err := kivik.New("couch", url, opts...)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer client.Close()

	if err := client.CreateDB(ctx, database, kivik.Param("partitioned", true)); err != nil {
		if kivik.HTTPStatus(err) != http.StatusPreconditionFailed {
			return fmt.Errorf("creating database: %w", err)
		}
	}
	db := client.DB(database)

	for id, doc := range sampleDocuments() {
		if err := upsert(ctx, db, id, doc); err != nil {
			return fmt.Errorf("writing %s: %w", id, err)
		}
		log.Println("wrote", id)
	}
	return nil
}

func upsert(ctx context.Context, db *kivik.DB, id string, doc map[string]any) error {
	row := db.Get(ctx, id)
	if rev, err := row.Rev(); err == nil {
		doc["_rev"] = rev
	}
	_, err := db.Put(ctx, id, doc)
	return err
}

func sampleDocuments() map[string]map[string]any {
	user := func(name, email string, enabled bool) map[string]any {
		return map[string]any{
			"apiVersion": "auth/v1alpha1",
			"kind":       "User",
			"metadata":   map[string]any{"name": name},
			"spec": map[string]any{
				"enabled": enabled,
				"email":   email,
			},
		}
	}

	return map[string]map[string]any{
		"users:root":  user("root", "root@example.com", true),
		"users:alice": user("alice", "alice@example.com", true),
		"users:bob":   user("bob", "bob@example.com", false),

		"roles:admins": {
			"apiVersion": "auth/v1alpha1",
			"kind":       "Role",
			"metadata":   map[string]any{"name": "admins"},
			"spec":       map[string]any{"description": "Full access to every resource"},
		},

		"policies:superuser": {
			"apiVersion": "auth/v1alpha1",
			"kind":       "Policy",
			"metadata":   map[string]any{"name": "superuser"},
			"spec": map[string]any{
				"rules": []map[string]any{{
					"resources": []string{"*/*/*/*"},
					"actions":   []string{"*"},
				}},
			},
		},
		"policies:user-reader": {
			"apiVersion": "auth/v1alpha1",
			"kind":       "Policy",
			"metadata":   map[string]any{"name": "user-reader"},
			"spec": map[string]any{
				"rules": []map[string]any{{
					"resources": []string{"auth/v1alpha1/users/*"},
					"actions":   []string{"get", "list"},
				}},
			},
		},

		"policyattachments:admins-superuser": {
			"apiVersion": "auth/v1alpha1",
			"kind":       "PolicyAttachment",
			"metadata":   map[string]any{"name": "admins-superuser"},
			"spec": map[string]any{
				"policyRef": "superuser",
				"subjects": []map[string]any{
					{"kind": "user", "name": "alice"},
				},
			},
		},
		"policyattachments:bob-reads": {
			"apiVersion": "auth/v1alpha1",
			"kind":       "PolicyAttachment",
			"metadata":   map[string]any{"name": "bob-reads"},
			"spec": map[string]any{
				"policyRef": "user-reader",
				"subjects": []map[string]any{
					{"kind": "user", "name": "bob"},
				},
			},
		},

		"roleattachments:alice-admin": {
			"apiVersion": "auth/v1alpha1",
			"kind":       "RoleAttachment",
			"metadata":   map[string]any{"name": "alice-admin"},
			"spec": map[string]any{
				"roleRef": "admins",
				"userRef": "alice",
			},
		},
	}
}
