// Package resource defines the common shape shared by every document kind
// stored by the platform: a TypeMeta identifying the kind, a Metadata block
// with the resource name and lifecycle timestamps, and a kind-specific spec
// and status carried by the concrete type.
package resource

import (
	"fmt"
	"strings"
	"time"
)

// TypeMeta identifies the schema of a resource. APIVersion is "<group>/<version>".
// KindPlural is the storage namespace for the kind and is derived from the kind
// registration rather than persisted with the document.
type TypeMeta struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	KindPlural string `json:"-"`
}

// GetTypeMeta returns the TypeMeta; promoted onto kinds that embed TypeMeta.
func (t TypeMeta) GetTypeMeta() TypeMeta { return t }

// SetTypeMeta overwrites the TypeMeta; promoted onto kinds that embed TypeMeta.
func (t *TypeMeta) SetTypeMeta(tm TypeMeta) { *t = tm }

// Group returns the group half of APIVersion.
func (t TypeMeta) Group() string {
	group, _, _ := strings.Cut(t.APIVersion, "/")
	return group
}

// Version returns the version half of APIVersion.
func (t TypeMeta) Version() string {
	_, version, _ := strings.Cut(t.APIVersion, "/")
	return version
}

// Metadata carries the resource identity and lifecycle timestamps.
// Name is unique within (group, kindPlural) and immutable once assigned.
// CreatedAt is nil until the resource has been reconciled for the first time.
// DeletedAt is non-nil iff the resource is tombstoned.
type Metadata struct {
	Name      string     `json:"name"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Tombstoned reports whether the resource carries a deletion tombstone.
func (m *Metadata) Tombstoned() bool {
	return m.DeletedAt != nil
}

// Object is implemented by every concrete resource kind.
type Object interface {
	GetTypeMeta() TypeMeta
	SetTypeMeta(TypeMeta)
	GetMetadata() *Metadata
}

// ObjectOf constrains a type parameter to pointers to a concrete kind.
type ObjectOf[T any] interface {
	*T
	Object
}

// DocumentID derives the store document id for a resource name:
// "<kindPlural>:<name>". The prefix doubles as the partition key in a
// partitioned database.
func DocumentID(meta TypeMeta, name string) string {
	return meta.KindPlural + ":" + name
}

// NameFromDocumentID extracts the resource name from a store document id.
func NameFromDocumentID(id string) (string, error) {
	_, name, ok := strings.Cut(id, ":")
	if !ok || name == "" {
		return "", fmt.Errorf("malformed document id %q", id)
	}
	return name, nil
}

// KindPluralFromDocumentID extracts the storage namespace prefix from a
// document id.
func KindPluralFromDocumentID(id string) string {
	plural, _, _ := strings.Cut(id, ":")
	return plural
}
