// Package storage defines the port contract every concrete backend adapter
// implements. Repositories speak only this interface; the conditional-write
// and atomic-grouping semantics here are what carry the versioning
// guarantees across structurally different engines.
package storage

import "context"

// Row is a flat column/field map, the wire format between repositories and
// adapters. Values are plain Go types: string, bool, int64, float64,
// time.Time, or nil.
type Row map[string]any

// SortKey orders query results by a single column.
type SortKey struct {
	Column string
	Desc   bool
}

// Filter selects rows from a table. Conditions are ANDed equality matches.
type Filter struct {
	Conditions map[string]any
	Sort       []SortKey
	Limit      int
	Offset     int
}

// Direction selects which side of an edge a traversal starts from.
type Direction string

const (
	DirectionOut Direction = "out"
	DirectionIn  Direction = "in"
)

// Edge is an associative relation between two entities, addressed by the
// relation name and both endpoints.
type Edge struct {
	Relation  string
	FromTable string
	FromID    string
	ToTable   string
	ToID      string
}

// Op is one step of an atomic write group. Adapters apply a group either
// fully or not at all.
type Op interface {
	op()
}

// ConditionalPut writes Row to Table under Key only when Expect holds
// against the table's current state. A failed NotExists check surfaces as
// ErrConflict; a failed VersionEquals check surfaces as ErrStaleVersion.
type ConditionalPut struct {
	Table  string
	Key    string
	Expect Predicate
	Row    Row
}

// Put writes Row unconditionally (upsert). Used for unversioned entities.
type Put struct {
	Table string
	Key   string
	Row   Row
}

// CopyToAudit copies the current live row for Key from Table into
// AuditTable, keyed by (entity_id, version). The copy happens inside the
// adapter so it always reflects the row state the group commits against.
// A missing live row is not an error; there is simply nothing to retire.
type CopyToAudit struct {
	Table      string
	AuditTable string
	Key        string
	Columns    []string
}

// Delete removes the row for Key from Table. Unversioned entities only.
type Delete struct {
	Table string
	Key   string
}

func (ConditionalPut) op() {}
func (Put) op()            {}
func (CopyToAudit) op()    {}
func (Delete) op()         {}

// Predicate is the condition a ConditionalPut is validated against.
type Predicate struct {
	// NotExists requires that no live row exists for the key.
	NotExists bool
	// VersionEquals requires the live row's version column to equal this
	// value. Ignored when NotExists is set.
	VersionEquals string
}

// Port is the capability interface a backend adapter presents.
//
// Get, BatchGet and Query are reads against a single table. Apply executes
// a write group atomically. Relate, Unrelate and RelatedIDs manage
// associative edges; adapters without that capability return ErrUnsupported
// from all three.
//
// A Port owns its connections and sessions; callers never see a
// unit-of-work handle.
type Port interface {
	// Get returns the row stored under key, or ErrNotFound.
	Get(ctx context.Context, table, key string) (Row, error)

	// BatchGet returns the rows stored under the given keys. Missing keys
	// are skipped, not errors; the result may be shorter than keys.
	BatchGet(ctx context.Context, table string, keys []string) ([]Row, error)

	// Query returns all rows matching the filter.
	Query(ctx context.Context, table string, filter Filter) ([]Row, error)

	// Apply executes the op group as a single atomic unit. When any
	// conditional check fails the whole group is discarded and the
	// predicate's error (ErrConflict or ErrStaleVersion) is returned.
	Apply(ctx context.Context, ops []Op) error

	// Relate records an associative edge. Unrelate removes it. RelatedIDs
	// returns the entity ids on the far side of the named relation.
	Relate(ctx context.Context, edge Edge) error
	Unrelate(ctx context.Context, edge Edge) error
	RelatedIDs(ctx context.Context, relation, table, id string, dir Direction) ([]string, error)

	// Close releases the adapter's connections.
	Close() error
}

// AuditTable returns the audit-pair table name for a live table.
func AuditTable(table string) string {
	return table + "_audit"
}
