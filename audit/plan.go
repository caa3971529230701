// Package audit implements the backend-agnostic write protocol for
// versioned entities: it converts a prepared save into the minimal atomic
// op group that preserves the version-chain invariant, leaving the
// conditional-write mechanics to each storage adapter.
package audit

import (
	"fmt"
	"sort"

	"github.com/cadencehq/strata/idgen"
	"github.com/cadencehq/strata/storage"
)

// Write describes one prepared versioned save.
type Write struct {
	// Table is the live table for the entity type.
	Table string
	// Row is the fully prepared new revision, including the Big Six.
	Row storage.Row
	// Creation marks the first revision of an entity. The write then
	// succeeds only if no live row exists yet; a pre-existing row means the
	// caller raced another creator.
	Creation bool
	// Mirror enables audit-table mirroring: the superseded live row is
	// copied into the audit pair inside the same atomic group.
	Mirror bool
}

// Ops expands the write into its atomic op group.
//
// Creation yields a single existence-guarded put. An update yields the
// audit copy (when mirroring) followed by a put guarded on the live row's
// version matching the new revision's previous_version; adapters apply the
// group all-or-nothing, so a reader can never observe the audit copy
// without the live advance or vice versa.
func (w Write) Ops() ([]storage.Op, error) {
	key, err := rowKey(w.Row)
	if err != nil {
		return nil, err
	}

	if w.Creation {
		return []storage.Op{storage.ConditionalPut{
			Table:  w.Table,
			Key:    key,
			Expect: storage.Predicate{NotExists: true},
			Row:    w.Row,
		}}, nil
	}

	prev, _ := w.Row["previous_version"].(string)
	if prev == "" || prev == idgen.Sentinel {
		return nil, fmt.Errorf("audit: update of %s/%s has no previous_version to validate against", w.Table, key)
	}

	var ops []storage.Op
	if w.Mirror {
		ops = append(ops, storage.CopyToAudit{
			Table:      w.Table,
			AuditTable: storage.AuditTable(w.Table),
			Key:        key,
			Columns:    sortedColumns(w.Row),
		})
	}
	ops = append(ops, storage.ConditionalPut{
		Table:  w.Table,
		Key:    key,
		Expect: storage.Predicate{VersionEquals: prev},
		Row:    w.Row,
	})
	return ops, nil
}

// Upsert returns the op group for an unversioned save: an unconditional
// put, no audit step, no concurrency check.
func Upsert(table string, row storage.Row) ([]storage.Op, error) {
	key, err := rowKey(row)
	if err != nil {
		return nil, err
	}
	return []storage.Op{storage.Put{Table: table, Key: key, Row: row}}, nil
}

// Remove returns the op group for an unversioned delete: physical removal.
func Remove(table, key string) []storage.Op {
	return []storage.Op{storage.Delete{Table: table, Key: key}}
}

func rowKey(row storage.Row) (string, error) {
	id, _ := row["entity_id"].(string)
	if id == "" {
		return "", fmt.Errorf("audit: row has no entity_id")
	}
	return id, nil
}

func sortedColumns(row storage.Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
