// Package memory implements the storage port with in-process maps. It is
// the reference adapter: tests for the repository layer run against it, and
// it serves ephemeral data that does not justify an external backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cadencehq/strata/storage"
)

// Store implements storage.Port in memory. All operations are safe for
// concurrent use; Apply holds the store lock for the whole op group, which
// is what makes the group atomic.
type Store struct {
	mu     sync.Mutex
	tables map[string]map[string]storage.Row
	edges  map[storage.Edge]struct{}
}

// Compile-time check that Store implements storage.Port.
var _ storage.Port = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		tables: make(map[string]map[string]storage.Row),
		edges:  make(map[storage.Edge]struct{}),
	}
}

func (s *Store) Get(ctx context.Context, table, key string) (storage.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tables[table][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRow(row), nil
}

func (s *Store) BatchGet(ctx context.Context, table string, keys []string) ([]storage.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]storage.Row, 0, len(keys))
	for _, key := range keys {
		if row, ok := s.tables[table][key]; ok {
			rows = append(rows, cloneRow(row))
		}
	}
	return rows, nil
}

func (s *Store) Query(ctx context.Context, table string, filter storage.Filter) ([]storage.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Iterate keys in sorted order so selection among duplicates is
	// deterministic for a fixed store state.
	tbl := s.tables[table]
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rows []storage.Row
	for _, k := range keys {
		if matches(tbl[k], filter.Conditions) {
			rows = append(rows, cloneRow(tbl[k]))
		}
	}

	for i := len(filter.Sort) - 1; i >= 0; i-- {
		key := filter.Sort[i]
		sort.SliceStable(rows, func(a, b int) bool {
			cmp := compareValues(rows[a][key.Column], rows[b][key.Column])
			if key.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(rows) {
			return nil, nil
		}
		rows = rows[filter.Offset:]
	}
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

func (s *Store) Apply(ctx context.Context, ops []storage.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every conditional check before mutating anything, so a
	// failed group leaves the store untouched.
	for _, op := range ops {
		if put, ok := op.(storage.ConditionalPut); ok {
			if err := s.check(put); err != nil {
				return err
			}
		}
	}

	for _, op := range ops {
		switch o := op.(type) {
		case storage.ConditionalPut:
			s.put(o.Table, o.Key, o.Row)
		case storage.Put:
			s.put(o.Table, o.Key, o.Row)
		case storage.CopyToAudit:
			live, ok := s.tables[o.Table][o.Key]
			if !ok {
				continue
			}
			// Snapshot only the requested columns, matching the SQL
			// adapters' INSERT ... SELECT column list.
			snap := make(storage.Row, len(o.Columns))
			for _, col := range o.Columns {
				if v, ok := live[col]; ok {
					snap[col] = v
				}
			}
			version, _ := live["version"].(string)
			s.put(o.AuditTable, o.Key+"\x00"+version, snap)
		case storage.Delete:
			delete(s.tables[o.Table], o.Key)
		}
	}
	return nil
}

func (s *Store) check(put storage.ConditionalPut) error {
	live, exists := s.tables[put.Table][put.Key]
	if put.Expect.NotExists {
		if exists {
			return storage.ErrConflict
		}
		return nil
	}
	if put.Expect.VersionEquals != "" {
		if !exists {
			return storage.ErrStaleVersion
		}
		if v, _ := live["version"].(string); v != put.Expect.VersionEquals {
			return storage.ErrStaleVersion
		}
	}
	return nil
}

func (s *Store) put(table, key string, row storage.Row) {
	if s.tables[table] == nil {
		s.tables[table] = make(map[string]storage.Row)
	}
	s.tables[table][key] = cloneRow(row)
}

func (s *Store) Relate(ctx context.Context, edge storage.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[edge] = struct{}{}
	return nil
}

func (s *Store) Unrelate(ctx context.Context, edge storage.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, edge)
	return nil
}

func (s *Store) RelatedIDs(ctx context.Context, relation, table, id string, dir storage.Direction) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for edge := range s.edges {
		if edge.Relation != relation {
			continue
		}
		switch dir {
		case storage.DirectionOut:
			if edge.FromTable == table && edge.FromID == id {
				ids = append(ids, edge.ToID)
			}
		case storage.DirectionIn:
			if edge.ToTable == table && edge.ToID == id {
				ids = append(ids, edge.FromID)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Close() error {
	return nil
}

func matches(row storage.Row, conditions map[string]any) bool {
	for col, want := range conditions {
		if compareValues(row[col], want) != 0 {
			return false
		}
	}
	return true
}

func cloneRow(row storage.Row) storage.Row {
	out := make(storage.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// compareValues orders two row values of the same general shape. Mixed or
// unknown types fall back to string formatting, which keeps sorting total.
func compareValues(a, b any) int {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	if an, ok := numeric(a); ok {
		if bn, ok := numeric(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := stringify(a), stringify(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		if s {
			return "true"
		}
		return "false"
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}
