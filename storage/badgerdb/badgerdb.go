// Package badgerdb implements the storage port on BadgerDB, an embedded
// key-value store. Rows are JSON documents under composite keys; relation
// edges are written in both directions so traversal is a prefix scan.
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/cadencehq/strata/storage"
)

// Store implements storage.Port backed by a BadgerDB instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ storage.Port = (*Store)(nil)

// loggerAdapter adapts slog.Logger to the badger.Logger interface.
type loggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*loggerAdapter)(nil)

func (l *loggerAdapter) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *loggerAdapter) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

func (l *loggerAdapter) Infof(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

func (l *loggerAdapter) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens a BadgerDB database at path, creating the directory when
// absent. An empty path opens an in-memory database.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &loggerAdapter{logger: slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, table, key string) (storage.Row, error) {
	var row storage.Row
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(rowKey(table, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Store) BatchGet(ctx context.Context, table string, keys []string) ([]storage.Row, error) {
	rows := make([]storage.Row, 0, len(keys))
	err := s.db.View(func(tx *badger.Txn) error {
		for _, key := range keys {
			item, err := tx.Get(rowKey(table, key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var row storage.Row
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Query scans the table prefix and filters in process. Badger has no
// secondary indexes; sorting and paging happen after the scan.
func (s *Store) Query(ctx context.Context, table string, filter storage.Filter) ([]storage.Row, error) {
	var rows []storage.Row
	err := s.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := tablePrefix(table)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var row storage.Row
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return err
			}
			if matches(row, filter.Conditions) {
				rows = append(rows, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(filter.Sort) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, k := range filter.Sort {
				c := compareValues(rows[i][k.Column], rows[j][k.Column])
				if c == 0 {
					continue
				}
				if k.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
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

// Apply runs the group in one read-write transaction, so a conditional
// failure discards everything including any audit copy.
func (s *Store) Apply(ctx context.Context, ops []storage.Op) error {
	return s.db.Update(func(tx *badger.Txn) error {
		for _, op := range ops {
			if err := applyOp(tx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyOp(tx *badger.Txn, op storage.Op) error {
	switch o := op.(type) {
	case storage.ConditionalPut:
		return applyConditionalPut(tx, o)
	case storage.Put:
		return setRow(tx, rowKey(o.Table, o.Key), o.Row)
	case storage.CopyToAudit:
		return applyCopyToAudit(tx, o)
	case storage.Delete:
		return tx.Delete(rowKey(o.Table, o.Key))
	default:
		return fmt.Errorf("%w: operation %T", storage.ErrUnsupported, op)
	}
}

func applyConditionalPut(tx *badger.Txn, op storage.ConditionalPut) error {
	key := rowKey(op.Table, op.Key)
	item, err := tx.Get(key)

	if op.Expect.NotExists {
		if err == nil {
			return fmt.Errorf("%s/%s: %w", op.Table, op.Key, storage.ErrConflict)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setRow(tx, key, op.Row)
	}

	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s/%s: %w", op.Table, op.Key, storage.ErrStaleVersion)
	}
	if err != nil {
		return err
	}
	var current storage.Row
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &current)
	}); err != nil {
		return err
	}
	if current["version"] != op.Expect.VersionEquals {
		return fmt.Errorf("%s/%s: %w", op.Table, op.Key, storage.ErrStaleVersion)
	}
	return setRow(tx, key, op.Row)
}

func applyCopyToAudit(tx *badger.Txn, op storage.CopyToAudit) error {
	item, err := tx.Get(rowKey(op.Table, op.Key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		// Nothing to snapshot; the guarded write that follows decides.
		return nil
	}
	if err != nil {
		return err
	}
	var current storage.Row
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &current)
	}); err != nil {
		return err
	}

	snapshot := make(storage.Row, len(op.Columns))
	for _, col := range op.Columns {
		if v, ok := current[col]; ok {
			snapshot[col] = v
		}
	}
	version, _ := current["version"].(string)
	return setRow(tx, auditKey(op.AuditTable, op.Key, version), snapshot)
}

func setRow(tx *badger.Txn, key []byte, row storage.Row) error {
	val, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return tx.Set(key, val)
}

func (s *Store) Relate(ctx context.Context, edge storage.Edge) error {
	fwd, rev := edgeKeys(edge.Relation, edge.FromTable, edge.FromID, edge.ToTable, edge.ToID)
	return s.db.Update(func(tx *badger.Txn) error {
		if err := tx.Set(fwd, nil); err != nil {
			return err
		}
		return tx.Set(rev, nil)
	})
}

func (s *Store) Unrelate(ctx context.Context, edge storage.Edge) error {
	fwd, rev := edgeKeys(edge.Relation, edge.FromTable, edge.FromID, edge.ToTable, edge.ToID)
	return s.db.Update(func(tx *badger.Txn) error {
		if err := tx.Delete(fwd); err != nil {
			return err
		}
		return tx.Delete(rev)
	})
}

func (s *Store) RelatedIDs(ctx context.Context, relation, table, id string, dir storage.Direction) ([]string, error) {
	dirPfx := edgeOutPfx
	if dir == storage.DirectionIn {
		dirPfx = edgeInPfx
	}
	prefix := edgePrefix(dirPfx, relation, table, id)

	var ids []string
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, edgeTargetID(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// matches applies exact-value conditions, tolerating the numeric widening
// JSON round-trips introduce.
func matches(row storage.Row, conditions map[string]any) bool {
	for col, want := range conditions {
		got, ok := row[col]
		if !ok {
			return false
		}
		if !equalValues(got, want) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareValues(a, b any) int {
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
