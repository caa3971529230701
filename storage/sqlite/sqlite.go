// Package sqlite implements the storage port backed by SQLite, for
// single-node and embedded deployments. Named relations are not
// supported on this backend; Relate and friends fail with
// storage.ErrUnsupported.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	sqlitedrv "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/cadencehq/strata/storage"
)

// Store implements storage.Port backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ storage.Port = (*Store)(nil)

// New opens (or creates) the SQLite database at path and executes the
// given schema DDL, if any. Use ":memory:" for an ephemeral database.
func New(path, schema string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The driver opens connections lazily; a second connection to
	// :memory: would see a different database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", storage.ErrUnavailable)
	}
	if schema != "" {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, table, key string) (storage.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM `+quote(table)+` WHERE entity_id = ?`, key)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, storage.ErrNotFound
	}
	return result[0], nil
}

func (s *Store) BatchGet(ctx context.Context, table string, keys []string) ([]storage.Row, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		marks[i] = "?"
		args[i] = k
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM `+quote(table)+` WHERE entity_id IN (`+strings.Join(marks, ", ")+`)`,
		args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *Store) Query(ctx context.Context, table string, filter storage.Filter) ([]storage.Row, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT * FROM ` + quote(table))

	if len(filter.Conditions) > 0 {
		cols := sortedKeys(filter.Conditions)
		clauses := make([]string, 0, len(cols))
		for _, col := range cols {
			v := filter.Conditions[col]
			if v == nil {
				clauses = append(clauses, quote(col)+" IS NULL")
				continue
			}
			clauses = append(clauses, quote(col)+" = ?")
			args = append(args, sqlValue(v))
		}
		sb.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	if len(filter.Sort) > 0 {
		orders := make([]string, len(filter.Sort))
		for i, k := range filter.Sort {
			dir := " ASC"
			if k.Desc {
				dir = " DESC"
			}
			orders[i] = quote(k.Column) + dir
		}
		sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		// SQLite requires a LIMIT before OFFSET; -1 means unbounded.
		sb.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Apply runs the operation group in one transaction; a failed conditional
// aborts the whole group.
func (s *Store) Apply(ctx context.Context, ops []storage.Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, op := range ops {
		if err := s.applyOp(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) applyOp(ctx context.Context, tx *sql.Tx, op storage.Op) error {
	switch o := op.(type) {
	case storage.ConditionalPut:
		return applyConditionalPut(ctx, tx, o)
	case storage.Put:
		return applyPut(ctx, tx, o)
	case storage.CopyToAudit:
		quoted := make([]string, len(o.Columns))
		for i, col := range o.Columns {
			quoted[i] = quote(col)
		}
		list := strings.Join(quoted, ", ")
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (%s) SELECT %s FROM %s WHERE entity_id = ?`,
			quote(o.AuditTable), list, list, quote(o.Table)), o.Key)
		return translateErr(err)
	case storage.Delete:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM `+quote(o.Table)+` WHERE entity_id = ?`, o.Key)
		return translateErr(err)
	default:
		return fmt.Errorf("%w: operation %T", storage.ErrUnsupported, op)
	}
}

func applyConditionalPut(ctx context.Context, tx *sql.Tx, op storage.ConditionalPut) error {
	cols := sortedKeys(op.Row)

	if op.Expect.NotExists {
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, col := range cols {
			quoted[i] = quote(col)
			marks[i] = "?"
			args[i] = sqlValue(op.Row[col])
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (entity_id) DO NOTHING`,
			quote(op.Table), strings.Join(quoted, ", "), strings.Join(marks, ", ")), args...)
		if err != nil {
			return translateErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s/%s: %w", op.Table, op.Key, storage.ErrConflict)
		}
		return nil
	}

	var (
		sets []string
		args []any
	)
	for _, col := range cols {
		if col == "entity_id" {
			continue
		}
		sets = append(sets, quote(col)+" = ?")
		args = append(args, sqlValue(op.Row[col]))
	}
	args = append(args, op.Key, op.Expect.VersionEquals)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET %s WHERE entity_id = ? AND version = ?`,
		quote(op.Table), strings.Join(sets, ", ")), args...)
	if err != nil {
		return translateErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", op.Table, op.Key, storage.ErrStaleVersion)
	}
	return nil
}

func applyPut(ctx context.Context, tx *sql.Tx, op storage.Put) error {
	cols := sortedKeys(op.Row)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	var sets []string
	for i, col := range cols {
		quoted[i] = quote(col)
		marks[i] = "?"
		args[i] = sqlValue(op.Row[col])
		if col != "entity_id" {
			sets = append(sets, quoted[i]+" = excluded."+quoted[i])
		}
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (entity_id) DO UPDATE SET %s`,
		quote(op.Table), strings.Join(quoted, ", "),
		strings.Join(marks, ", "), strings.Join(sets, ", ")), args...)
	return translateErr(err)
}

// Relate is not available on SQLite.
func (s *Store) Relate(ctx context.Context, edge storage.Edge) error {
	return fmt.Errorf("relate on sqlite: %w", storage.ErrUnsupported)
}

// Unrelate is not available on SQLite.
func (s *Store) Unrelate(ctx context.Context, edge storage.Edge) error {
	return fmt.Errorf("unrelate on sqlite: %w", storage.ErrUnsupported)
}

// RelatedIDs is not available on SQLite.
func (s *Store) RelatedIDs(ctx context.Context, relation, table, id string, dir storage.Direction) ([]string, error) {
	return nil, fmt.Errorf("related ids on sqlite: %w", storage.ErrUnsupported)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var serr *sqlitedrv.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlitelib.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", storage.ErrConflict, err)
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
	}
	return err
}
