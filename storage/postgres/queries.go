package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/cadencehq/strata/storage"
)

// relationsTable holds all named relations between entities, regardless of
// the tables they connect.
const relationsTable = "strata_relations"

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryGet(ctx context.Context, db executor, table, key string) (storage.Row, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT * FROM `+pq.QuoteIdentifier(table)+` WHERE entity_id = $1`, key)
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

func queryBatchGet(ctx context.Context, db executor, table string, keys []string) ([]storage.Row, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := db.QueryContext(ctx,
		`SELECT * FROM `+pq.QuoteIdentifier(table)+` WHERE entity_id = ANY($1)`,
		pq.Array(keys))
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func queryFilter(ctx context.Context, db executor, table string, filter storage.Filter) ([]storage.Row, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT * FROM ` + pq.QuoteIdentifier(table))

	if len(filter.Conditions) > 0 {
		cols := sortedKeys(filter.Conditions)
		clauses := make([]string, 0, len(cols))
		for _, col := range cols {
			v := filter.Conditions[col]
			if v == nil {
				clauses = append(clauses, pq.QuoteIdentifier(col)+" IS NULL")
				continue
			}
			args = append(args, v)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(col), len(args)))
		}
		sb.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}

	if len(filter.Sort) > 0 {
		orders := make([]string, len(filter.Sort))
		for i, s := range filter.Sort {
			dir := " ASC"
			if s.Desc {
				dir = " DESC"
			}
			orders[i] = pq.QuoteIdentifier(s.Column) + dir
		}
		sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// applyOp executes a single write operation. Conditional writes report
// their outcome through rows-affected so no read precedes the write.
func applyOp(ctx context.Context, db executor, op storage.Op) error {
	switch o := op.(type) {
	case storage.ConditionalPut:
		return applyConditionalPut(ctx, db, o)
	case storage.Put:
		return applyPut(ctx, db, o)
	case storage.CopyToAudit:
		return applyCopyToAudit(ctx, db, o)
	case storage.Delete:
		_, err := db.ExecContext(ctx,
			`DELETE FROM `+pq.QuoteIdentifier(o.Table)+` WHERE entity_id = $1`, o.Key)
		return translateErr(err)
	default:
		return fmt.Errorf("%w: operation %T", storage.ErrUnsupported, op)
	}
}

func applyConditionalPut(ctx context.Context, db executor, op storage.ConditionalPut) error {
	cols := sortedKeys(op.Row)
	args := make([]any, 0, len(cols)+1)

	if op.Expect.NotExists {
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		for i, col := range cols {
			quoted[i] = pq.QuoteIdentifier(col)
			marks[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, sqlValue(op.Row[col]))
		}
		res, err := db.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (entity_id) DO NOTHING`,
			pq.QuoteIdentifier(op.Table),
			strings.Join(quoted, ", "),
			strings.Join(marks, ", ")), args...)
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

	// Guarded update: the row must still carry the expected version.
	sets := make([]string, 0, len(cols))
	for _, col := range cols {
		if col == "entity_id" {
			continue
		}
		args = append(args, sqlValue(op.Row[col]))
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(col), len(args)))
	}
	args = append(args, op.Key, op.Expect.VersionEquals)
	res, err := db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET %s WHERE entity_id = $%d AND version = $%d`,
		pq.QuoteIdentifier(op.Table),
		strings.Join(sets, ", "),
		len(args)-1, len(args)), args...)
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

func applyPut(ctx context.Context, db executor, op storage.Put) error {
	cols := sortedKeys(op.Row)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	var sets []string
	for i, col := range cols {
		quoted[i] = pq.QuoteIdentifier(col)
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = sqlValue(op.Row[col])
		if col != "entity_id" {
			sets = append(sets, quoted[i]+" = EXCLUDED."+quoted[i])
		}
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (entity_id) DO UPDATE SET %s`,
		pq.QuoteIdentifier(op.Table),
		strings.Join(quoted, ", "),
		strings.Join(marks, ", "),
		strings.Join(sets, ", ")), args...)
	return translateErr(err)
}

// applyCopyToAudit snapshots the current live row into the audit table
// server-side, so the prior revision is preserved without a round trip.
func applyCopyToAudit(ctx context.Context, db executor, op storage.CopyToAudit) error {
	quoted := make([]string, len(op.Columns))
	for i, col := range op.Columns {
		quoted[i] = pq.QuoteIdentifier(col)
	}
	list := strings.Join(quoted, ", ")
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s) SELECT %s FROM %s WHERE entity_id = $1`,
		pq.QuoteIdentifier(op.AuditTable), list, list,
		pq.QuoteIdentifier(op.Table)), op.Key)
	return translateErr(err)
}

func queryRelate(ctx context.Context, db executor, e storage.Edge) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO `+relationsTable+` (relation, from_table, from_id, to_table, to_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`,
		e.Relation, e.FromTable, e.FromID, e.ToTable, e.ToID)
	return translateErr(err)
}

func queryUnrelate(ctx context.Context, db executor, e storage.Edge) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM `+relationsTable+`
		WHERE relation = $1 AND from_table = $2 AND from_id = $3 AND to_table = $4 AND to_id = $5`,
		e.Relation, e.FromTable, e.FromID, e.ToTable, e.ToID)
	return translateErr(err)
}

func queryRelatedIDs(ctx context.Context, db executor, relation, table, id string, dir storage.Direction) ([]string, error) {
	var q string
	if dir == storage.DirectionOut {
		q = `SELECT to_id FROM ` + relationsTable + `
			WHERE relation = $1 AND from_table = $2 AND from_id = $3 ORDER BY to_id`
	} else {
		q = `SELECT from_id FROM ` + relationsTable + `
			WHERE relation = $1 AND to_table = $2 AND to_id = $3 ORDER BY from_id`
	}
	rows, err := db.QueryContext(ctx, q, relation, table, id)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		ids = append(ids, s)
	}
	return ids, rows.Err()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// translateErr maps driver errors onto the storage sentinels.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Message)
		case "57P01", "08006", "08001": // shutdown / connection failures
			return fmt.Errorf("%w: %s", storage.ErrUnavailable, pqErr.Message)
		}
	}
	return err
}
