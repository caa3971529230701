package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cadencehq/strata/storage"
)

// scanRows reads every result row into the generic row form, keyed by
// column name.
func scanRows(rows *sql.Rows) ([]storage.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []storage.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(storage.Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize converts driver-specific scan results into the types the row
// codec understands. Byte slices are either JSON documents (from jsonb
// columns) or plain text.
func normalize(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if len(b) > 0 && (b[0] == '{' || b[0] == '[') {
		var doc any
		if err := json.Unmarshal(b, &doc); err == nil {
			return doc
		}
	}
	return string(b)
}

// sqlValue converts a row value into a form the driver can bind. Nested
// documents go to the database as JSON.
func sqlValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, time.Time, []byte:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return b
}
