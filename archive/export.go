// Package archive exports audit history as JSONL, either on demand or on
// a schedule, to local files or S3-compatible object storage.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cadencehq/strata/storage"
)

// exportPageSize bounds each storage read while walking an audit table.
const exportPageSize = 500

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version       string    `json:"version"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Tables        []string  `json:"tables"`
	RevisionCount int       `json:"revision_count"`
}

// record wraps a single JSONL line with its source table.
type record struct {
	Type  string      `json:"type"`
	Table string      `json:"table"`
	Data  storage.Row `json:"data"`
}

// ExportJSONL writes the full audit history of the given tables as JSONL
// to w: one header line, then one line per archived revision, ordered by
// entity and version within each table.
func ExportJSONL(ctx context.Context, port storage.Port, tables []string, w io.Writer) error {
	var revisions []record
	for _, table := range tables {
		auditTable := storage.AuditTable(table)
		rows, err := readAll(ctx, port, auditTable)
		if err != nil {
			return fmt.Errorf("read %s: %w", auditTable, err)
		}
		for _, row := range rows {
			revisions = append(revisions, record{Type: "revision", Table: table, Data: row})
		}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:       "1",
		Type:          "header",
		Timestamp:     time.Now().UTC(),
		Tables:        tables,
		RevisionCount: len(revisions),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, rec := range revisions {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode revision: %w", err)
		}
	}
	return nil
}

// readAll pages through a table until the backend returns a short page.
func readAll(ctx context.Context, port storage.Port, table string) ([]storage.Row, error) {
	var all []storage.Row
	for offset := 0; ; offset += exportPageSize {
		page, err := port.Query(ctx, table, storage.Filter{
			Sort: []storage.SortKey{
				{Column: "entity_id"},
				{Column: "version"},
			},
			Limit:  exportPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			return all, nil
		}
	}
}
