package badgerdb

import "strings"

// Key prefixes for the stored record kinds.
const (
	rowPrefix  = "row"
	edgeOutPfx = "edg:o"
	edgeInPfx  = "edg:i"
	sep        = ":"
)

// rowKey addresses a live row. Format: row:<table>:<id>
func rowKey(table, id string) []byte {
	return []byte(rowPrefix + sep + table + sep + id)
}

// tablePrefix is the iteration prefix for a table's live rows.
func tablePrefix(table string) []byte {
	return []byte(rowPrefix + sep + table + sep)
}

// auditKey addresses one archived revision in an audit table. Revisions
// share the table prefix so audit history is queryable like any table.
// Format: row:<audit_table>:<id>:<version>
func auditKey(table, id, version string) []byte {
	return []byte(rowPrefix + sep + table + sep + id + sep + version)
}

// edgeKeys builds the forward and reverse keys for one relation edge. Both
// are written so traversal is a prefix scan in either direction.
func edgeKeys(relation, fromTable, fromID, toTable, toID string) ([]byte, []byte) {
	fwd := strings.Join([]string{edgeOutPfx, relation, fromTable, fromID, toTable, toID}, sep)
	rev := strings.Join([]string{edgeInPfx, relation, toTable, toID, fromTable, fromID}, sep)
	return []byte(fwd), []byte(rev)
}

// edgePrefix is the scan prefix for all edges of a relation leaving (or
// entering) one entity.
func edgePrefix(dirPfx, relation, table, id string) []byte {
	return []byte(strings.Join([]string{dirPfx, relation, table, id}, sep) + sep)
}

// edgeTargetID extracts the far-end entity id from a full edge key.
func edgeTargetID(key []byte) string {
	parts := strings.Split(string(key), sep)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
