package audit

import (
	"testing"

	"github.com/cadencehq/strata/idgen"
	"github.com/cadencehq/strata/storage"
)

func row(id, version, previous string) storage.Row {
	return storage.Row{
		"entity_id":        id,
		"version":          version,
		"previous_version": previous,
		"active":           true,
		"name":             "x",
	}
}

func TestWriteOps_Creation(t *testing.T) {
	w := Write{Table: "person", Row: row("e1", "v1", idgen.Sentinel), Creation: true, Mirror: true}
	ops, err := w.Ops()
	if err != nil {
		t.Fatalf("Ops() error: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("creation op count = %d, want 1 (no audit copy for a first revision)", len(ops))
	}
	put, ok := ops[0].(storage.ConditionalPut)
	if !ok {
		t.Fatalf("ops[0] = %T, want ConditionalPut", ops[0])
	}
	if !put.Expect.NotExists {
		t.Error("creation must be guarded on non-existence")
	}
	if put.Table != "person" || put.Key != "e1" {
		t.Errorf("put target = %s/%s, want person/e1", put.Table, put.Key)
	}
}

func TestWriteOps_UpdateWithMirror(t *testing.T) {
	w := Write{Table: "person", Row: row("e1", "v2", "v1previous0000000000000000000000"), Mirror: true}
	ops, err := w.Ops()
	if err != nil {
		t.Fatalf("Ops() error: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("update op count = %d, want audit copy + conditional put", len(ops))
	}

	copyOp, ok := ops[0].(storage.CopyToAudit)
	if !ok {
		t.Fatalf("ops[0] = %T, want CopyToAudit", ops[0])
	}
	if copyOp.AuditTable != "person_audit" || copyOp.Key != "e1" {
		t.Errorf("audit copy target = %s/%s, want person_audit/e1", copyOp.AuditTable, copyOp.Key)
	}
	if len(copyOp.Columns) != 5 {
		t.Errorf("audit copy columns = %v, want all row columns", copyOp.Columns)
	}

	put, ok := ops[1].(storage.ConditionalPut)
	if !ok {
		t.Fatalf("ops[1] = %T, want ConditionalPut", ops[1])
	}
	if put.Expect.NotExists {
		t.Error("update must not be guarded on non-existence")
	}
	if put.Expect.VersionEquals != "v1previous0000000000000000000000" {
		t.Errorf("version guard = %q, want the prepared previous_version", put.Expect.VersionEquals)
	}
}

func TestWriteOps_UpdateWithoutMirror(t *testing.T) {
	w := Write{Table: "person", Row: row("e1", "v2", "v1previous0000000000000000000000")}
	ops, err := w.Ops()
	if err != nil {
		t.Fatalf("Ops() error: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("op count = %d, want just the conditional put", len(ops))
	}
	if _, ok := ops[0].(storage.ConditionalPut); !ok {
		t.Fatalf("ops[0] = %T, want ConditionalPut", ops[0])
	}
}

func TestWriteOps_UpdateNeedsPreviousVersion(t *testing.T) {
	for _, prev := range []string{"", idgen.Sentinel} {
		w := Write{Table: "person", Row: row("e1", "v2", prev)}
		if _, err := w.Ops(); err == nil {
			t.Errorf("Ops() with previous_version %q should fail", prev)
		}
	}
}

func TestWriteOps_MissingEntityID(t *testing.T) {
	w := Write{Table: "person", Row: storage.Row{"version": "v1"}, Creation: true}
	if _, err := w.Ops(); err == nil {
		t.Error("Ops() without entity_id should fail")
	}
}

func TestUpsertAndRemove(t *testing.T) {
	ops, err := Upsert("session", storage.Row{"entity_id": "s1", "token": "t"})
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("upsert op count = %d, want 1", len(ops))
	}
	if _, ok := ops[0].(storage.Put); !ok {
		t.Fatalf("ops[0] = %T, want unconditional Put", ops[0])
	}

	ops = Remove("session", "s1")
	del, ok := ops[0].(storage.Delete)
	if !ok {
		t.Fatalf("ops[0] = %T, want Delete", ops[0])
	}
	if del.Table != "session" || del.Key != "s1" {
		t.Errorf("delete target = %s/%s, want session/s1", del.Table, del.Key)
	}
}
