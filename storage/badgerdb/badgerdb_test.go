package badgerdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/strata/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func create(t *testing.T, s *Store, table, id, version string, row storage.Row) {
	t.Helper()
	row["entity_id"] = id
	row["version"] = version
	err := s.Apply(context.Background(), []storage.Op{
		storage.ConditionalPut{
			Table:  table,
			Key:    id,
			Expect: storage.Predicate{NotExists: true},
			Row:    row,
		},
	})
	require.NoError(t, err)
}

func TestGetAndBatchGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	create(t, s, "widgets", "w1", "v1", storage.Row{"name": "gizmo", "qty": 3})
	create(t, s, "widgets", "w2", "v1", storage.Row{"name": "gadget", "qty": 5})

	row, err := s.Get(ctx, "widgets", "w1")
	require.NoError(t, err)
	assert.Equal(t, "gizmo", row["name"])

	_, err = s.Get(ctx, "widgets", "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rows, err := s.BatchGet(ctx, "widgets", []string{"w1", "ghost", "w2"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestConditionalCreateConflict(t *testing.T) {
	s := newTestStore(t)
	create(t, s, "widgets", "w1", "v1", storage.Row{"name": "gizmo"})

	err := s.Apply(context.Background(), []storage.Op{
		storage.ConditionalPut{
			Table:  "widgets",
			Key:    "w1",
			Expect: storage.Predicate{NotExists: true},
			Row:    storage.Row{"entity_id": "w1", "version": "v9"},
		},
	})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestGuardedUpdateWithAudit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	create(t, s, "widgets", "w1", "v1", storage.Row{"name": "gizmo", "qty": 1})

	ops := []storage.Op{
		storage.CopyToAudit{
			Table:      "widgets",
			AuditTable: "widgets_audit",
			Key:        "w1",
			Columns:    []string{"entity_id", "version", "name", "qty"},
		},
		storage.ConditionalPut{
			Table:  "widgets",
			Key:    "w1",
			Expect: storage.Predicate{VersionEquals: "v1"},
			Row:    storage.Row{"entity_id": "w1", "version": "v2", "name": "gizmo", "qty": 2},
		},
	}
	require.NoError(t, s.Apply(ctx, ops))

	audit, err := s.Query(ctx, "widgets_audit", storage.Filter{
		Conditions: map[string]any{"entity_id": "w1"},
	})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "v1", audit[0]["version"])

	// The same guard is now stale; the whole group must be discarded.
	err = s.Apply(ctx, ops)
	assert.ErrorIs(t, err, storage.ErrStaleVersion)

	audit, err = s.Query(ctx, "widgets_audit", storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, audit, 1, "failed group must not leave audit rows")
}

func TestQueryFilterSortPage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	create(t, s, "widgets", "a", "v1", storage.Row{"name": "alpha", "qty": 1})
	create(t, s, "widgets", "b", "v1", storage.Row{"name": "beta", "qty": 2})
	create(t, s, "widgets", "c", "v1", storage.Row{"name": "gamma", "qty": 1})

	rows, err := s.Query(ctx, "widgets", storage.Filter{
		Conditions: map[string]any{"qty": 1},
		Sort:       []storage.SortKey{{Column: "name", Desc: true}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "gamma", rows[0]["name"])
	assert.Equal(t, "alpha", rows[1]["name"])

	rows, err = s.Query(ctx, "widgets", storage.Filter{
		Sort:   []storage.SortKey{{Column: "entity_id"}},
		Limit:  2,
		Offset: 1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["entity_id"])
}

func TestUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	put := storage.Put{Table: "keys", Key: "k1", Row: storage.Row{"entity_id": "k1", "token": "a"}}
	require.NoError(t, s.Apply(ctx, []storage.Op{put}))
	put.Row = storage.Row{"entity_id": "k1", "token": "b"}
	require.NoError(t, s.Apply(ctx, []storage.Op{put}))

	row, err := s.Get(ctx, "keys", "k1")
	require.NoError(t, err)
	assert.Equal(t, "b", row["token"])

	require.NoError(t, s.Apply(ctx, []storage.Op{storage.Delete{Table: "keys", Key: "k1"}}))
	_, err = s.Get(ctx, "keys", "k1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRelateTraverseUnrelate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	edge := storage.Edge{
		Relation: "member_of", FromTable: "people", FromID: "p1",
		ToTable: "teams", ToID: "t1",
	}
	require.NoError(t, s.Relate(ctx, edge))
	edge2 := edge
	edge2.ToID = "t2"
	require.NoError(t, s.Relate(ctx, edge2))

	out, err := s.RelatedIDs(ctx, "member_of", "people", "p1", storage.DirectionOut)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, out)

	in, err := s.RelatedIDs(ctx, "member_of", "teams", "t1", storage.DirectionIn)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, in)

	require.NoError(t, s.Unrelate(ctx, edge))
	out, err = s.RelatedIDs(ctx, "member_of", "people", "p1", storage.DirectionOut)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, out)
}
