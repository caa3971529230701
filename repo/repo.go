// Package repo implements the persistence contract for versioned entities:
// optimistic-concurrency saves with audit mirroring, soft deletes, filtered
// reads with reference fetching, and change notifications.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/cadencehq/strata/audit"
	"github.com/cadencehq/strata/entity"
	"github.com/cadencehq/strata/notify"
	"github.com/cadencehq/strata/resolver"
	"github.com/cadencehq/strata/storage"
)

// DefaultLimit caps GetMany result sets when the query does not set one.
const DefaultLimit = 100

// Options configure a repository. The zero value is usable; saves are then
// attributed to nobody and events go to the default topic.
type Options struct {
	// Actor identifies who is making changes through this repository.
	// It is stamped into changed_by_id on every save.
	Actor string

	// Topic overrides the change event topic. Defaults to
	// "strata.<table>.changed".
	Topic string

	// DisableAudit skips the audit mirror on update. Creations never
	// mirror; the zero-state predecessor does not exist.
	DisableAudit bool

	// SaveCalculatedFields includes calculated columns in written rows.
	// Off by default; calculated columns are normally derived on read.
	SaveCalculatedFields bool

	Logger *slog.Logger
}

// Repository persists entities of type T through a storage port.
type Repository[T any] struct {
	port storage.Port
	pub  notify.Publisher
	desc *entity.Descriptor
	opts Options
	log  *slog.Logger
}

// Query narrows a read. Conditions match column values exactly; versioned
// tables additionally require active=true unless IncludeInactive is set.
type Query struct {
	Conditions      map[string]any
	IncludeInactive bool

	// Fetch lists reference paths to resolve on the results. Strict makes
	// a dangling reference an error instead of a missing mark.
	Fetch  []string
	Strict bool

	Sort   []storage.SortKey
	Limit  int
	Offset int
}

// New builds a repository for T. A nil publisher disables notifications.
func New[T any](port storage.Port, pub notify.Publisher, opts Options) (*Repository[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	if pub == nil {
		pub = &notify.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Repository[T]{
		port: port,
		pub:  pub,
		desc: desc,
		opts: opts,
		log:  opts.Logger,
	}, nil
}

// Table returns the table this repository reads and writes.
func (r *Repository[T]) Table() string { return r.desc.Table }

// Save writes v. For versioned entities it advances the version chain,
// mirrors the prior state to the audit table, and writes conditionally: a
// create fails with storage.ErrConflict if the id already exists, an
// update fails with storage.ErrStaleVersion if the stored version moved
// on. For unversioned entities it is a plain upsert.
//
// When publish is true a change event is emitted after the write; a
// publish failure is logged, never returned.
func (r *Repository[T]) Save(ctx context.Context, v *T, publish bool) error {
	if err := r.validate(v); err != nil {
		return err
	}

	if !r.desc.Versioned {
		return r.saveUnversioned(ctx, v, publish)
	}

	meta := r.desc.Meta(v)
	if err := meta.PrepareForSave(r.opts.Actor); err != nil {
		return err
	}
	creation := meta.IsNew()
	if err := entity.ValidateMeta(meta); err != nil {
		return err
	}

	row, err := r.desc.Record(v, r.opts.SaveCalculatedFields)
	if err != nil {
		return err
	}
	w := audit.Write{
		Table:    r.desc.Table,
		Row:      row,
		Creation: creation,
		Mirror:   !r.opts.DisableAudit,
	}
	ops, err := w.Ops()
	if err != nil {
		return err
	}
	if err := r.port.Apply(ctx, ops); err != nil {
		return fmt.Errorf("saving %s/%s: %w", r.desc.Table, meta.EntityID, err)
	}

	if publish {
		r.publish(ctx, notify.ChangeEvent{
			Table:    r.desc.Table,
			EntityID: meta.EntityID,
			Version:  meta.Version,
			Deleted:  !meta.Active,
			Entity:   row,
		})
	}
	return nil
}

// Delete soft-deletes a versioned entity: active is cleared and the change
// is saved through the normal versioned write path, so the deletion is
// itself audited and guarded against stale versions. Unversioned entities
// are removed outright.
func (r *Repository[T]) Delete(ctx context.Context, v *T, publish bool) error {
	if !r.desc.Versioned {
		bare := r.desc.Bare(v)
		if bare.EntityID == "" {
			return fmt.Errorf("deleting from %s: entity has no entity_id", r.desc.Table)
		}
		ops := audit.Remove(r.desc.Table, bare.EntityID)
		if err := r.port.Apply(ctx, ops); err != nil {
			return fmt.Errorf("deleting %s/%s: %w", r.desc.Table, bare.EntityID, err)
		}
		if publish {
			r.publish(ctx, notify.ChangeEvent{
				Table:    r.desc.Table,
				EntityID: bare.EntityID,
				Deleted:  true,
			})
		}
		return nil
	}

	r.desc.Meta(v).Active = false
	return r.Save(ctx, v, publish)
}

// Get fetches a single entity by id. Soft-deleted entities are still
// returned; use GetOne with conditions to exclude them.
func (r *Repository[T]) Get(ctx context.Context, id string) (*T, error) {
	row, err := r.port.Get(ctx, r.desc.Table, id)
	if err != nil {
		return nil, fmt.Errorf("fetching %s/%s: %w", r.desc.Table, id, err)
	}
	return r.load(row)
}

// GetOne returns the first entity matching the query, ordered by
// entity_id so the answer is deterministic when several match. It fails
// with storage.ErrNotFound when nothing matches.
func (r *Repository[T]) GetOne(ctx context.Context, q Query) (*T, error) {
	q.Sort = []storage.SortKey{{Column: "entity_id"}}
	q.Limit = 1
	q.Offset = 0
	results, err := r.GetMany(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("fetching one from %s: %w", r.desc.Table, storage.ErrNotFound)
	}
	return results[0], nil
}

// GetMany returns all entities matching the query, up to its limit
// (DefaultLimit when unset).
func (r *Repository[T]) GetMany(ctx context.Context, q Query) ([]*T, error) {
	conditions := make(map[string]any, len(q.Conditions)+1)
	for k, v := range q.Conditions {
		conditions[k] = v
	}
	if r.desc.Versioned && !q.IncludeInactive {
		if _, set := conditions["active"]; !set {
			conditions["active"] = true
		}
	}

	sort := q.Sort
	if len(sort) == 0 {
		sort = []storage.SortKey{{Column: "entity_id"}}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := r.port.Query(ctx, r.desc.Table, storage.Filter{
		Conditions: conditions,
		Sort:       sort,
		Limit:      limit,
		Offset:     q.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", r.desc.Table, err)
	}

	results := make([]*T, 0, len(rows))
	items := make([]any, 0, len(rows))
	for _, row := range rows {
		v, err := r.load(row)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
		items = append(items, v)
	}

	if len(q.Fetch) > 0 && len(items) > 0 {
		if err := resolver.Resolve(ctx, r.port, items, q.Fetch, q.Strict); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Relate records a named relation from v to another entity. The target
// may be any declared entity type.
func (r *Repository[T]) Relate(ctx context.Context, relation string, v *T, to any) error {
	edge, err := r.edge(relation, v, to)
	if err != nil {
		return err
	}
	if err := r.port.Relate(ctx, edge); err != nil {
		return fmt.Errorf("relating %s/%s: %w", edge.FromTable, edge.FromID, err)
	}
	return nil
}

// Unrelate removes a relation previously recorded with Relate. Removing
// an absent relation is not an error.
func (r *Repository[T]) Unrelate(ctx context.Context, relation string, v *T, to any) error {
	edge, err := r.edge(relation, v, to)
	if err != nil {
		return err
	}
	if err := r.port.Unrelate(ctx, edge); err != nil {
		return fmt.Errorf("unrelating %s/%s: %w", edge.FromTable, edge.FromID, err)
	}
	return nil
}

func (r *Repository[T]) edge(relation string, v *T, to any) (storage.Edge, error) {
	toDesc, err := entity.DescriptorOf(reflect.TypeOf(to))
	if err != nil {
		return storage.Edge{}, err
	}
	return storage.Edge{
		Relation:  relation,
		FromTable: r.desc.Table,
		FromID:    entityID(r.desc, v),
		ToTable:   toDesc.Table,
		ToID:      entityID(toDesc, to),
	}, nil
}

func (r *Repository[T]) saveUnversioned(ctx context.Context, v *T, publish bool) error {
	bare := r.desc.Bare(v)
	if err := bare.PrepareForSave(r.opts.Actor); err != nil {
		return err
	}
	row, err := r.desc.Record(v, r.opts.SaveCalculatedFields)
	if err != nil {
		return err
	}
	ops, err := audit.Upsert(r.desc.Table, row)
	if err != nil {
		return err
	}
	if err := r.port.Apply(ctx, ops); err != nil {
		return fmt.Errorf("saving %s/%s: %w", r.desc.Table, bare.EntityID, err)
	}
	if publish {
		r.publish(ctx, notify.ChangeEvent{
			Table:    r.desc.Table,
			EntityID: bare.EntityID,
			Entity:   row,
		})
	}
	return nil
}

// validate runs the entity's own Validate when it declares one. Metadata
// checks happen separately after PrepareForSave.
func (r *Repository[T]) validate(v *T) error {
	if val, ok := any(v).(entity.Validator); ok {
		return val.Validate()
	}
	return nil
}

func (r *Repository[T]) load(row storage.Row) (*T, error) {
	v := r.desc.New().(*T)
	if err := r.desc.Load(row, v); err != nil {
		return nil, err
	}
	return v, nil
}

// publish emits a change event. Persistence already succeeded at this
// point, so a broker failure only warns.
func (r *Repository[T]) publish(ctx context.Context, ev notify.ChangeEvent) {
	topic := r.opts.Topic
	if topic == "" {
		topic = "strata." + r.desc.Table + ".changed"
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("encoding change event failed", "table", ev.Table, "entity_id", ev.EntityID, "error", err)
		return
	}
	if err := r.pub.Publish(ctx, topic, payload); err != nil {
		r.log.Warn("publishing change event failed", "topic", topic, "entity_id", ev.EntityID, "error", err)
	}
}

func entityID(desc *entity.Descriptor, v any) string {
	if desc.Versioned {
		return desc.Meta(v).EntityID
	}
	return desc.Bare(v).EntityID
}
