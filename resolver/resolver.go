// Package resolver materializes declared references between entities.
//
// Callers request reference paths ("org", "org.parent", "roles") on a set
// of loaded entities; the resolver walks the paths breadth-first, one
// segment at a time, batching all fetches for a segment through a
// dataloader so resolving a page of parents costs one backend read per
// referenced table. Later segments are resolved only once the earlier
// segment's objects are materialized, and traversal never extends beyond
// the requested paths, so cyclic reference graphs are safe.
package resolver

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/cadencehq/strata/entity"
	"github.com/cadencehq/strata/storage"
)

// Resolve expands the given reference paths on items, which must all be
// pointers to the same entity type. Resolved objects are attached in place
// of the raw identifiers.
//
// In lenient mode (strict=false) a reference to a non-existent target is
// marked missing and resolution continues. In strict mode it fails with an
// error wrapping storage.ErrNotFound.
func Resolve(ctx context.Context, port storage.Port, items []any, paths []string, strict bool) error {
	if len(items) == 0 || len(paths) == 0 {
		return nil
	}
	s := &session{
		port:    port,
		strict:  strict,
		loaders: make(map[string]*dataloader.Loader),
	}
	return s.resolve(ctx, items, paths)
}

// session holds the per-call dataloaders. Loaders cache by key, so a
// session must not outlive the resolution it was created for.
type session struct {
	port   storage.Port
	strict bool

	mu      sync.Mutex
	loaders map[string]*dataloader.Loader
}

func (s *session) resolve(ctx context.Context, items []any, paths []string) error {
	desc, err := entity.DescriptorOf(reflect.TypeOf(items[0]))
	if err != nil {
		return err
	}

	// Group paths by their first segment; the remainder of each path is
	// resolved recursively on that segment's children.
	segments := make([]string, 0, len(paths))
	suffixes := make(map[string][]string)
	for _, path := range paths {
		head, rest, nested := strings.Cut(path, ".")
		if _, seen := suffixes[head]; !seen {
			segments = append(segments, head)
			suffixes[head] = nil
		}
		if nested {
			suffixes[head] = append(suffixes[head], rest)
		}
	}

	for _, segment := range segments {
		f, ok := desc.FieldByColumn(segment)
		if !ok || (!f.IsRef && !f.IsAssoc) {
			return fmt.Errorf("resolver: %s declares no reference %q", desc.Table, segment)
		}

		var children []any
		if f.IsRef {
			children, err = s.resolveRef(ctx, f, items)
		} else {
			children, err = s.resolveAssoc(ctx, desc, f, items)
		}
		if err != nil {
			return err
		}

		if rest := suffixes[segment]; len(rest) > 0 && len(children) > 0 {
			if err := s.resolve(ctx, children, rest); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveRef materializes a direct reference field across all parents.
func (s *session) resolveRef(ctx context.Context, f *entity.Field, items []any) ([]any, error) {
	targetDesc, err := entity.DescriptorOf(f.Target)
	if err != nil {
		return nil, err
	}
	loader := s.loaderFor(f.RefTable)

	type pending struct {
		acc   entity.RefAccessor
		id    string
		thunk dataloader.Thunk
	}
	var work []pending
	for _, item := range items {
		fv := reflect.ValueOf(item).Elem().FieldByIndex(f.Index)
		acc := fv.Addr().Interface().(entity.RefAccessor)
		id := acc.RefID()
		if id == "" {
			continue
		}
		work = append(work, pending{
			acc:   acc,
			id:    id,
			thunk: loader.Load(ctx, dataloader.StringKey(id)),
		})
	}

	var children []any
	for _, w := range work {
		data, err := w.thunk()
		if err != nil {
			return nil, fmt.Errorf("resolver: fetching %s/%s: %w", f.RefTable, w.id, err)
		}
		if data == nil {
			if s.strict {
				return nil, fmt.Errorf("resolver: %s/%s: %w", f.RefTable, w.id, storage.ErrNotFound)
			}
			w.acc.MarkMissing()
			continue
		}
		obj := targetDesc.New()
		if err := targetDesc.Load(data.(storage.Row), obj); err != nil {
			return nil, err
		}
		w.acc.Resolve(obj)
		children = append(children, obj)
	}
	return children, nil
}

// resolveAssoc traverses an associative relation and attaches all related
// entities to each parent's list field.
func (s *session) resolveAssoc(ctx context.Context, desc *entity.Descriptor, f *entity.Field, items []any) ([]any, error) {
	targetDesc, err := entity.DescriptorOf(f.Target)
	if err != nil {
		return nil, err
	}
	targetTable := targetDesc.Table
	loader := s.loaderFor(targetTable)

	var children []any
	for _, item := range items {
		parentID := entityID(desc, item)
		ids, err := s.port.RelatedIDs(ctx, f.Relation, desc.Table, parentID, f.Direction)
		if err != nil {
			return nil, fmt.Errorf("resolver: traversing %s from %s/%s: %w", f.Relation, desc.Table, parentID, err)
		}

		thunks := make([]dataloader.Thunk, len(ids))
		for i, id := range ids {
			thunks[i] = loader.Load(ctx, dataloader.StringKey(id))
		}

		related := make([]any, 0, len(ids))
		for i, thunk := range thunks {
			data, err := thunk()
			if err != nil {
				return nil, fmt.Errorf("resolver: fetching %s/%s: %w", targetTable, ids[i], err)
			}
			if data == nil {
				// A dangling edge; strict callers want to know.
				if s.strict {
					return nil, fmt.Errorf("resolver: %s/%s: %w", targetTable, ids[i], storage.ErrNotFound)
				}
				continue
			}
			obj := targetDesc.New()
			if err := targetDesc.Load(data.(storage.Row), obj); err != nil {
				return nil, err
			}
			related = append(related, obj)
		}

		fv := reflect.ValueOf(item).Elem().FieldByIndex(f.Index)
		fv.Addr().Interface().(entity.ListAccessor).SetResolvedList(related)
		children = append(children, related...)
	}
	return children, nil
}

// loaderFor returns the session's batched loader for a table, creating it
// on first use. The batch function answers each key with its row, or nil
// when the key does not exist.
func (s *session) loaderFor(table string) *dataloader.Loader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loaders[table]; ok {
		return l
	}

	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := keys.Keys()
		results := make([]*dataloader.Result, len(ids))

		rows, err := s.port.BatchGet(ctx, table, ids)
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		byID := make(map[string]storage.Row, len(rows))
		for _, row := range rows {
			if id, ok := row["entity_id"].(string); ok {
				byID[id] = row
			}
		}
		for i, id := range ids {
			if row, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: row}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	l := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(2*time.Millisecond))
	s.loaders[table] = l
	return l
}

func entityID(desc *entity.Descriptor, item any) string {
	if desc.Versioned {
		return desc.Meta(item).EntityID
	}
	return desc.Bare(item).EntityID
}
