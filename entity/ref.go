package entity

import (
	"encoding/json"
	"errors"
	"reflect"
)

// Reference-field errors.
var (
	// ErrNotResolved is returned when a reference's resolved form is
	// accessed without resolution having been requested.
	ErrNotResolved = errors.New("entity: reference not resolved; request it via fetch paths")

	// ErrRefMissing is returned when resolution was performed but the
	// referenced record does not exist.
	ErrRefMissing = errors.New("entity: referenced entity does not exist")
)

type refState uint8

const (
	refEmpty refState = iota
	refID
	refResolved
	refMissing
)

// Ref is a direct reference to another entity. It is a tagged value: either
// "identifier only" or "resolved object", never inferred from runtime type.
// The zero Ref is empty.
//
// Declare it with a `db` tag for the stored column, e.g.
//
//	Organization entity.Ref[Organization] `db:"organization_id"`
//
// The target table is derived from T; add a `ref:"table"` tag to override.
type Ref[T any] struct {
	id    string
	obj   *T
	state refState
}

// NewRef returns an identifier-only reference to id.
func NewRef[T any](id string) Ref[T] {
	if id == "" {
		return Ref[T]{}
	}
	return Ref[T]{id: id, state: refID}
}

// ID returns the referenced entity id, or "" for an empty reference.
func (r Ref[T]) ID() string { return r.id }

// IsZero reports whether the reference is empty.
func (r Ref[T]) IsZero() bool { return r.state == refEmpty }

// IsResolved reports whether the resolved object is available.
func (r Ref[T]) IsResolved() bool { return r.state == refResolved }

// IsMissing reports whether resolution ran and found no target.
func (r Ref[T]) IsMissing() bool { return r.state == refMissing }

// Resolved returns the referenced object. It fails with ErrNotResolved when
// resolution was never requested and with ErrRefMissing when resolution ran
// but the target does not exist.
func (r Ref[T]) Resolved() (*T, error) {
	switch r.state {
	case refResolved:
		return r.obj, nil
	case refMissing:
		return nil, ErrRefMissing
	default:
		return nil, ErrNotResolved
	}
}

// MarshalJSON serializes the reference as its bare identifier.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	if r.state == refEmpty {
		return []byte("null"), nil
	}
	return json.Marshal(r.id)
}

// UnmarshalJSON restores an identifier-only reference.
func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	var id *string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if id == nil {
		*r = Ref[T]{}
	} else {
		*r = NewRef[T](*id)
	}
	return nil
}

// RefAccessor is the non-generic handle the codec and resolver use to read
// and populate Ref fields. Application code has no reason to use it.
type RefAccessor interface {
	RefID() string
	SetRefID(id string)
	Resolve(target any)
	MarkMissing()
	TargetType() reflect.Type
}

func (r *Ref[T]) RefID() string { return r.id }

func (r *Ref[T]) SetRefID(id string) { *r = NewRef[T](id) }

func (r *Ref[T]) Resolve(target any) {
	obj := target.(*T)
	r.obj = obj
	r.state = refResolved
}

func (r *Ref[T]) MarkMissing() {
	r.obj = nil
	r.state = refMissing
}

func (r *Ref[T]) TargetType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// RefList is a many-to-many reference traversed through a named associative
// relation. Declare it with an `assoc:"relation,direction"` tag, e.g.
//
//	Organizations entity.RefList[Organization] `db:"organizations" assoc:"member_of,out"`
//
// The list is only populated when resolution is requested; accessing an
// unfetched list fails with ErrNotResolved.
type RefList[T any] struct {
	items   []*T
	fetched bool
}

// Items returns the fetched related entities, or ErrNotResolved when the
// relation was not part of the requested fetch paths.
func (l RefList[T]) Items() ([]*T, error) {
	if !l.fetched {
		return nil, ErrNotResolved
	}
	return l.items, nil
}

// IsResolved reports whether the relation has been fetched.
func (l RefList[T]) IsResolved() bool { return l.fetched }

// ListAccessor is the non-generic handle the resolver uses to populate
// RefList fields.
type ListAccessor interface {
	SetResolvedList(items []any)
	ListTargetType() reflect.Type
}

func (l *RefList[T]) SetResolvedList(items []any) {
	out := make([]*T, 0, len(items))
	for _, it := range items {
		out = append(out, it.(*T))
	}
	l.items = out
	l.fetched = true
}

func (l *RefList[T]) ListTargetType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
