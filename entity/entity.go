// Package entity defines the canonical attribute set and lifecycle rules for
// stored objects, in two variants: versioned (full audit trail, optimistic
// concurrency) and unversioned (plain upserts, physical deletes).
//
// Concrete entity types embed Meta or Bare and declare domain fields with
// `db` struct tags. Type descriptors and the struct/row codec are derived by
// reflection once per type; see descriptor.go and codec.go.
package entity

import (
	"time"

	"github.com/cadencehq/strata/idgen"
)

// Meta holds the standard versioned-entity attribute set: identity, revision
// chain, soft-delete flag, and audit stamp. Embed it in a struct to make
// that struct a versioned entity.
//
// Tag the embedded field with `strata:"extra"` to opt the type into the
// open attribute bag: undeclared columns are then carried in Extra and
// flattened into the serialized row. Types without the opt-in drop
// undeclared attributes silently.
type Meta struct {
	EntityID        string    `db:"entity_id" json:"entity_id"`
	Version         string    `db:"version" json:"version"`
	PreviousVersion string    `db:"previous_version" json:"previous_version"`
	Active          bool      `db:"active" json:"active"`
	ChangedByID     string    `db:"changed_by_id" json:"changed_by_id"`
	ChangedOn       time.Time `db:"changed_on" json:"changed_on"`

	// Extra carries caller-supplied attributes not declared in the entity's
	// schema. Only honored when the type opts in; see the type comment.
	Extra map[string]any `db:"-" json:"-"`
}

// EntityMeta returns the embedded metadata. It is the method that makes an
// embedding struct satisfy Versioned.
func (m *Meta) EntityMeta() *Meta { return m }

// PrepareForSave stamps the revision fields ahead of a write: a fresh
// version, previous_version chained to the last-known version (or the
// sentinel for a first revision), and the audit stamp. Identity is assigned
// here when absent and never changes afterwards. A first revision is also
// marked active; later revisions keep whatever the caller set.
func (m *Meta) PrepareForSave(actor string) error {
	if m.EntityID == "" {
		id, err := idgen.New()
		if err != nil {
			return err
		}
		m.EntityID = id
	}
	if m.Version == "" {
		m.PreviousVersion = idgen.Sentinel
		m.Active = true
	} else {
		m.PreviousVersion = m.Version
	}
	v, err := idgen.New()
	if err != nil {
		return err
	}
	m.Version = v
	m.ChangedOn = time.Now().UTC()
	if actor != "" {
		m.ChangedByID = actor
	}
	return nil
}

// IsNew reports whether the prepared revision is the first for its entity,
// i.e. its previous_version is the sentinel.
func (m *Meta) IsNew() bool {
	return m.PreviousVersion == "" || m.PreviousVersion == idgen.Sentinel
}

// Versioned is satisfied by any struct embedding Meta.
type Versioned interface {
	EntityMeta() *Meta
}

// Bare is the unversioned variant: identity and the optional extra bag
// only. No audit trail, no concurrency check; deletions are physical.
type Bare struct {
	EntityID string `db:"entity_id" json:"entity_id"`

	Extra map[string]any `db:"-" json:"-"`
}

// BareMeta returns the embedded metadata. It is the method that makes an
// embedding struct satisfy Unversioned.
func (b *Bare) BareMeta() *Bare { return b }

// PrepareForSave assigns identity when absent. There are no revision fields
// to stamp on an unversioned entity.
func (b *Bare) PrepareForSave(string) error {
	if b.EntityID == "" {
		id, err := idgen.New()
		if err != nil {
			return err
		}
		b.EntityID = id
	}
	return nil
}

// Unversioned is satisfied by any struct embedding Bare.
type Unversioned interface {
	BareMeta() *Bare
}

// Tabler overrides the derived table name for an entity type. Without it
// the table name is the snake_case form of the type name.
type Tabler interface {
	TableName() string
}
