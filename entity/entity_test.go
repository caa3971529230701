package entity

import (
	"reflect"
	"testing"

	"github.com/cadencehq/strata/idgen"
	"github.com/cadencehq/strata/storage"
)

// Test fixtures shared across the package tests.

type Organization struct {
	Meta `strata:"extra"`

	Name string `db:"name"`
}

type Person struct {
	Meta

	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Age       int    `db:"age"`
	Score     float64
	Secret    string `db:"-"`
	FullName  string `db:"full_name,calculated"`

	Organization  Ref[Organization]     `db:"organization_id"`
	Organizations RefList[Organization] `db:"organizations" assoc:"member_of,out"`
}

type Session struct {
	Bare `strata:"extra"`

	Token string `db:"token"`
}

func TestDescriptorOf_Versioned(t *testing.T) {
	d, err := Describe[Person]()
	if err != nil {
		t.Fatalf("Describe[Person]() error: %v", err)
	}
	if d.Table != "person" {
		t.Errorf("table = %q, want %q", d.Table, "person")
	}
	if !d.Versioned {
		t.Error("Person should be versioned")
	}
	if d.AllowExtra {
		t.Error("Person should not allow extra attributes")
	}

	// The Big Six come from the embedded Meta.
	for _, col := range []string{"entity_id", "version", "previous_version", "active", "changed_by_id", "changed_on"} {
		if _, ok := d.FieldByColumn(col); !ok {
			t.Errorf("missing metadata column %q", col)
		}
	}

	// Untagged exported fields get a derived column.
	if _, ok := d.FieldByColumn("score"); !ok {
		t.Error("missing derived column for untagged field Score")
	}
	// db:"-" fields are skipped.
	if _, ok := d.FieldByColumn("secret"); ok {
		t.Error("db:\"-\" field should be skipped")
	}

	f, ok := d.FieldByColumn("organization_id")
	if !ok {
		t.Fatal("missing reference column organization_id")
	}
	if !f.IsRef || f.RefTable != "organization" {
		t.Errorf("organization_id ref = (%v, %q), want (true, organization)", f.IsRef, f.RefTable)
	}

	f, ok = d.FieldByColumn("organizations")
	if !ok {
		t.Fatal("missing relation column organizations")
	}
	if !f.IsAssoc || f.Relation != "member_of" || f.Direction != storage.DirectionOut {
		t.Errorf("organizations assoc = (%v, %q, %q), want (true, member_of, out)", f.IsAssoc, f.Relation, f.Direction)
	}

	f, _ = d.FieldByColumn("full_name")
	if !f.Calculated {
		t.Error("full_name should be calculated")
	}
}

func TestDescriptorOf_Unversioned(t *testing.T) {
	d, err := Describe[Session]()
	if err != nil {
		t.Fatalf("Describe[Session]() error: %v", err)
	}
	if d.Versioned {
		t.Error("Session should be unversioned")
	}
	if !d.AllowExtra {
		t.Error("Session should allow extra attributes")
	}
	if _, ok := d.FieldByColumn("version"); ok {
		t.Error("unversioned type should not have a version column")
	}
}

func TestDescriptorOf_RejectsPlainStruct(t *testing.T) {
	type NotAnEntity struct {
		Name string `db:"name"`
	}
	if _, err := DescriptorOf(reflect.TypeOf(NotAnEntity{})); err == nil {
		t.Error("expected error for struct without embedded metadata")
	}
}

func TestColumns_ExcludesCalculatedAndAssoc(t *testing.T) {
	d, err := Describe[Person]()
	if err != nil {
		t.Fatalf("Describe[Person]() error: %v", err)
	}
	for _, col := range d.Columns(false) {
		if col == "full_name" {
			t.Error("Columns(false) should exclude calculated fields")
		}
		if col == "organizations" {
			t.Error("Columns should exclude associative relation fields")
		}
	}
	found := false
	for _, col := range d.Columns(true) {
		if col == "full_name" {
			found = true
		}
	}
	if !found {
		t.Error("Columns(true) should include calculated fields")
	}
}

func TestSnakeCase(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  string
	}{
		{"Person", "person"},
		{"PersonOrganizationRole", "person_organization_role"},
		{"OTPMethod", "otp_method"},
		{"LoginMethod", "login_method"},
		{"ID", "id"},
	} {
		if got := snakeCase(tc.input); got != tc.want {
			t.Errorf("snakeCase(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestPrepareForSave_FirstRevision(t *testing.T) {
	p := &Person{FirstName: "Ada"}
	if err := p.PrepareForSave("actor-1"); err != nil {
		t.Fatalf("PrepareForSave() error: %v", err)
	}
	if !idgen.Valid(p.EntityID) {
		t.Errorf("entity id %q not assigned", p.EntityID)
	}
	if p.PreviousVersion != idgen.Sentinel {
		t.Errorf("previous_version = %q, want sentinel", p.PreviousVersion)
	}
	if !idgen.Valid(p.Version) {
		t.Errorf("version %q not assigned", p.Version)
	}
	if p.ChangedByID != "actor-1" {
		t.Errorf("changed_by_id = %q, want actor-1", p.ChangedByID)
	}
	if p.ChangedOn.IsZero() {
		t.Error("changed_on not stamped")
	}
	if !p.IsNew() {
		t.Error("first revision should report IsNew")
	}
}

func TestPrepareForSave_ChainsVersions(t *testing.T) {
	p := &Person{}
	if err := p.PrepareForSave(""); err != nil {
		t.Fatalf("PrepareForSave() error: %v", err)
	}
	id, v1 := p.EntityID, p.Version

	if err := p.PrepareForSave(""); err != nil {
		t.Fatalf("PrepareForSave() error: %v", err)
	}
	if p.EntityID != id {
		t.Errorf("entity id changed across saves: %q -> %q", id, p.EntityID)
	}
	if p.PreviousVersion != v1 {
		t.Errorf("previous_version = %q, want %q", p.PreviousVersion, v1)
	}
	if p.Version == v1 {
		t.Error("version was not regenerated")
	}
	if p.IsNew() {
		t.Error("second revision should not report IsNew")
	}
}
