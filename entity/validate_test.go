package entity

import (
	"errors"
	"testing"

	"github.com/cadencehq/strata/idgen"
)

func TestValidateMeta_Prepared(t *testing.T) {
	p := &Person{}
	if err := p.PrepareForSave("actor"); err != nil {
		t.Fatalf("PrepareForSave() error: %v", err)
	}
	if err := ValidateMeta(p.EntityMeta()); err != nil {
		t.Errorf("ValidateMeta() on prepared entity = %v, want nil", err)
	}
}

func TestValidateMeta_Failures(t *testing.T) {
	valid := idgen.MustNew()
	for _, tc := range []struct {
		name  string
		meta  Meta
		field string
	}{
		{"missing entity id", Meta{Version: valid, PreviousVersion: idgen.Sentinel}, "entity_id"},
		{"missing version", Meta{EntityID: valid, PreviousVersion: idgen.Sentinel}, "version"},
		{"sentinel version", Meta{EntityID: valid, Version: idgen.Sentinel, PreviousVersion: idgen.Sentinel}, "version"},
		{"malformed previous", Meta{EntityID: valid, Version: valid, PreviousVersion: "nope"}, "previous_version"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMeta(&tc.meta)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateMeta() = %v, want *ValidationError", err)
			}
			found := false
			for _, fe := range ve.Errors {
				if fe.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected a field error on %q, got %v", tc.field, ve.Errors)
			}
		})
	}
}

func TestValidateMeta_VersionMustAdvance(t *testing.T) {
	v := idgen.MustNew()
	m := Meta{EntityID: idgen.MustNew(), Version: v, PreviousVersion: v}
	err := ValidateMeta(&m)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("ValidateMeta() = %v, want *ValidationError", err)
	}
}
