package entity

import (
	"strings"

	"github.com/cadencehq/strata/idgen"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validator is implemented by entity types with domain field constraints.
// Repositories run it before any write.
type Validator interface {
	Validate() error
}

// ValidateMeta checks the prepared revision fields of a versioned entity.
// It returns a *ValidationError if any are malformed, or nil.
func ValidateMeta(m *Meta) error {
	var ve ValidationError

	if !idgen.Valid(m.EntityID) {
		ve.Errors = append(ve.Errors, FieldError{Field: "entity_id", Message: "is not a well-formed token"})
	}
	if !idgen.Valid(m.Version) || m.Version == idgen.Sentinel {
		ve.Errors = append(ve.Errors, FieldError{Field: "version", Message: "is not a well-formed token"})
	}
	if !idgen.Valid(m.PreviousVersion) {
		ve.Errors = append(ve.Errors, FieldError{Field: "previous_version", Message: "is not a well-formed token"})
	}
	if m.Version == m.PreviousVersion {
		ve.Errors = append(ve.Errors, FieldError{Field: "version", Message: "must differ from previous_version"})
	}
	if m.ChangedOn.IsZero() {
		ve.Errors = append(ve.Errors, FieldError{Field: "changed_on", Message: "is required"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
