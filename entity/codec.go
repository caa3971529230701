package entity

import (
	"fmt"
	"reflect"
	"time"

	"github.com/cadencehq/strata/storage"
)

var timeType = reflect.TypeOf(time.Time{})

// Record converts an entity value (a pointer to the descriptor's type) into
// a flat storage row. Calculated fields are excluded unless
// includeCalculated is set. Associative relation fields are never persisted.
//
// Field values that cannot be represented as a row value (channels, funcs,
// nested structs other than time.Time) are excluded rather than failing the
// whole serialization; that per-field exclusion is deliberate policy at this
// boundary.
//
// When the type opts into the extra bag, undeclared attributes are
// flattened into the row alongside declared columns. A declared column
// always wins over a colliding extra key.
func (d *Descriptor) Record(v any, includeCalculated bool) (storage.Row, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Type() != d.Type {
		return nil, fmt.Errorf("entity: Record wants *%s, got %T", d.Type, v)
	}
	rv = rv.Elem()

	row := make(storage.Row, len(d.Fields))

	if d.AllowExtra {
		for k, val := range d.extraBag(v) {
			if _, declared := d.byColumn[k]; declared {
				continue
			}
			row[k] = val
		}
	}

	for i := range d.Fields {
		f := &d.Fields[i]
		if f.IsAssoc {
			continue
		}
		if f.Calculated && !includeCalculated {
			continue
		}
		fv := rv.FieldByIndex(f.Index)
		if f.IsRef {
			acc := fv.Addr().Interface().(RefAccessor)
			if id := acc.RefID(); id != "" {
				row[f.Column] = id
			} else {
				row[f.Column] = nil
			}
			continue
		}
		val, ok := encodeValue(fv)
		if !ok {
			continue
		}
		row[f.Column] = val
	}
	return row, nil
}

// Load populates an entity value (a pointer to the descriptor's type) from
// a storage row. Columns not declared on the type go to the extra bag when
// the type opts in and are dropped silently otherwise. Reference columns
// load as identifier-only references.
func (d *Descriptor) Load(row storage.Row, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Type() != d.Type {
		return fmt.Errorf("entity: Load wants *%s, got %T", d.Type, v)
	}
	rv = rv.Elem()

	var extra map[string]any
	for column, val := range row {
		i, declared := d.byColumn[column]
		if !declared {
			if d.AllowExtra {
				if extra == nil {
					extra = make(map[string]any)
				}
				extra[column] = val
			}
			continue
		}
		f := &d.Fields[i]
		if f.IsAssoc {
			continue
		}
		fv := rv.FieldByIndex(f.Index)
		if f.IsRef {
			acc := fv.Addr().Interface().(RefAccessor)
			acc.SetRefID(stringValue(val))
			continue
		}
		if err := decodeValue(fv, val); err != nil {
			return fmt.Errorf("entity: column %q: %w", column, err)
		}
	}

	if d.AllowExtra && extra != nil {
		d.setExtraBag(v, extra)
	}
	return nil
}

func (d *Descriptor) extraBag(v any) map[string]any {
	if d.Versioned {
		return d.Meta(v).Extra
	}
	return d.Bare(v).Extra
}

func (d *Descriptor) setExtraBag(v any, extra map[string]any) {
	if d.Versioned {
		d.Meta(v).Extra = extra
	} else {
		d.Bare(v).Extra = extra
	}
}

// encodeValue flattens a struct field into a row value. The second return
// reports whether the value is representable at all.
func encodeValue(fv reflect.Value) (any, bool) {
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil, true
		}
		fv = fv.Elem()
	}
	if fv.Type() == timeType {
		return fv.Interface().(time.Time), true
	}
	switch fv.Kind() {
	case reflect.String:
		return fv.String(), true
	case reflect.Bool:
		return fv.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(fv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return fv.Float(), true
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			return fv.Bytes(), true
		}
		return nil, false
	default:
		return nil, false
	}
}

// decodeValue sets a struct field from a row value, coercing the loose
// types different backends hand back (JSON numbers as float64, timestamps
// as strings).
func decodeValue(fv reflect.Value, val any) error {
	if val == nil {
		fv.SetZero()
		return nil
	}
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}
	if fv.Type() == timeType {
		t, err := timeValue(val)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(t))
		return nil
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(stringValue(val))
	case reflect.Bool:
		b, err := boolValue(val)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := intValue(val)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := intValue(val)
		if err != nil {
			return err
		}
		fv.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, err := floatValue(val)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			if b, ok := val.([]byte); ok {
				fv.SetBytes(b)
				return nil
			}
			fv.SetBytes([]byte(stringValue(val)))
			return nil
		}
		return fmt.Errorf("cannot decode %T into %s", val, fv.Type())
	default:
		return fmt.Errorf("cannot decode %T into %s", val, fv.Type())
	}
	return nil
}

func stringValue(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func boolValue(val any) (bool, error) {
	switch v := val.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		return v == "true" || v == "1" || v == "t", nil
	default:
		return false, fmt.Errorf("cannot decode %T into bool", val)
	}
}

func intValue(val any) (int64, error) {
	switch v := val.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("cannot decode %T into integer", val)
	}
}

func floatValue(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("cannot decode %T into float", val)
	}
}

// timeLayouts are the timestamp shapes adapters are known to hand back.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func timeValue(val any) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
	default:
		return time.Time{}, fmt.Errorf("cannot decode %T into time.Time", val)
	}
}
