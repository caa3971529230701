package entity

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/cadencehq/strata/storage"
)

// Field describes one persisted or relational attribute of an entity type.
type Field struct {
	Name       string // Go field name
	Column     string // stored column / fetch-path segment
	Index      []int  // reflect field index path
	Calculated bool   // excluded from persisted payloads by default

	// Direct reference (Ref[T]) attributes.
	IsRef    bool
	RefTable string
	Target   reflect.Type

	// Associative relation (RefList[T]) attributes.
	IsAssoc   bool
	Relation  string
	Direction storage.Direction
}

// Descriptor is the reflected shape of an entity type: its table, variant,
// extra-bag opt-in, and field set. Descriptors are derived once per type and
// cached; they are immutable after construction.
type Descriptor struct {
	Type       reflect.Type
	Table      string
	Versioned  bool
	AllowExtra bool
	Fields     []Field

	byColumn  map[string]int
	metaIndex []int
}

var (
	descriptorCache sync.Map // reflect.Type -> *Descriptor

	metaType   = reflect.TypeOf(Meta{})
	bareType   = reflect.TypeOf(Bare{})
	refType    = reflect.TypeOf((*RefAccessor)(nil)).Elem()
	listType   = reflect.TypeOf((*ListAccessor)(nil)).Elem()
	tablerType = reflect.TypeOf((*Tabler)(nil)).Elem()
)

// Describe returns the descriptor for entity type T.
func Describe[T any]() (*Descriptor, error) {
	return DescriptorOf(reflect.TypeOf((*T)(nil)).Elem())
}

// DescriptorOf returns the descriptor for the given struct type, deriving
// and caching it on first use.
func DescriptorOf(t reflect.Type) (*Descriptor, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := descriptorCache.Load(t); ok {
		return cached.(*Descriptor), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity: %s is not a struct type", t)
	}

	d := &Descriptor{
		Type:     t,
		Table:    tableNameOf(t),
		byColumn: make(map[string]int),
	}
	if err := d.collect(t, nil); err != nil {
		return nil, err
	}
	if d.metaIndex == nil {
		return nil, fmt.Errorf("entity: %s embeds neither entity.Meta nor entity.Bare", t)
	}

	actual, _ := descriptorCache.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

// collect walks the struct fields at the given index prefix, registering
// persisted columns and reference declarations.
func (d *Descriptor) collect(t reflect.Type, prefix []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		index := append(append([]int(nil), prefix...), i)

		if sf.Anonymous && sf.Type == metaType {
			if d.metaIndex != nil {
				return fmt.Errorf("entity: %s embeds metadata more than once", d.Type)
			}
			d.metaIndex = index
			d.Versioned = true
			d.AllowExtra = sf.Tag.Get("strata") == "extra"
			if err := d.collect(sf.Type, index); err != nil {
				return err
			}
			continue
		}
		if sf.Anonymous && sf.Type == bareType {
			if d.metaIndex != nil {
				return fmt.Errorf("entity: %s embeds metadata more than once", d.Type)
			}
			d.metaIndex = index
			d.Versioned = false
			d.AllowExtra = sf.Tag.Get("strata") == "extra"
			if err := d.collect(sf.Type, index); err != nil {
				return err
			}
			continue
		}
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			if err := d.collect(sf.Type, index); err != nil {
				return err
			}
			continue
		}

		column, calculated, skip := parseDBTag(sf)
		if skip {
			continue
		}

		f := Field{
			Name:       sf.Name,
			Column:     column,
			Index:      index,
			Calculated: calculated,
		}

		switch {
		case reflect.PointerTo(sf.Type).Implements(refType):
			acc := reflect.New(sf.Type).Interface().(RefAccessor)
			f.IsRef = true
			f.Target = acc.TargetType()
			f.RefTable = sf.Tag.Get("ref")
			if f.RefTable == "" {
				f.RefTable = tableNameOf(f.Target)
			}
		case reflect.PointerTo(sf.Type).Implements(listType):
			acc := reflect.New(sf.Type).Interface().(ListAccessor)
			relation, dir, err := parseAssocTag(sf)
			if err != nil {
				return fmt.Errorf("entity: %s.%s: %w", d.Type, sf.Name, err)
			}
			f.IsAssoc = true
			f.Target = acc.ListTargetType()
			f.Relation = relation
			f.Direction = dir
		}

		if _, dup := d.byColumn[column]; dup {
			return fmt.Errorf("entity: %s has duplicate column %q", d.Type, column)
		}
		d.byColumn[column] = len(d.Fields)
		d.Fields = append(d.Fields, f)
	}
	return nil
}

// FieldByColumn returns the field declared for the given column name.
func (d *Descriptor) FieldByColumn(column string) (*Field, bool) {
	i, ok := d.byColumn[column]
	if !ok {
		return nil, false
	}
	return &d.Fields[i], true
}

// Columns returns the persisted column names in declaration order.
// Associative relation fields and calculated fields are excluded unless
// includeCalculated is set for the latter.
func (d *Descriptor) Columns(includeCalculated bool) []string {
	cols := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f.IsAssoc {
			continue
		}
		if f.Calculated && !includeCalculated {
			continue
		}
		cols = append(cols, f.Column)
	}
	return cols
}

// New returns a pointer to a fresh zero value of the entity type.
func (d *Descriptor) New() any {
	return reflect.New(d.Type).Interface()
}

// Meta returns the embedded Meta of a versioned entity value (a pointer to
// the descriptor's type). It panics when called on an unversioned
// descriptor; check Versioned first.
func (d *Descriptor) Meta(v any) *Meta {
	if !d.Versioned {
		panic("entity: Meta called on unversioned descriptor " + d.Type.String())
	}
	rv := reflect.ValueOf(v).Elem()
	return rv.FieldByIndex(d.metaIndex).Addr().Interface().(*Meta)
}

// Bare returns the embedded Bare of an unversioned entity value.
func (d *Descriptor) Bare(v any) *Bare {
	if d.Versioned {
		panic("entity: Bare called on versioned descriptor " + d.Type.String())
	}
	rv := reflect.ValueOf(v).Elem()
	return rv.FieldByIndex(d.metaIndex).Addr().Interface().(*Bare)
}

func parseDBTag(sf reflect.StructField) (column string, calculated, skip bool) {
	tag := sf.Tag.Get("db")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	column = parts[0]
	if column == "" {
		column = snakeCase(sf.Name)
	}
	for _, opt := range parts[1:] {
		if opt == "calculated" {
			calculated = true
		}
	}
	return column, calculated, false
}

func parseAssocTag(sf reflect.StructField) (string, storage.Direction, error) {
	tag := sf.Tag.Get("assoc")
	if tag == "" {
		return "", "", fmt.Errorf("relation list field requires an assoc tag")
	}
	parts := strings.Split(tag, ",")
	relation := parts[0]
	dir := storage.DirectionOut
	if len(parts) > 1 {
		switch parts[1] {
		case "out":
			dir = storage.DirectionOut
		case "in":
			dir = storage.DirectionIn
		default:
			return "", "", fmt.Errorf("invalid assoc direction %q", parts[1])
		}
	}
	if relation == "" {
		return "", "", fmt.Errorf("assoc tag is missing the relation name")
	}
	return relation, dir, nil
}

// tableNameOf derives the table for a type: TableName() when implemented,
// the snake_case type name otherwise.
func tableNameOf(t reflect.Type) string {
	if reflect.PointerTo(t).Implements(tablerType) {
		return reflect.New(t).Interface().(Tabler).TableName()
	}
	return snakeCase(t.Name())
}

func snakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
