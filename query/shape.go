package query

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
)

type Kind int

const (
	KindScalar Kind = iota
	KindList
	KindObject
	// KindOpen is a map or interface value whose keys are not known
	// statically. Any selection is accepted for it.
	KindOpen
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	case KindOpen:
		return "open"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Shape is the JSON structure of a result type: what the type reducer
// works on. Shapes derived from Go types are shared and must not be
// mutated.
type Shape struct {
	Kind Kind
	// Type is the Go type of a scalar with pointers removed.
	Type   reflect.Type
	Elem   *Shape
	Fields []ShapeField
}

type ShapeField struct {
	Name  string
	Shape *Shape
}

// Field returns the shape of the named field of an object shape.
func (s *Shape) Field(name string) (*Shape, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return s.Fields[i].Shape, true
		}
	}
	return nil, false
}

// Keys returns the field names of an object shape in declaration order.
func (s *Shape) Keys() []string {
	out := make([]string, len(s.Fields))
	for i := range s.Fields {
		out[i] = s.Fields[i].Name
	}
	return out
}

// Target strips list wrappers.
func (s *Shape) Target() *Shape {
	for s.Kind == KindList {
		s = s.Elem
	}
	return s
}

func (s *Shape) String() string {
	var b strings.Builder
	s.write(&b, map[*Shape]bool{})
	return b.String()
}

func (s *Shape) write(b *strings.Builder, seen map[*Shape]bool) {
	switch s.Kind {
	case KindScalar:
		b.WriteString(s.Type.String())
	case KindOpen:
		b.WriteString("any")
	case KindList:
		b.WriteByte('[')
		s.Elem.write(b, seen)
		b.WriteByte(']')
	case KindObject:
		if seen[s] {
			b.WriteString("{...}")
			return
		}
		seen[s] = true
		defer delete(seen, s)
		b.WriteByte('{')
		for i, f := range s.Fields {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			f.Shape.write(b, seen)
		}
		b.WriteByte('}')
	}
}

var (
	jsonUnmarshaler = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

	shapeCache sync.Map // reflect.Type -> *Shape
)

// ShapeOf derives the JSON shape of T.
func ShapeOf[T any]() (*Shape, error) {
	return shapeOf(reflect.TypeFor[T]())
}

func shapeOf(t reflect.Type) (*Shape, error) {
	if v, ok := shapeCache.Load(t); ok {
		return v.(*Shape), nil
	}
	s, err := (&shaper{building: map[reflect.Type]*Shape{}}).shape(t, nil)
	if err != nil {
		return nil, err
	}
	v, _ := shapeCache.LoadOrStore(t, s)
	return v.(*Shape), nil
}

type shaper struct {
	building map[reflect.Type]*Shape
}

func (sh *shaper) shape(t reflect.Type, path []string) (*Shape, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if isScalar(t) {
		return &Shape{Kind: KindScalar, Type: t}, nil
	}
	switch t.Kind() {
	case reflect.Interface:
		return &Shape{Kind: KindOpen}, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, contractErr("shape", path, ErrUnsupportedType, t.String())
		}
		return &Shape{Kind: KindOpen}, nil
	case reflect.Slice, reflect.Array:
		elem, err := sh.shape(t.Elem(), path)
		if err != nil {
			return nil, err
		}
		return &Shape{Kind: KindList, Elem: elem}, nil
	case reflect.Struct:
		if s, ok := sh.building[t]; ok {
			return s, nil
		}
		s := &Shape{Kind: KindObject}
		sh.building[t] = s
		if err := sh.fields(s, t, path); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, contractErr("shape", path, ErrUnsupportedType, t.String())
}

func (sh *shaper) fields(s *Shape, t reflect.Type, path []string) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, skip := jsonName(f)
		if skip {
			continue
		}
		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if f.Anonymous && name == "" && ft.Kind() == reflect.Struct && !isScalar(ft) {
			if err := sh.fields(s, ft, path); err != nil {
				return err
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = strcase.ToLowerCamel(f.Name)
		}
		fs, err := sh.shape(f.Type, append(path, name))
		if err != nil {
			return err
		}
		if _, dup := s.Field(name); dup {
			return contractErr("shape", append(path, name), ErrDuplicateField, t.String())
		}
		s.Fields = append(s.Fields, ShapeField{Name: name, Shape: fs})
	}
	return nil
}

// jsonName reads the name part of a json struct tag.
func jsonName(f reflect.StructField) (name string, skip bool) {
	tag, ok := f.Tag.Lookup("json")
	if !ok {
		return "", false
	}
	if tag == "-" {
		return "", true
	}
	name, _, _ = strings.Cut(tag, ",")
	return name, false
}

func isScalar(t reflect.Type) bool {
	if t.Implements(jsonUnmarshaler) || reflect.PointerTo(t).Implements(jsonUnmarshaler) {
		return true
	}
	if t.Implements(textUnmarshaler) || reflect.PointerTo(t).Implements(textUnmarshaler) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

// Validate checks sel against s: every named field must exist, scalar
// fields take a flag only and object fields a non-empty sub-selection.
func (s *Shape) Validate(sel Selection) error {
	return s.validate(sel, nil)
}

func (s *Shape) validate(sel Selection, path []string) error {
	t := s.Target()
	switch t.Kind {
	case KindOpen:
		return nil
	case KindScalar:
		if len(sel) > 0 {
			return contractErr("select", path, ErrLeafWithSelection, t.Type.String())
		}
		return nil
	}
	seen := make(map[string]bool, len(sel))
	for _, f := range sel {
		p := append(path, f.Name)
		if seen[f.Name] {
			return contractErr("select", p, ErrDuplicateField, "")
		}
		seen[f.Name] = true
		fs, ok := t.Field(f.Name)
		if !ok {
			return contractErr("select", p, ErrUnknownField, "")
		}
		ft := fs.Target()
		switch ft.Kind {
		case KindOpen:
			continue
		case KindScalar:
			if f.Sub != nil {
				return contractErr("select", p, ErrLeafWithSelection, ft.Type.String())
			}
		case KindObject:
			if f.Sub == nil {
				return contractErr("select", p, ErrCompositeWithoutSelection, "")
			}
			if f.Selected && len(f.Sub) == 0 {
				return contractErr("select", p, ErrEmptySelection, "")
			}
			if err := ft.validate(f.Sub, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reduce returns the shape of s narrowed to sel: objects keep exactly the
// selected fields, lists keep their nesting and scalars are unchanged. A nil
// selection reduces an object to an empty object.
func (s *Shape) Reduce(sel Selection) *Shape {
	switch s.Kind {
	case KindList:
		return &Shape{Kind: KindList, Elem: s.Elem.Reduce(sel)}
	case KindObject:
		out := &Shape{Kind: KindObject, Fields: []ShapeField{}}
		for _, f := range sel {
			if !f.Selected {
				continue
			}
			fs, ok := s.Field(f.Name)
			if !ok {
				continue
			}
			if fs.Target().Kind == KindObject && len(f.Sub) == 0 {
				continue
			}
			out.Fields = append(out.Fields, ShapeField{Name: f.Name, Shape: fs.Reduce(f.Sub)})
		}
		return out
	}
	return s
}

// conform checks that got has the structure of want.
func conform(got, want *Shape, path []string) error {
	if got.Kind == KindOpen || want.Kind == KindOpen {
		return nil
	}
	if got.Kind != want.Kind {
		return contractErr("as", path, ErrShapeMismatch, fmt.Sprintf("got %s, want %s", got, want))
	}
	switch want.Kind {
	case KindScalar:
		if got.Type != want.Type {
			return contractErr("as", path, ErrShapeMismatch, fmt.Sprintf("got %s, want %s", got.Type, want.Type))
		}
	case KindList:
		return conform(got.Elem, want.Elem, path)
	case KindObject:
		for _, wf := range want.Fields {
			gf, ok := got.Field(wf.Name)
			if !ok {
				return contractErr("as", append(path, wf.Name), ErrShapeMismatch, "missing field")
			}
			if err := conform(gf, wf.Shape, append(path, wf.Name)); err != nil {
				return err
			}
		}
		for _, gf := range got.Fields {
			if _, ok := want.Field(gf.Name); !ok {
				return contractErr("as", append(path, gf.Name), ErrShapeMismatch, "field is not selected")
			}
		}
	}
	return nil
}
