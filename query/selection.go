package query

import (
	"fmt"

	language "github.com/hanpama/gqlbind/internal/language"
)

// Field is one entry of a selection tree.
//
// A selected scalar field has Selected set and a nil Sub. An object (or list
// of objects) field carries its nested selection in Sub, which is non-nil
// even when it holds no fields.
type Field struct {
	Name     string
	Selected bool
	Sub      Selection
}

// Selection is an ordered selection tree. A nil Selection selects nothing.
type Selection []Field

// Leaf selects a scalar field.
func Leaf(name string) Field { return Field{Name: name, Selected: true} }

// Skip marks a scalar field as not selected.
func Skip(name string) Field { return Field{Name: name} }

// Object selects a composite field together with its nested selection.
func Object(name string, fields ...Field) Field {
	sub := make(Selection, 0, len(fields))
	return Field{Name: name, Selected: true, Sub: append(sub, fields...)}
}

// Select builds a root selection.
func Select(fields ...Field) Selection {
	return append(make(Selection, 0, len(fields)), fields...)
}

// Keys returns the names of the selected fields at this level.
func (s Selection) Keys() []string {
	var keys []string
	for _, f := range s {
		if f.Selected {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// ParseSelection reads the compact selection syntax, e.g.
// "name posts { id hits }".
func ParseSelection(src string) (Selection, error) {
	set, err := language.ParseSelection(src)
	if err != nil {
		return nil, fmt.Errorf("parse selection: %w", err)
	}
	return fromSelectionSet(set), nil
}

func fromSelectionSet(set language.SelectionSet) Selection {
	out := make(Selection, 0, len(set))
	for _, sel := range set {
		f := sel.(*language.Field)
		if len(f.SelectionSet) == 0 {
			out = append(out, Leaf(f.Name))
			continue
		}
		out = append(out, Field{Name: f.Name, Selected: true, Sub: fromSelectionSet(f.SelectionSet)})
	}
	return out
}

// SelectAll returns a selection of every field of T. Recursive types are
// cut at the first repetition of a type along a path.
func SelectAll[T any]() (Selection, error) {
	shape, err := ShapeOf[T]()
	if err != nil {
		return nil, err
	}
	return selectAll(shape, map[*Shape]bool{}), nil
}

func selectAll(s *Shape, onPath map[*Shape]bool) Selection {
	s = s.Target()
	if s.Kind != KindObject || onPath[s] {
		return nil
	}
	onPath[s] = true
	defer delete(onPath, s)
	out := make(Selection, 0, len(s.Fields))
	for _, f := range s.Fields {
		t := f.Shape.Target()
		switch t.Kind {
		case KindObject:
			if onPath[t] {
				continue
			}
			sub := selectAll(t, onPath)
			if len(sub) == 0 {
				continue
			}
			out = append(out, Field{Name: f.Name, Selected: true, Sub: sub})
		default:
			out = append(out, Leaf(f.Name))
		}
	}
	return out
}
