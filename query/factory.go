package query

import (
	"reflect"

	language "github.com/hanpama/gqlbind/internal/language"
)

// NoVariables is the variables type of operations that take no variables.
type NoVariables struct{}

var noVariablesType = reflect.TypeFor[NoVariables]()

// Descriptor is an assembled operation. R, V and E are the result,
// variables and error types the operation is bound with; they carry no
// value. A Descriptor is immutable and safe to share.
type Descriptor[R, V, E any] struct {
	op       Operation
	name     string
	document string
	sel      Selection
	full     *Shape
}

// Name is the root field name. The result is read from data.<Name>.
func (d Descriptor[R, V, E]) Name() string { return d.name }

// Document is the GraphQL document sent to the server.
func (d Descriptor[R, V, E]) Document() string { return d.document }

func (d Descriptor[R, V, E]) Operation() Operation { return d.op }

// Selection returns the selection the document was built from.
func (d Descriptor[R, V, E]) Selection() Selection { return d.sel }

// Factory builds descriptors for one full result type T, error type E and
// variables type V. Use NoVariables for V when the operation has none.
// A Factory holds no mutable state.
type Factory[T, E, V any] struct {
	full    *Shape
	fullErr error
	noVars  bool
	vars    *Shape
	varsErr error
}

func New[T, E, V any]() *Factory[T, E, V] {
	f := &Factory[T, E, V]{}
	f.full, f.fullErr = ShapeOf[T]()
	if vt := reflect.TypeFor[V](); vt == noVariablesType {
		f.noVars = true
	} else {
		f.vars, f.varsErr = shapeOf(vt)
	}
	return f
}

// Query builds a query descriptor selecting sel from the root field name.
func (f *Factory[T, E, V]) Query(name string, sel Selection, vars ...Variable) (Descriptor[T, V, E], error) {
	return f.build(OpQuery, name, sel, vars)
}

// Mutation builds a mutation descriptor selecting sel from the root field name.
func (f *Factory[T, E, V]) Mutation(name string, sel Selection, vars ...Variable) (Descriptor[T, V, E], error) {
	return f.build(OpMutation, name, sel, vars)
}

// MustQuery is like Query but panics on a contract violation.
func (f *Factory[T, E, V]) MustQuery(name string, sel Selection, vars ...Variable) Descriptor[T, V, E] {
	d, err := f.Query(name, sel, vars...)
	if err != nil {
		panic(err)
	}
	return d
}

// MustMutation is like Mutation but panics on a contract violation.
func (f *Factory[T, E, V]) MustMutation(name string, sel Selection, vars ...Variable) Descriptor[T, V, E] {
	d, err := f.Mutation(name, sel, vars...)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *Factory[T, E, V]) build(op Operation, name string, sel Selection, vars Variables) (Descriptor[T, V, E], error) {
	var zero Descriptor[T, V, E]
	if f.fullErr != nil {
		return zero, f.fullErr
	}
	if err := f.full.Validate(sel); err != nil {
		return zero, err
	}
	if err := f.checkVariables(vars); err != nil {
		return zero, err
	}
	doc := Assemble(op, name, sel, vars)
	if err := language.CheckDocument(doc); err != nil {
		return zero, contractErr(string(op), []string{name}, ErrInvalidDocument, err.Error())
	}
	return Descriptor[T, V, E]{op: op, name: name, document: doc, sel: sel, full: f.full}, nil
}

// checkVariables requires the declared variable names to equal the JSON
// keys of V exactly.
func (f *Factory[T, E, V]) checkVariables(vars Variables) error {
	if f.noVars {
		if len(vars) > 0 {
			return contractErr("variables", nil, ErrUnexpectedVariables, "")
		}
		return nil
	}
	if f.varsErr != nil {
		return f.varsErr
	}
	want := f.vars
	switch want.Kind {
	case KindOpen, KindObject:
	default:
		return contractErr("variables", nil, ErrVariableMismatch, "variables type must be a struct or a map")
	}
	if len(vars) == 0 && !(want.Kind == KindObject && len(want.Fields) == 0) {
		return contractErr("variables", nil, ErrMissingVariables, "")
	}
	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		if v.Name == "" || v.Type == "" {
			return contractErr("variables", []string{v.Name}, ErrVariableMismatch, "empty name or type")
		}
		if seen[v.Name] {
			return contractErr("variables", []string{v.Name}, ErrVariableMismatch, "declared twice")
		}
		seen[v.Name] = true
		if want.Kind == KindObject {
			if _, ok := want.Field(v.Name); !ok {
				return contractErr("variables", []string{v.Name}, ErrVariableMismatch, "not a field of the variables type")
			}
		}
	}
	if want.Kind == KindObject {
		for _, k := range want.Keys() {
			if !seen[k] {
				return contractErr("variables", []string{k}, ErrVariableMismatch, "type not declared")
			}
		}
	}
	return nil
}

// As narrows d to the result type R after checking that R has exactly the
// structure the selection produces from the full result type.
func As[R, T, V, E any](d Descriptor[T, V, E]) (Descriptor[R, V, E], error) {
	var zero Descriptor[R, V, E]
	if d.full == nil {
		return zero, contractErr("as", nil, ErrShapeMismatch, "descriptor was not built by a Factory")
	}
	got, err := ShapeOf[R]()
	if err != nil {
		return zero, err
	}
	if err := conform(got, d.full.Reduce(d.sel), []string{d.name}); err != nil {
		return zero, err
	}
	return Descriptor[R, V, E]{op: d.op, name: d.name, document: d.document, sel: d.sel, full: d.full}, nil
}

// MustAs is like As but panics on a mismatch.
func MustAs[R, T, V, E any](d Descriptor[T, V, E]) Descriptor[R, V, E] {
	out, err := As[R](d)
	if err != nil {
		panic(err)
	}
	return out
}
