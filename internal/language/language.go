package language

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CheckDocument parses source and requires exactly one operation with
// exactly one root field. It does not look at any schema.
func CheckDocument(source string) error {
	doc, err := ParseQuery(source)
	if err != nil {
		return err
	}
	if len(doc.Operations) != 1 {
		return fmt.Errorf("expected one operation, got %d", len(doc.Operations))
	}
	if n := len(doc.Operations[0].SelectionSet); n != 1 {
		return fmt.Errorf("expected one root field, got %d", n)
	}
	return nil
}

// RootField returns the operation type and the first root field of the
// first operation in doc.
func RootField(doc *QueryDocument) (Operation, *Field, bool) {
	if doc == nil || len(doc.Operations) == 0 {
		return "", nil, false
	}
	op := doc.Operations[0]
	for _, sel := range op.SelectionSet {
		if f, ok := sel.(*Field); ok {
			return op.Operation, f, true
		}
	}
	return op.Operation, nil, false
}

// ParseSelection parses a bare selection body such as
// "name posts { id hits }". Aliases, arguments, directives and fragments
// are rejected since a selection names fields only.
func ParseSelection(source string) (SelectionSet, error) {
	doc, err := ParseQuery("{ " + source + " }")
	if err != nil {
		return nil, err
	}
	if len(doc.Operations) != 1 || len(doc.Fragments) > 0 {
		return nil, fmt.Errorf("selection %q is not a single selection body", source)
	}
	op := doc.Operations[0]
	if op.Name != "" || len(op.VariableDefinitions) > 0 || len(op.Directives) > 0 {
		return nil, fmt.Errorf("selection %q is not a single selection body", source)
	}
	set := op.SelectionSet
	if err := checkPlain(set); err != nil {
		return nil, err
	}
	return set, nil
}

func checkPlain(set SelectionSet) error {
	for _, sel := range set {
		f, ok := sel.(*Field)
		if !ok {
			return fmt.Errorf("fragments are not supported in selections")
		}
		if f.Alias != "" && f.Alias != f.Name {
			return fmt.Errorf("field %q: aliases are not supported", f.Name)
		}
		if len(f.Arguments) > 0 {
			return fmt.Errorf("field %q: arguments are not supported", f.Name)
		}
		if len(f.Directives) > 0 {
			return fmt.Errorf("field %q: directives are not supported", f.Name)
		}
		if err := checkPlain(f.SelectionSet); err != nil {
			return err
		}
	}
	return nil
}
