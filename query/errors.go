package query

import (
	"errors"
	"strings"
)

var (
	ErrUnknownField              = errors.New("unknown field")
	ErrLeafWithSelection         = errors.New("scalar field selected with a sub-selection")
	ErrCompositeWithoutSelection = errors.New("object field selected without a sub-selection")
	ErrEmptySelection            = errors.New("object field selected with an empty sub-selection")
	ErrDuplicateField            = errors.New("field selected more than once")
	ErrMissingVariables          = errors.New("variable types are required")
	ErrUnexpectedVariables       = errors.New("variable types given for an operation without variables")
	ErrVariableMismatch          = errors.New("variable types do not match the variables type")
	ErrShapeMismatch             = errors.New("result type does not match the selection")
	ErrUnsupportedType           = errors.New("unsupported Go type")
	ErrInvalidDocument           = errors.New("invalid document")
)

// ContractError reports a selection or variables contract violation found
// while building a descriptor. Err is one of the sentinel errors above.
type ContractError struct {
	Op     string
	Path   []string
	Detail string
	Err    error
}

func (e *ContractError) Error() string {
	var b strings.Builder
	b.WriteString("query: ")
	b.WriteString(e.Op)
	if len(e.Path) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(e.Path, "."))
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *ContractError) Unwrap() error { return e.Err }

func contractErr(op string, path []string, err error, detail string) *ContractError {
	return &ContractError{Op: op, Path: append([]string(nil), path...), Detail: detail, Err: err}
}
