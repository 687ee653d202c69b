package query

import (
	"strings"

	language "github.com/hanpama/gqlbind/internal/language"
)

type Operation = language.Operation

const (
	OpQuery    Operation = language.Query
	OpMutation Operation = language.Mutation
)

// Assemble renders a single-root-field GraphQL document:
//
//	{op}{($name: Type, ...)} { {field}{(name: $name, ...)} {fields} }
//
// Unselected fields are omitted and empty clauses collapse to nothing. No
// identifier or type syntax is checked here.
func Assemble(op Operation, field string, sel Selection, vars Variables) string {
	var b strings.Builder
	b.WriteString(string(op))
	writeVariableDefs(&b, vars)
	b.WriteString(" { ")
	b.WriteString(field)
	writeVariablePass(&b, vars)
	b.WriteByte(' ')
	b.WriteString(fieldsClause(sel))
	b.WriteString(" }")
	return b.String()
}

func writeVariableDefs(b *strings.Builder, vars Variables) {
	if len(vars) == 0 {
		return
	}
	b.WriteByte('(')
	for i, v := range vars {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(v.Name)
		b.WriteString(": ")
		b.WriteString(v.Type)
	}
	b.WriteByte(')')
}

func writeVariablePass(b *strings.Builder, vars Variables) {
	if len(vars) == 0 {
		return
	}
	b.WriteByte('(')
	for i, v := range vars {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.Name)
		b.WriteString(": $")
		b.WriteString(v.Name)
	}
	b.WriteByte(')')
}

func fieldsClause(sel Selection) string {
	if len(sel) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sel)+2)
	parts = append(parts, "{")
	for _, f := range sel {
		if !f.Selected {
			continue
		}
		parts = append(parts, f.Name)
		if f.Sub != nil {
			parts = append(parts, fieldsClause(f.Sub))
		}
	}
	parts = append(parts, "}")
	return strings.Join(parts, " ")
}
