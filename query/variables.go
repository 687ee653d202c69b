package query

import "sort"

// Variable declares one operation variable and its GraphQL type, e.g.
// Var("id", "String!").
type Variable struct {
	Name string
	Type string
}

func Var(name, typ string) Variable { return Variable{Name: name, Type: typ} }

// Variables is an ordered variable type map.
type Variables []Variable

// VariablesFromMap converts m into Variables sorted by name.
func VariablesFromMap(m map[string]string) Variables {
	out := make(Variables, 0, len(m))
	for name, typ := range m {
		out = append(out, Variable{Name: name, Type: typ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the variable names in declaration order.
func (v Variables) Names() []string {
	out := make([]string, len(v))
	for i := range v {
		out[i] = v[i].Name
	}
	return out
}
