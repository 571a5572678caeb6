package symbolic

import (
	"sort"
	"strings"
)

// GroupName is the attribute-group key a Shape is stored under on a tensor
// descriptor.
const GroupName = "symbolic_shape"

// Shape is a per-dimension list of symbolic expressions.
type Shape []Expr

// GroupName implements graph.AttrGroup.
func (Shape) GroupName() string { return GroupName }

// ParseShape parses one expression per dimension. It stops at the first
// invalid dimension.
func ParseShape(dims ...string) (Shape, error) {
	out := make(Shape, 0, len(dims))
	for _, d := range dims {
		e, err := Parse(d)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Symbols returns the distinct symbols across all dimensions, sorted.
func (s Shape) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range s {
		for _, name := range e.Symbols() {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Eval evaluates every dimension with the given bindings.
func (s Shape) Eval(bindings map[string]int64) ([]int64, error) {
	out := make([]int64, len(s))
	for i, e := range s {
		v, err := e.Eval(bindings)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, e := range s {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
