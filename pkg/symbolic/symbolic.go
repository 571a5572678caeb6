// Package symbolic parses and evaluates symbolic dimension expressions such
// as "s0", "s0 * 2 + 1" or "max(s1, 16)". Expressions use HCL expression
// syntax restricted to integer arithmetic; evaluation binds symbols to
// int64 values through cty.
package symbolic

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var (
	// ErrSyntax is returned for text that is not a valid expression.
	ErrSyntax = errors.New("symbolic: syntax error")
	// ErrUnsupported is returned for valid HCL that is not integer arithmetic.
	ErrUnsupported = errors.New("symbolic: unsupported construct")
	// ErrUnbound is returned when evaluation meets a symbol with no value.
	ErrUnbound = errors.New("symbolic: unbound symbol")
	// ErrNotIntegral is returned when an expression evaluates to a fraction.
	ErrNotIntegral = errors.New("symbolic: result is not an integer")
)

// functions are the calls an expression may make.
var functions = map[string]function.Function{
	"max":   stdlib.MaxFunc,
	"min":   stdlib.MinFunc,
	"ceil":  stdlib.CeilFunc,
	"floor": stdlib.FloorFunc,
	"abs":   stdlib.AbsoluteFunc,
}

// Expr is a parsed symbolic dimension expression.
type Expr struct {
	src  string
	expr hclsyntax.Expression
}

// Parse parses src into an expression.
func Parse(src string) (Expr, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return Expr{}, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	e, diags := hclsyntax.ParseExpression([]byte(trimmed), "symbol", hcl.InitialPos)
	if diags.HasErrors() {
		return Expr{}, fmt.Errorf("%w: %q: %s", ErrSyntax, trimmed, diags.Error())
	}
	if err := checkArithmetic(e); err != nil {
		return Expr{}, fmt.Errorf("%q: %w", trimmed, err)
	}
	return Expr{src: trimmed, expr: e}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level tables.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// checkArithmetic walks the syntax tree and rejects anything other than
// integer literals, bare symbols, arithmetic operators, parentheses and the
// whitelisted functions.
func checkArithmetic(expr hclsyntax.Expression) error {
	switch e := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		if e.Val.Type() != cty.Number || e.Val.IsNull() {
			return fmt.Errorf("%w: literal of type %s", ErrUnsupported, e.Val.Type().FriendlyName())
		}
		if !e.Val.AsBigFloat().IsInt() {
			return fmt.Errorf("%w: non-integer literal", ErrUnsupported)
		}
		return nil
	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) != 1 {
			return fmt.Errorf("%w: attribute or index access", ErrUnsupported)
		}
		return nil
	case *hclsyntax.BinaryOpExpr:
		switch e.Op {
		case hclsyntax.OpAdd, hclsyntax.OpSubtract, hclsyntax.OpMultiply, hclsyntax.OpDivide, hclsyntax.OpModulo:
		default:
			return fmt.Errorf("%w: operator", ErrUnsupported)
		}
		if err := checkArithmetic(e.LHS); err != nil {
			return err
		}
		return checkArithmetic(e.RHS)
	case *hclsyntax.UnaryOpExpr:
		if e.Op != hclsyntax.OpNegate {
			return fmt.Errorf("%w: logical operator", ErrUnsupported)
		}
		return checkArithmetic(e.Val)
	case *hclsyntax.ParenthesesExpr:
		return checkArithmetic(e.Expression)
	case *hclsyntax.FunctionCallExpr:
		if _, ok := functions[e.Name]; !ok {
			return fmt.Errorf("%w: function %q", ErrUnsupported, e.Name)
		}
		if e.ExpandFinal {
			return fmt.Errorf("%w: argument expansion", ErrUnsupported)
		}
		for _, arg := range e.Args {
			if err := checkArithmetic(arg); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnsupported, expr)
}

// String returns the expression source as written (trimmed).
func (e Expr) String() string { return e.src }

// IsZero reports whether e is the zero Expr (never parsed).
func (e Expr) IsZero() bool { return e.expr == nil }

// Symbols returns the distinct symbol names used by e, sorted.
func (e Expr) Symbols() []string {
	if e.expr == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, tr := range e.expr.Variables() {
		name := tr.RootName()
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// IsConst reports whether e uses no symbols.
func (e Expr) IsConst() bool { return len(e.Symbols()) == 0 }

// Eval evaluates e with the given symbol bindings.
func (e Expr) Eval(bindings map[string]int64) (int64, error) {
	if e.expr == nil {
		return 0, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	vars := make(map[string]cty.Value, len(bindings))
	for _, name := range e.Symbols() {
		v, ok := bindings[name]
		if !ok {
			return 0, fmt.Errorf("%w: %s in %q", ErrUnbound, name, e.src)
		}
		vars[name] = cty.NumberIntVal(v)
	}

	val, diags := e.expr.Value(&hcl.EvalContext{Variables: vars, Functions: functions})
	if diags.HasErrors() {
		return 0, fmt.Errorf("symbolic: evaluating %q: %s", e.src, diags.Error())
	}
	if val.IsNull() || !val.IsKnown() || val.Type() != cty.Number {
		return 0, fmt.Errorf("symbolic: %q did not produce a number", e.src)
	}
	bf := val.AsBigFloat()
	if !bf.IsInt() {
		return 0, fmt.Errorf("%w: %q = %s", ErrNotIntegral, e.src, bf.Text('g', 10))
	}
	i, acc := bf.Int64()
	if acc != big.Exact {
		return 0, fmt.Errorf("symbolic: %q overflows int64", e.src)
	}
	return i, nil
}
