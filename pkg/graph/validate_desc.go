package graph

import "fmt"

// ---------------------------------------------------------------------------
// Tier 2: tensor descriptor validation (errors + warnings)
// ---------------------------------------------------------------------------

// validateDescs runs all Tier 2 descriptor checks.
// Returns errors (blocking) and warnings (advisory) separately.
func validateDescs(g *Graph) ([]ValidationError, []ValidationWarning) {
	var errs []ValidationError
	var warnings []ValidationWarning

	errs = append(errs, validateDims(g)...)
	warnings = append(warnings, validateEdgeTypes(g)...)
	warnings = append(warnings, validateOutputTypes(g)...)

	return errs, warnings
}

// checkShape returns a message describing what is wrong with s, or "".
func checkShape(s Shape) string {
	if len(s) > 1 {
		for _, d := range s {
			if d == UnknownRank {
				return fmt.Sprintf("shape %s mixes the unknown-rank marker with dimensions", s)
			}
		}
	}
	for _, d := range s {
		if d < UnknownRank {
			return fmt.Sprintf("shape %s has invalid dimension %d", s, d)
		}
	}
	return ""
}

// validateDims checks origin and storage shapes of every output slot.
func validateDims(g *Graph) []ValidationError {
	var errs []ValidationError
	for _, n := range g.nodes {
		for i, p := range n.outputs {
			for _, s := range []Shape{p.desc.OriginShape, p.desc.Shape} {
				if msg := checkShape(s); msg != "" {
					errs = append(errs, ValidationError{
						Node:     n.name,
						Message:  fmt.Sprintf("output %d: %s", i, msg),
						Severity: SeverityError,
					})
				}
			}
		}
	}
	return errs
}

// validateEdgeTypes warns when a consumer slot declares a data type that
// differs from its producer's output.
func validateEdgeTypes(g *Graph) []ValidationWarning {
	var warnings []ValidationWarning
	for _, e := range g.edges {
		if e.Src.Index >= len(e.Src.Node.outputs) || e.DstIndex >= len(e.Dst.inputs) {
			continue
		}
		src := e.Src.Node.outputs[e.Src.Index].desc.DataType
		dst := e.Dst.inputs[e.DstIndex].desc.DataType
		if dst != DTUndefined && src != DTUndefined && src != dst {
			warnings = append(warnings, ValidationWarning{
				Node:    e.Dst.name,
				Message: fmt.Sprintf("input %d expects %s but %s produces %s", e.DstIndex, dst, e.Src, src),
			})
		}
	}
	return warnings
}

// validateOutputTypes warns about declared outputs without a data type.
func validateOutputTypes(g *Graph) []ValidationWarning {
	var warnings []ValidationWarning
	for i, r := range g.outputs {
		if r.Node == nil || r.Index < 0 || r.Index >= len(r.Node.outputs) {
			continue
		}
		if r.Node.outputs[r.Index].desc.DataType == DTUndefined {
			warnings = append(warnings, ValidationWarning{
				Node:    r.Node.name,
				Message: fmt.Sprintf("declared output %d (%s) has undefined data type", i, r),
			})
		}
	}
	return warnings
}
