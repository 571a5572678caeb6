package graph

import "fmt"

// ValidationSeverity indicates whether a validation finding blocks use of the
// graph or is merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // graph is malformed
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// ValidationError describes a single validation finding.
type ValidationError struct {
	Node     string             // offending node name, empty if graph-level
	Message  string             // human-readable description
	Severity ValidationSeverity // error or warning
}

func (e ValidationError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] node %s: %s", e.Severity, e.Node, e.Message)
}

// ValidationWarning describes a non-blocking advisory finding.
type ValidationWarning struct {
	Node    string
	Message string
}

// ValidationResult bundles errors (blocking) and warnings (advisory)
// from all validation tiers.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// OK reports whether no blocking error was found.
func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Validate runs the Tier 1 structural checks on g and its registered
// subgraphs. An empty slice means the graph is well formed. It never mutates
// the graph.
func Validate(g *Graph) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateDAG(g)...)
	errs = append(errs, validateEdges(g)...)
	errs = append(errs, validateRequiredInputs(g)...)
	errs = append(errs, validateOutputs(g)...)
	errs = append(errs, validateReachable(g)...)
	errs = append(errs, validateSubgraphs(g)...)
	for _, sg := range g.subgraphs {
		for _, e := range Validate(sg) {
			e.Message = fmt.Sprintf("subgraph %s: %s", sg.name, e.Message)
			errs = append(errs, e)
		}
	}
	return errs
}

// ValidateAll runs the structural tier and the descriptor tier and returns a
// ValidationResult with separated errors and warnings.
func ValidateAll(g *Graph) ValidationResult {
	tier1 := Validate(g)
	tier2Errs, tier2Warnings := validateDescs(g)

	var result ValidationResult
	for _, e := range tier1 {
		if e.Severity == SeverityWarning {
			result.Warnings = append(result.Warnings, ValidationWarning{Node: e.Node, Message: e.Message})
		} else {
			result.Errors = append(result.Errors, e)
		}
	}
	result.Errors = append(result.Errors, tier2Errs...)
	result.Warnings = append(result.Warnings, tier2Warnings...)
	return result
}

// validateDAG checks for cycles using DFS with 3-color marking along data
// edges from producer to consumer.
func validateDAG(g *Graph) []ValidationError {
	const (
		white = iota
		gray
		black
	)

	succ := make(map[*Node][]*Node)
	for _, e := range g.edges {
		succ[e.Src.Node] = append(succ[e.Src.Node], e.Dst)
	}

	color := make(map[*Node]int)
	var errs []ValidationError

	var visit func(n *Node) bool // returns true if cycle found
	visit = func(n *Node) bool {
		switch color[n] {
		case black:
			return false
		case gray:
			errs = append(errs, ValidationError{
				Node:     n.name,
				Message:  fmt.Sprintf("cycle detected: node %s is part of a cycle", n.name),
				Severity: SeverityError,
			})
			return true
		}
		color[n] = gray
		for _, next := range succ[n] {
			if visit(next) {
				return true
			}
		}
		color[n] = black
		return false
	}

	for _, n := range g.nodes {
		if color[n] == white && visit(n) {
			// One cycle error is sufficient.
			break
		}
	}
	return errs
}

// validateEdges checks that every edge joins two nodes of g on valid slots
// and that the consumer slot records the same edge.
func validateEdges(g *Graph) []ValidationError {
	var errs []ValidationError
	for _, e := range g.edges {
		if e.Src.Node.owner != g || e.Dst.owner != g {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("edge %s crosses graph boundary", e),
				Severity: SeverityError,
			})
			continue
		}
		if e.Src.Index < 0 || e.Src.Index >= len(e.Src.Node.outputs) {
			errs = append(errs, ValidationError{
				Node:     e.Src.Node.name,
				Message:  fmt.Sprintf("edge %s leaves a missing output slot", e),
				Severity: SeverityError,
			})
		}
		if e.DstIndex < 0 || e.DstIndex >= len(e.Dst.inputs) || e.Dst.inputs[e.DstIndex].edge != e {
			errs = append(errs, ValidationError{
				Node:     e.Dst.name,
				Message:  fmt.Sprintf("edge %s is not recorded on its input slot", e),
				Severity: SeverityError,
			})
		}
	}
	return errs
}

// validateRequiredInputs checks that required and dynamic input slots are
// connected. Graph-input ops are exempt: their input is fed at run time.
func validateRequiredInputs(g *Graph) []ValidationError {
	var errs []ValidationError
	for _, n := range g.nodes {
		if IsGraphInputOp(n.opType) {
			continue
		}
		for i, p := range n.inputs {
			if p.edge == nil && p.kind != IOOptional {
				errs = append(errs, ValidationError{
					Node:     n.name,
					Message:  fmt.Sprintf("input %d (%s) is not connected", i, p.name),
					Severity: SeverityError,
				})
			}
		}
	}
	return errs
}

// validateOutputs checks the declared output list and, when a NetOutput node
// exists, that it is fed by exactly the declared outputs.
func validateOutputs(g *Graph) []ValidationError {
	var errs []ValidationError
	for i, r := range g.outputs {
		if r.Node == nil || r.Node.owner != g || r.Index < 0 || r.Index >= len(r.Node.outputs) {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("declared output %d (%s) does not resolve", i, r),
				Severity: SeverityError,
			})
		}
	}

	for _, n := range g.nodes {
		if n.opType != OpNetOutput {
			continue
		}
		if len(n.inputs) != len(g.outputs) {
			errs = append(errs, ValidationError{
				Node:     n.name,
				Message:  fmt.Sprintf("has %d inputs but graph declares %d outputs", len(n.inputs), len(g.outputs)),
				Severity: SeverityWarning,
			})
			continue
		}
		for i, p := range n.inputs {
			if p.edge != nil && p.edge.Src != g.outputs[i] {
				errs = append(errs, ValidationError{
					Node:     n.name,
					Message:  fmt.Sprintf("input %d is fed by %s, declared output is %s", i, p.edge.Src, g.outputs[i]),
					Severity: SeverityWarning,
				})
			}
		}
	}
	return errs
}

// validateReachable warns about nodes that do not contribute to any declared
// output. Graphs without declared outputs are skipped.
func validateReachable(g *Graph) []ValidationError {
	if len(g.outputs) == 0 {
		return nil
	}

	reachable := make(map[*Node]bool)
	queue := make([]*Node, 0, len(g.outputs))
	for _, r := range g.outputs {
		if r.Node != nil && !reachable[r.Node] {
			reachable[r.Node] = true
			queue = append(queue, r.Node)
		}
	}
	for _, n := range g.nodes {
		if n.opType == OpNetOutput && !reachable[n] {
			reachable[n] = true
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, p := range current.inputs {
			if p.edge == nil {
				continue
			}
			if src := p.edge.Src.Node; !reachable[src] {
				reachable[src] = true
				queue = append(queue, src)
			}
		}
	}

	var errs []ValidationError
	for _, n := range g.nodes {
		if !reachable[n] {
			errs = append(errs, ValidationError{
				Node:     n.name,
				Message:  fmt.Sprintf("node %q does not feed any graph output (orphan)", n.name),
				Severity: SeverityWarning,
			})
		}
	}
	return errs
}

// validateSubgraphs checks parent links of the direct subgraphs.
func validateSubgraphs(g *Graph) []ValidationError {
	var errs []ValidationError
	for _, sg := range g.subgraphs {
		if sg.parent != g {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("subgraph %s does not point back to %s", sg.name, g.name),
				Severity: SeverityError,
			})
		}
		if pn := sg.parentNode; pn != nil && pn.owner == nil {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("subgraph %s is invoked by removed node %s", sg.name, pn.name),
				Severity: SeverityWarning,
			})
		}
	}
	return errs
}
