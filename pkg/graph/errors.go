package graph

import "errors"

// Sentinel errors for graph operations. Callers match them with errors.Is;
// returned errors wrap them with the offending names and indices.
var (
	ErrBadOpDef          = errors.New("graph: invalid op definition")
	ErrUnknownOp         = errors.New("graph: unknown op type")
	ErrDuplicateNode     = errors.New("graph: duplicate node name")
	ErrNodeNotFound      = errors.New("graph: node not found")
	ErrForeignNode       = errors.New("graph: node belongs to another graph")
	ErrSlotOutOfRange    = errors.New("graph: slot index out of range")
	ErrSlotConnected     = errors.New("graph: input slot already connected")
	ErrBadAttr           = errors.New("graph: invalid attribute")
	ErrBadIO             = errors.New("graph: invalid input/output arity")
	ErrDuplicateSubgraph = errors.New("graph: duplicate subgraph name")
	ErrSubgraphNotFound  = errors.New("graph: subgraph not found")
	ErrSubgraphAttached  = errors.New("graph: subgraph already has a parent")
	ErrSubgraphCycle     = errors.New("graph: subgraph is an ancestor")
	ErrEmptyName         = errors.New("graph: empty name")
)
