// Package graph defines the dataflow graph IR the builder assembles: nodes
// created against registered operator definitions, per-slot tensor
// descriptors, data edges, declared outputs and registered subgraphs, plus
// structural and descriptor validation.
package graph
