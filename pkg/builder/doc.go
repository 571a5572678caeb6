// Package builder assembles dataflow graphs one call at a time.
//
// A GraphBuilder owns an in-progress graph.Graph. Callers register graph
// inputs (which hand back TensorHandles), create further nodes against those
// handles, register handles as graph outputs, and finally call
// BuildGraphAndReset, which checks index contiguity, synthesizes the
// NetOutput sink, flattens one level of subgraph nesting and hands the graph
// over. A builder finalizes at most once.
//
// Handles are owned by the builder's Arena and stay usable until Close.
// TensorLike wraps either a handle or a literal; literals turn into a fresh
// Const node every time they are materialized.
//
// A GraphBuilder is not safe for concurrent use.
package builder
