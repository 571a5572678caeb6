package builder

import "errors"

var (
	// ErrFinalized is returned by operations on a builder whose graph has
	// already been handed off by BuildGraphAndReset.
	ErrFinalized = errors.New("builder: graph already built, cannot build again")
	// ErrClosed is returned by operations on a builder after Close.
	ErrClosed = errors.New("builder: closed")

	ErrNegativeIndex        = errors.New("builder: negative index")
	ErrDuplicateIndex       = errors.New("builder: index already registered")
	ErrUnsupportedInputType = errors.New("builder: unsupported graph input type")
	ErrNilTensor            = errors.New("builder: nil tensor")
	ErrForeignTensor        = errors.New("builder: tensor belongs to another builder")
	ErrIndexNotContiguous   = errors.New("builder: indices not contiguous")

	// ErrInvalidHandle is returned by handle setters once the owning
	// builder has released its arena.
	ErrInvalidHandle = errors.New("builder: invalid tensor handle")

	// ErrNoOwnerBuilder is returned by the op helpers when every argument is
	// a literal, so no builder can be discovered to materialize them into.
	ErrNoOwnerBuilder = errors.New("builder: no tensor argument to take a builder from")

	// ErrConstSize is returned when constant data does not match its shape
	// and data type.
	ErrConstSize = errors.New("builder: constant data size mismatch")
)
