package hashsmith

import "errors"

var (
	// ErrInvalidConfiguration is returned by the constructors when a load
	// factor, capacity, shard count or hasher option cannot be honored.
	ErrInvalidConfiguration = errors.New("hashsmith: invalid configuration")

	// ErrNullKey is the panic value raised by keyed operations that receive a
	// nil key on a table that was not built WithNullKeys.
	ErrNullKey = errors.New("hashsmith: nil key not supported")

	// ErrIllegalIteratorState is returned by Iterator.Remove when Next has not
	// yielded an element since the last removal.
	ErrIllegalIteratorState = errors.New("hashsmith: iterator remove without next")
)
