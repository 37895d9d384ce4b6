package resultstore

import "errors"

var (
	// ErrInvalidResults is returned by Add when a result payload is neither
	// a single Record nor a slice of Records.
	ErrInvalidResults = errors.New("results are given as neither a record nor a list of records")

	// ErrEmptyStore is returned by ToTable when the store holds no rows.
	// Flattening an empty store is a usage error, not an empty success.
	ErrEmptyStore = errors.New("result store has no recorded rows")
)
