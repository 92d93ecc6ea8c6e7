package store

import "github.com/pkg/errors"

// Sentinel errors: short, lowercase message, built with errors.New.
var (
	// ErrCorrupt is returned by Open when a file's magic or size does not
	// match what the format expects, or when exactly one of the two
	// backing files exists.
	ErrCorrupt = errors.New("store: corrupt or inconsistent database files")

	// ErrKeyTooLarge and ErrValueTooLarge report a size validation
	// failure from Put.
	ErrKeyTooLarge   = errors.New("store: key exceeds maximum size")
	ErrValueTooLarge = errors.New("store: value exceeds maximum size")
	ErrEmptyKey      = errors.New("store: key must not be empty")
	ErrEmptyValue    = errors.New("store: value must not be empty")

	// ErrNoSpace is returned when no chunk in a file admits the
	// requested run of pages.
	ErrNoSpace = errors.New("store: no chunk has room for the requested allocation")

	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("store: use of closed store")
)
