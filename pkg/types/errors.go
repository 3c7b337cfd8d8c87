package types

import "errors"

var (
	// ErrUnsupportedValue is returned when a document holds a Go value outside the model.
	ErrUnsupportedValue = errors.New("unsupported document value")

	// ErrTooDeep is returned when documents and arrays nest beyond MaxDepth.
	ErrTooDeep = errors.New("document nested too deeply")

	// ErrInvalidObjectIDLength is returned when an ObjectID string or byte slice has incorrect length
	ErrInvalidObjectIDLength = errors.New("invalid ObjectID length")

	// ErrInvalidObjectIDCharacter is returned when an ObjectID string contains non-hex characters
	ErrInvalidObjectIDCharacter = errors.New("invalid ObjectID character")
)
