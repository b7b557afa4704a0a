package item

import "errors"

var (
	// ErrTextUnavailable means the compressed text could not be restored.
	// The resident copy is gone, so the content is permanently lost.
	ErrTextUnavailable = errors.New("text unavailable: compressed copy cannot be restored")

	// ErrImageUnavailable means the in-memory compressed image fallback
	// could not be restored
	ErrImageUnavailable = errors.New("image unavailable: compressed copy cannot be restored")

	// ErrImageEvicted means the image bytes live in the blob store and the
	// caller has to reload them
	ErrImageEvicted = errors.New("image evicted to backing store")

	// ErrWrongKind means the operation does not apply to the item kind
	ErrWrongKind = errors.New("operation does not apply to this item kind")
)
