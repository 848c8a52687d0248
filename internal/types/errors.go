package types

import "errors"

// Sentinel errors for tracenotify operations.
//
// Codec functions wrap ErrCorrupt, builders and validators wrap ErrInvalid.
// The two are never collapsed: callers need to tell a bad request from a
// bad peer.
var (
	// ErrInvalid indicates a caller-visible validation failure, e.g. a
	// missing mandatory field or an out-of-range threshold.
	ErrInvalid = errors.New("invalid object")

	// ErrUnset indicates a getter was called for an optional field that
	// holds no value.
	ErrUnset = errors.New("field is not set")

	// ErrCorrupt indicates wire data violating the serialization format:
	// truncated buffer, length mismatch, bad string termination, unknown tag.
	ErrCorrupt = errors.New("corrupt serialized data")

	// ErrUnsupported indicates an object kind the daemon cannot act on.
	ErrUnsupported = errors.New("unsupported")

	// ErrPayloadTooLarge indicates a frame exceeds MaxMessageSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrClosed indicates the peer closed the channel.
	ErrClosed = errors.New("channel closed")

	// ErrNotFound indicates a registry lookup miss.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a name or key is already registered.
	ErrAlreadyExists = errors.New("already exists")

	// ErrPermission indicates the caller's credentials do not own the object.
	ErrPermission = errors.New("permission denied")
)
