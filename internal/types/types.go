// Package types provides domain models shared across tracenotify components.
//
// Zero-dependency design: types.go, domain.go and errors.go use only the
// standard library so the client-side codec packages stay small. ID utilities
// in ids.go import uuid but are isolated for the daemon-side registries.
package types

import "fmt"

// SessionID identifies a tracing session inside one session daemon.
type SessionID uint64

// ChunkID identifies a trace chunk inside one session. Anonymous chunks
// carry no ID.
type ChunkID uint64

// TracerToken is the daemon-assigned handle a tracer reports hits with.
// Zero means "not registered".
type TracerToken uint64

// Credentials identify the principal owning a trigger or a connection.
type Credentials struct {
	UID uint32
	GID uint32
}

// IsRoot reports whether the credentials belong to the superuser.
func (c Credentials) IsRoot() bool {
	return c.UID == 0
}

// String implements fmt.Stringer.
func (c Credentials) String() string {
	return fmt.Sprintf("uid=%d,gid=%d", c.UID, c.GID)
}

// Resource limits enforced by the codec and the daemon to bound memory use
// for data received from untrusted peers.
const (
	// NameMax bounds session, channel and trigger names (NUL excluded).
	// Matches the tracer's LTTNG_NAME_MAX-style limit.
	NameMax = 255

	// PathMax bounds filesystem paths and URLs carried on the wire.
	PathMax = 4096

	// MaxMessageSize caps a single framed message (command, reply or
	// notification) so a peer cannot make the reader allocate unbounded memory.
	MaxMessageSize = 4 * 1024 * 1024

	// MaxGroupActions limits the number of children in a group action.
	MaxGroupActions = 256

	// MaxCaptureDescriptors limits captured fields per event-rule condition.
	MaxCaptureDescriptors = 128

	// MaxExclusions limits tracepoint name exclusions.
	MaxExclusions = 256

	// MaxTriggersPerCollection limits a serialized trigger collection.
	MaxTriggersPerCollection = 65536

	// MaxExprDepth bounds nesting of array-element expressions and of
	// filter expressions.
	MaxExprDepth = 16
)
