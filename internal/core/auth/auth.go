// Package auth identifies local clients by the credentials of their socket
// peer and decides which triggers they may manage.
package auth

import (
	"context"
	"fmt"
	"net"

	"github.com/solatis/tracenotify/internal/types"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// credentialsKey is the context key for the caller's credentials.
const credentialsKey = contextKey("credentials")

// PeerCredentials returns the credentials of the process on the other end
// of a Unix socket connection.
func PeerCredentials(conn net.Conn) (types.Credentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return types.Credentials{}, fmt.Errorf("%w: %T", ErrNotUnixSocket, conn)
	}
	return peerCredentials(uc)
}

// CanManage reports whether caller may modify or remove a trigger owned by
// owner. Root manages every trigger.
func CanManage(caller, owner types.Credentials) error {
	if caller.IsRoot() || caller.UID == owner.UID {
		return nil
	}
	return fmt.Errorf("%w: %s does not own trigger of %s", ErrNotOwner, caller, owner)
}

// CanSee reports whether caller may list a trigger owned by owner, or
// receive its notifications.
func CanSee(caller, owner types.Credentials) bool {
	return CanManage(caller, owner) == nil
}

// WithCredentials returns a context carrying the caller's credentials.
func WithCredentials(ctx context.Context, creds types.Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey, creds)
}

// CredentialsFromContext extracts the caller's credentials.
func CredentialsFromContext(ctx context.Context) (types.Credentials, bool) {
	creds, ok := ctx.Value(credentialsKey).(types.Credentials)
	return creds, ok
}
