//go:build !linux

package auth

import (
	"net"

	"github.com/solatis/tracenotify/internal/types"
)

func peerCredentials(*net.UnixConn) (types.Credentials, error) {
	return types.Credentials{}, ErrNoPeerCredentials
}
