//go:build linux

package auth

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/solatis/tracenotify/internal/types"
)

func peerCredentials(conn *net.UnixConn) (types.Credentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return types.Credentials{}, fmt.Errorf("%w: %v", ErrNoPeerCredentials, err)
	}

	var (
		ucred  *unix.Ucred
		optErr error
	)
	err = raw.Control(func(fd uintptr) {
		ucred, optErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err == nil {
		err = optErr
	}
	if err != nil {
		return types.Credentials{}, fmt.Errorf("%w: %v", ErrNoPeerCredentials, err)
	}
	return types.Credentials{UID: ucred.Uid, GID: ucred.Gid}, nil
}
