package auth

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solatis/tracenotify/internal/types"
)

func TestCanManage(t *testing.T) {
	tests := []struct {
		name   string
		caller types.Credentials
		owner  types.Credentials
		want   bool
	}{
		{name: "owner", caller: types.Credentials{UID: 1000}, owner: types.Credentials{UID: 1000, GID: 5}, want: true},
		{name: "root", caller: types.Credentials{UID: 0}, owner: types.Credentials{UID: 1000}, want: true},
		{name: "other user", caller: types.Credentials{UID: 1001}, owner: types.Credentials{UID: 1000}, want: false},
		{name: "same group only", caller: types.Credentials{UID: 1001, GID: 5}, owner: types.Credentials{UID: 1000, GID: 5}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanManage(tt.caller, tt.owner)
			if (err == nil) != tt.want {
				t.Fatalf("CanManage() error = %v, want allowed=%v", err, tt.want)
			}
			if err != nil && !errors.Is(err, types.ErrPermission) {
				t.Errorf("CanManage() error = %v, want ErrPermission", err)
			}
			if CanSee(tt.caller, tt.owner) != tt.want {
				t.Errorf("CanSee() = %v, want %v", !tt.want, tt.want)
			}
		})
	}
}

func TestPeerCredentials_NotUnix(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	_, err := PeerCredentials(a)
	require.ErrorIs(t, err, ErrNotUnixSocket)
}

func TestPeerCredentials_UnixSocket(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("SO_PEERCRED is Linux only")
	}
	path := filepath.Join(t.TempDir(), "peer.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer client.Close()
	server, ok := <-accepted
	require.True(t, ok)
	defer server.Close()

	creds, err := PeerCredentials(server)
	require.NoError(t, err)
	require.Equal(t, uint32(os.Getuid()), creds.UID)
	require.Equal(t, uint32(os.Getgid()), creds.GID)
}

func TestCredentialsContext(t *testing.T) {
	_, ok := CredentialsFromContext(context.Background())
	require.False(t, ok)

	ctx := WithCredentials(context.Background(), types.Credentials{UID: 42, GID: 7})
	creds, ok := CredentialsFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, types.Credentials{UID: 42, GID: 7}, creds)
}
