package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solatis/tracenotify/internal/action"
	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/trigger"
	"github.com/solatis/tracenotify/internal/types"
)

// memHandler keeps triggers in a trigger.Registry and enforces ownership.
type memHandler struct {
	reg *trigger.Registry
}

func (h *memHandler) RegisterTrigger(_ context.Context, creds types.Credentials, t *trigger.Trigger) error {
	t.SetOwner(creds)
	return h.reg.Add(t)
}

func (h *memHandler) UnregisterTrigger(_ context.Context, creds types.Credentials, t *trigger.Trigger) error {
	name, err := t.Name()
	if err != nil {
		return fmt.Errorf("%w: unnamed trigger", types.ErrInvalid)
	}
	found, ok := h.reg.Find(name)
	if !ok {
		return fmt.Errorf("%w: trigger %q", types.ErrNotFound, name)
	}
	defer found.Put()
	if owner, _ := found.Owner(); owner.UID != creds.UID && !creds.IsRoot() {
		return types.ErrPermission
	}
	removed, err := h.reg.Remove(name)
	if err != nil {
		return err
	}
	removed.Put()
	return nil
}

func (h *memHandler) ListTriggers(_ context.Context, creds types.Credentials) (*trigger.Collection, error) {
	return h.reg.Collect(func(t *trigger.Trigger) bool {
		owner, _ := t.Owner()
		return creds.IsRoot() || owner.UID == creds.UID
	}), nil
}

func rotationTrigger(t *testing.T, session string) *trigger.Trigger {
	t.Helper()
	c := condition.NewSessionRotationCompleted()
	require.NoError(t, c.SetSessionName(session))
	return trigger.New(c, &action.Notify{})
}

func pipeClient(t *testing.T, h Handler, creds types.Credentials) *Client {
	t.Helper()
	srvConn, cliConn := net.Pipe()
	srv := NewServer(h, ServerConfig{
		Credentials: func(net.Conn) (types.Credentials, error) { return creds, nil },
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ServeConn(ctx, srvConn)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		_ = cliConn.Close()
		<-done
	})
	return NewClient(cliConn)
}

func TestClient_RegisterListUnregister(t *testing.T) {
	h := &memHandler{reg: trigger.NewRegistry()}
	alice := pipeClient(t, h, types.Credentials{UID: 1000, GID: 1000})
	bob := pipeClient(t, h, types.Credentials{UID: 1001, GID: 1001})

	tr := rotationTrigger(t, "s1")
	name, err := alice.RegisterTrigger(tr)
	require.NoError(t, err)
	require.Equal(t, "T0", name)
	got, err := tr.Name()
	require.NoError(t, err)
	require.Equal(t, "T0", got)

	_, err = alice.RegisterTrigger(rotationTrigger(t, "s1"))
	require.ErrorIs(t, err, types.ErrAlreadyExists)

	_, err = bob.RegisterTrigger(rotationTrigger(t, "s2"))
	require.NoError(t, err)

	list, err := alice.ListTriggers()
	require.NoError(t, err)
	require.Equal(t, 1, list.Len())
	first, err := list.At(0)
	require.NoError(t, err)
	require.True(t, trigger.Equal(tr, first))
	list.Release()

	require.ErrorIs(t, bob.UnregisterTrigger(tr), types.ErrPermission)
	require.NoError(t, alice.UnregisterTrigger(tr))
	require.ErrorIs(t, alice.UnregisterTrigger(tr), types.ErrNotFound)
	require.Equal(t, 1, h.reg.Len())
}

func TestClient_InvalidTriggerSendsNothing(t *testing.T) {
	srvConn, cliConn := net.Pipe()
	defer srvConn.Close()
	c := NewClient(cliConn)
	defer c.Close()

	// Session name unset: serialization fails before any write, so the
	// unread pipe never blocks.
	bad := trigger.New(condition.NewSessionRotationOngoing(), &action.Notify{})
	_, err := c.RegisterTrigger(bad)
	require.ErrorIs(t, err, types.ErrInvalid)
}

func TestServer_Rejects(t *testing.T) {
	tests := []struct {
		name string
		req  []byte
		want Status
	}{
		{name: "unknown command", req: frame(99, nil), want: StatusUnsupported},
		{name: "garbage trigger", req: frame(byte(CommandRegisterTrigger), []byte{1, 2, 3}), want: StatusInvalid},
		{name: "list with body", req: frame(byte(CommandListTriggers), []byte{0}), want: StatusInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srvConn, cliConn := net.Pipe()
			defer cliConn.Close()
			srv := NewServer(&memHandler{reg: trigger.NewRegistry()}, ServerConfig{})
			go srv.ServeConn(context.Background(), srvConn)

			_, err := cliConn.Write(tt.req)
			require.NoError(t, err)
			tag, body, err := readFrame(cliConn, types.MaxMessageSize)
			require.NoError(t, err)
			require.Equal(t, tt.want, Status(int8(tag)))
			require.Empty(t, body)
		})
	}
}

func TestReadFrame(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		wantErr error
	}{
		{name: "empty", in: nil, wantErr: types.ErrClosed},
		{name: "short header", in: []byte{1, 0}, wantErr: nil},
		{name: "truncated body", in: frame(1, []byte("abc"))[:6], wantErr: types.ErrClosed},
		{name: "too large", in: frame(1, make([]byte, 16)), wantErr: types.ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := readFrame(bytes.NewReader(tt.in), 8)
			if err == nil {
				t.Fatalf("readFrame() error = nil, want failure")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("readFrame() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatus_RoundTrip(t *testing.T) {
	for _, err := range []error{
		types.ErrInvalid, types.ErrAlreadyExists, types.ErrNotFound,
		types.ErrPermission, types.ErrUnsupported,
	} {
		if got := StatusOf(fmt.Errorf("wrapped: %w", err)).Err(); !errors.Is(got, err) {
			t.Errorf("StatusOf(%v).Err() = %v", err, got)
		}
	}
	if got := StatusOf(types.ErrCorrupt); got != StatusInvalid {
		t.Errorf("StatusOf(ErrCorrupt) = %d, want %d", got, StatusInvalid)
	}
	if got := StatusOf(errors.New("x")).Err(); !errors.Is(got, ErrCommandFailed) {
		t.Errorf("generic failure maps to %v", got)
	}
}

func TestServe_UnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	h := &memHandler{reg: trigger.NewRegistry()}
	srv := NewServer(h, ServerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()
	c, err := Dial(dctx, path)
	require.NoError(t, err)

	_, err = c.RegisterTrigger(rotationTrigger(t, "s"))
	require.NoError(t, err)
	require.Equal(t, 1, h.reg.Len())

	cancel()
	require.NoError(t, <-served)
	_, err = c.ListTriggers()
	require.Error(t, err)
	require.NoError(t, c.Close())
}

func TestServeConn_ClosesWhenContextDone(t *testing.T) {
	tests := []struct {
		name        string
		cancelFirst bool
	}{
		{name: "accepted after shutdown", cancelFirst: true},
		{name: "shutdown while idle", cancelFirst: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&memHandler{reg: trigger.NewRegistry()}, ServerConfig{})
			srvConn, cliConn := net.Pipe()
			defer cliConn.Close()

			ctx, cancel := context.WithCancel(context.Background())
			if tt.cancelFirst {
				cancel()
			}
			done := make(chan struct{})
			go func() {
				srv.ServeConn(ctx, srvConn)
				close(done)
			}()
			cancel()

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("ServeConn did not return after context was done")
			}
			_, err := NewClient(cliConn).ListTriggers()
			require.Error(t, err)
		})
	}
}

func TestDial_NoSocket(t *testing.T) {
	_, err := Dial(context.Background(), "")
	require.ErrorIs(t, err, types.ErrInvalid)
}
