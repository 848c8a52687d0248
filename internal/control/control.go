// internal/control/control.go
package control

import (
	"errors"
	"fmt"
	"io"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Control socket protocol.
 *
 * Clients manage triggers over a Unix stream socket, one request at a time:
 *
 *   request: {command u8, size u32} + payload
 *   reply:   {status i8, size u32} + payload
 *
 *   RegisterTrigger    payload: trigger   reply: trigger with its name
 *   UnregisterTrigger  payload: trigger   reply: empty
 *   ListTriggers       payload: empty     reply: trigger collection
 *
 * The daemon identifies the caller from the socket's peer credentials; the
 * payload never carries them.
 */

// Command tags a control request.
type Command uint8

const (
	CommandRegisterTrigger   Command = 1
	CommandUnregisterTrigger Command = 2
	CommandListTriggers      Command = 3
)

func (c Command) String() string {
	switch c {
	case CommandRegisterTrigger:
		return "register trigger"
	case CommandUnregisterTrigger:
		return "unregister trigger"
	case CommandListTriggers:
		return "list triggers"
	default:
		return "unknown"
	}
}

// Status is the outcome carried by a control reply.
type Status int8

const (
	StatusOK            Status = 0
	StatusError         Status = -1
	StatusInvalid       Status = -2
	StatusAlreadyExists Status = -3
	StatusNotFound      Status = -4
	StatusPermission    Status = -5
	StatusUnsupported   Status = -6
)

// ErrCommandFailed is returned for a generic daemon-side failure.
var ErrCommandFailed = errors.New("control command failed")

// Err maps a status to the error returned to callers; StatusOK maps to nil.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusInvalid:
		return types.ErrInvalid
	case StatusAlreadyExists:
		return types.ErrAlreadyExists
	case StatusNotFound:
		return types.ErrNotFound
	case StatusPermission:
		return types.ErrPermission
	case StatusUnsupported:
		return types.ErrUnsupported
	default:
		return ErrCommandFailed
	}
}

// StatusOf maps a handler error to a reply status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, types.ErrInvalid), errors.Is(err, types.ErrCorrupt):
		return StatusInvalid
	case errors.Is(err, types.ErrAlreadyExists):
		return StatusAlreadyExists
	case errors.Is(err, types.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, types.ErrPermission):
		return StatusPermission
	case errors.Is(err, types.ErrUnsupported):
		return StatusUnsupported
	default:
		return StatusError
	}
}

// headerSize is the packed size of {tag 1 byte, size u32}.
const headerSize = 1 + 4

func frame(tag byte, body []byte) []byte {
	p := payload.New()
	p.AppendU8(tag)
	p.AppendU32(uint32(len(body)))
	p.Append(body)
	return p.Bytes()
}

// readFrame reads one request or reply. EOF before the header maps to
// types.ErrClosed.
func readFrame(r io.Reader, maxSize int) (byte, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, types.ErrClosed
		}
		return 0, nil, fmt.Errorf("read control header: %w", err)
	}

	hr := payload.NewReader(payload.FromBytes(hdr[:], 0, -1))
	tag := hr.U8()
	size := hr.U32()
	if int64(size) > int64(maxSize) {
		return 0, nil, fmt.Errorf("%w: control message of %d bytes, limit %d",
			types.ErrPayloadTooLarge, size, maxSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("%w: truncated control message", types.ErrClosed)
		}
		return 0, nil, fmt.Errorf("read control message: %w", err)
	}
	return tag, body, nil
}
