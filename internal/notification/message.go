package notification

import (
	"errors"
	"fmt"
	"io"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// MessageType tags a channel message.
type MessageType int8

const (
	MessageSubscribe           MessageType = 0
	MessageUnsubscribe         MessageType = 1
	MessageCommandReply        MessageType = 2
	MessageNotification        MessageType = 3
	MessageNotificationDropped MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageSubscribe:
		return "subscribe"
	case MessageUnsubscribe:
		return "unsubscribe"
	case MessageCommandReply:
		return "command reply"
	case MessageNotification:
		return "notification"
	case MessageNotificationDropped:
		return "notification dropped"
	default:
		return "unknown"
	}
}

// Status is the outcome carried by a command reply.
type Status int8

const (
	StatusOK                   Status = 0
	StatusNotificationsDropped Status = 1
	StatusError                Status = -1
	StatusClosed               Status = -2
	StatusAlreadySubscribed    Status = -3
	StatusUnknownCondition     Status = -4
	StatusInvalid              Status = -5
)

// Err maps a status to the error returned to callers; StatusOK maps to nil.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusNotificationsDropped:
		return ErrNotificationsDropped
	case StatusClosed:
		return types.ErrClosed
	case StatusAlreadySubscribed:
		return ErrAlreadySubscribed
	case StatusUnknownCondition:
		return ErrUnknownCondition
	case StatusInvalid:
		return types.ErrInvalid
	default:
		return ErrCommandFailed
	}
}

// StatusOf maps an error back to a reply status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrAlreadySubscribed):
		return StatusAlreadySubscribed
	case errors.Is(err, ErrUnknownCondition):
		return StatusUnknownCondition
	case errors.Is(err, types.ErrInvalid), errors.Is(err, types.ErrCorrupt):
		return StatusInvalid
	case errors.Is(err, types.ErrClosed):
		return StatusClosed
	default:
		return StatusError
	}
}

// headerSize is the packed size of {type i8, size u32}.
const headerSize = 1 + 4

// Message is one framed unit on the channel.
type Message struct {
	Type    MessageType
	Payload []byte
}

// Frame returns the wire form of a message.
func Frame(t MessageType, body []byte) []byte {
	p := payload.New()
	p.AppendI8(int8(t))
	p.AppendU32(uint32(len(body)))
	p.Append(body)
	return p.Bytes()
}

// WriteMessage writes one framed message.
func WriteMessage(w io.Writer, t MessageType, body []byte) error {
	if _, err := w.Write(Frame(t, body)); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return nil
}

// ReadMessage reads one framed message, accumulating short reads. A clean
// EOF before the header maps to types.ErrClosed; payloads above maxSize
// are rejected with types.ErrPayloadTooLarge before being read.
func ReadMessage(r io.Reader, maxSize int) (Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, types.ErrClosed
		}
		return Message{}, fmt.Errorf("read message header: %w", err)
	}

	hr := payload.NewReader(payload.FromBytes(hdr[:], 0, -1))
	t := MessageType(hr.I8())
	size := hr.U32()
	if int64(size) > int64(maxSize) {
		return Message{}, fmt.Errorf("%w: %s message of %d bytes, limit %d",
			types.ErrPayloadTooLarge, t, size, maxSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, fmt.Errorf("%w: truncated %s message", types.ErrClosed, t)
		}
		return Message{}, fmt.Errorf("read %s message: %w", t, err)
	}
	return Message{Type: t, Payload: body}, nil
}

// encodeReply builds a command reply payload.
func encodeReply(s Status) []byte {
	return []byte{byte(s)}
}

// decodeReply parses a command reply payload.
func decodeReply(b []byte) (Status, error) {
	r := payload.NewReader(payload.FromBytes(b, 0, -1))
	s := Status(r.I8())
	if err := r.Err(); err != nil {
		return StatusError, fmt.Errorf("decode reply: %w", err)
	}
	if r.Remaining() != 0 {
		return StatusError, fmt.Errorf("decode reply: %w: %d trailing bytes", types.ErrCorrupt, r.Remaining())
	}
	return s, nil
}
