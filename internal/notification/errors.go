package notification

import "errors"

// Client-visible outcomes beyond the shared sentinels in internal/types.
// ErrNotificationsDropped is a flow-control signal, not a failure: the
// channel stays usable.
var (
	ErrNotificationsDropped = errors.New("notifications dropped")
	ErrAlreadySubscribed    = errors.New("already subscribed to condition")
	ErrUnknownCondition     = errors.New("not subscribed to condition")
	ErrCommandFailed        = errors.New("daemon failed to process command")
)
