package auth

import (
	"errors"
	"fmt"

	"github.com/solatis/tracenotify/internal/types"
)

// Peer identification errors. ErrNotOwner wraps types.ErrPermission so
// control replies map it to a permission status.
var (
	ErrNotUnixSocket     = errors.New("peer credentials require a Unix socket")
	ErrNoPeerCredentials = errors.New("peer credentials unavailable")
	ErrNotOwner          = fmt.Errorf("%w: caller does not own the trigger", types.ErrPermission)
)
