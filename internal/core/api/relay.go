package api

import (
	"context"
	"fmt"

	"github.com/solatis/tracenotify/internal/location"
	"github.com/solatis/tracenotify/internal/registry"
	"github.com/solatis/tracenotify/internal/types"
)

// SessionCreated records a session of the given session daemon so its
// trace chunks can be shared.
func (s *Service) SessionCreated(sessiond types.SessiondID) error {
	return s.chunks.SessionCreated(sessiond)
}

// SessionDestroyed drops the reference SessionCreated took.
func (s *Service) SessionDestroyed(sessiond types.SessiondID) error {
	return s.chunks.SessionDestroyed(sessiond)
}

// Chunk returns the shared trace chunk of a session daemon, creating it on
// first use. The caller must Release it.
func (s *Service) Chunk(sessiond types.SessiondID, chunk registry.TraceChunk) (*registry.Chunk, error) {
	if chunk.ID == nil {
		return s.chunks.GetAnonymousChunk(sessiond, chunk.SessionID, chunk.BasePath)
	}
	return s.chunks.GetChunk(sessiond, chunk)
}

// ChunkArchived reports that a rotation closed chunk and fires the
// session's rotation-completed triggers with the chunk's directory as the
// archive location.
func (s *Service) ChunkArchived(ctx context.Context, sessiond types.SessiondID, sessionName string,
	chunk registry.TraceChunk, rotationID uint64) (int, error) {
	c, err := s.Chunk(sessiond, chunk)
	if err != nil {
		return 0, fmt.Errorf("archive chunk of session %q: %w", sessionName, err)
	}
	defer c.Release()

	loc := &location.Local{AbsolutePath: c.Value().Path()}
	return s.ReportRotationCompleted(ctx, sessionName, rotationID, loc)
}
