package registry

import (
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"github.com/solatis/tracenotify/internal/types"
)

// TraceChunk is a trace chunk shared by every consumer of one session
// daemon. Anonymous chunks have no ID.
type TraceChunk struct {
	SessionID      types.SessionID
	ID             *types.ChunkID
	TimestampBegin uint64
	BasePath       string
	HostPath       string
	SessionPath    string
}

// Path returns the chunk's output directory relative to the output root.
func (c *TraceChunk) Path() string {
	if c.ID == nil {
		return c.BasePath
	}
	return c.BasePath + "/" + c.HostPath + "/" + c.SessionPath + "/" + strconv.FormatUint(uint64(*c.ID), 10)
}

type chunkKey struct {
	sessionID types.SessionID
	chunkID   types.ChunkID
	anonymous bool
}

func hashChunkKey(k chunkKey) uint64 {
	var b [17]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(k.sessionID >> (8 * i))
		b[8+i] = byte(k.chunkID >> (8 * i))
	}
	if k.anonymous {
		b[16] = 1
	}
	return xxh3.Hash(b[:])
}

// Chunk is a reference to a registered trace chunk.
type Chunk = Entry[chunkKey, *TraceChunk]

// SessiondTraceChunkRegistry groups trace chunks by the session daemon
// that owns them. Each session daemon gets a chunk registry the first time
// one of its sessions is created; it is torn down when the last session
// and the last lookup reference are gone.
type SessiondTraceChunkRegistry struct {
	sessionds *Registry[types.SessiondID, *Registry[chunkKey, *TraceChunk]]
	log       *log.Entry
}

// NewSessiondTraceChunkRegistry returns an empty registry.
func NewSessiondTraceChunkRegistry(logger *log.Entry) *SessiondTraceChunkRegistry {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	r := &SessiondTraceChunkRegistry{log: logger}
	r.sessionds = New(HashUUID, func(id types.SessiondID, _ *Registry[chunkKey, *TraceChunk]) {
		r.log.WithField("sessiond", id.String()).Debug("destroyed trace chunk registry")
	})
	return r
}

// SessionCreated records a session of the given session daemon, creating
// its chunk registry on first use. The session holds one reference until
// SessionDestroyed.
func (r *SessiondTraceChunkRegistry) SessionCreated(id types.SessiondID) error {
	_, created, err := r.sessionds.FindOrCreate(id, func() (*Registry[chunkKey, *TraceChunk], error) {
		return New[chunkKey, *TraceChunk](hashChunkKey, nil), nil
	})
	if err != nil {
		return fmt.Errorf("create trace chunk registry of sessiond %s: %w", id, err)
	}
	entry := r.log.WithField("sessiond", id.String())
	if created {
		entry.Debug("created trace chunk registry")
	} else {
		entry.Debug("acquired reference to trace chunk registry")
	}
	return nil
}

// SessionDestroyed drops the reference taken by SessionCreated.
func (r *SessiondTraceChunkRegistry) SessionDestroyed(id types.SessiondID) error {
	e, ok := r.sessionds.Find(id)
	if !ok {
		return fmt.Errorf("%w: trace chunk registry of sessiond %s", types.ErrNotFound, id)
	}
	// One reference for the session, one for the lookup.
	e.Release()
	e.Release()
	return nil
}

// GetChunk returns the chunk (sessionID, chunkID) of the session daemon,
// creating it on first reference. The caller must Release it.
func (r *SessiondTraceChunkRegistry) GetChunk(id types.SessiondID, chunk TraceChunk) (*Chunk, error) {
	if chunk.ID == nil {
		return nil, fmt.Errorf("%w: chunk has no ID", types.ErrInvalid)
	}
	return r.getChunk(id, chunkKey{sessionID: chunk.SessionID, chunkID: *chunk.ID}, chunk)
}

// GetAnonymousChunk returns the session's anonymous chunk rooted at
// basePath, creating it on first reference. The caller must Release it.
func (r *SessiondTraceChunkRegistry) GetAnonymousChunk(id types.SessiondID, sessionID types.SessionID, basePath string) (*Chunk, error) {
	return r.getChunk(id, chunkKey{sessionID: sessionID, anonymous: true},
		TraceChunk{SessionID: sessionID, BasePath: basePath})
}

func (r *SessiondTraceChunkRegistry) getChunk(id types.SessiondID, key chunkKey, proto TraceChunk) (*Chunk, error) {
	e, ok := r.sessionds.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: trace chunk registry of sessiond %s", types.ErrNotFound, id)
	}
	defer e.Release()

	c, _, err := e.Value().FindOrCreate(key, func() (*TraceChunk, error) {
		chunk := proto
		return &chunk, nil
	})
	return c, err
}

// Sessionds returns the number of session daemons with a live registry.
func (r *SessiondTraceChunkRegistry) Sessionds() int {
	return r.sessionds.Len()
}
