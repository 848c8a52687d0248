package registry

import (
	"io"

	"go.uber.org/atomic"
)

// IndexFile is a reference-counted handle on an open index file. The
// underlying file closes when the last reference is dropped.
type IndexFile struct {
	f    io.Closer
	refs atomic.Int64
}

// NewIndexFile wraps f with one reference.
func NewIndexFile(f io.Closer) *IndexFile {
	h := &IndexFile{f: f}
	h.refs.Store(1)
	return h
}

// File returns the wrapped file.
func (h *IndexFile) File() io.Closer { return h.f }

// Get acquires a reference.
func (h *IndexFile) Get() *IndexFile {
	h.refs.Inc()
	return h
}

// Put drops a reference and closes the file on the last one, returning the
// close error.
func (h *IndexFile) Put() error {
	n := h.refs.Dec()
	if n < 0 {
		panic("registry: index file reference count underflow")
	}
	if n > 0 {
		return nil
	}
	return h.f.Close()
}
