// Package handle implements the RAII-style kernel-resource-id owner that
// every File, Pipe and Socket in package stream is built on.
package handle

import (
	"sync/atomic"

	"github.com/ioplex/aio/aioerr"
)

// InvalidID is the sentinel id. Destroying a Handle whose id equals
// InvalidID is a no-op.
const InvalidID int64 = -1

// Closer releases a raw resource id. Implementations are platform-specific
// (POSIX close(2), Windows CloseHandle/closesocket).
type Closer func(id int64) error

// Handle exclusively owns a resource id of kind T (a phantom type — T is
// never stored, only used to keep, say, Handle[FileID] and Handle[SocketID]
// from being confused at compile time). At most one Handle owns a given id;
// copying a Handle is a programming error this package cannot prevent in Go
// (there's no move-only type), so callers must treat a Handle as move-only by
// convention: pass pointers, never copy the struct by value after Make.
type Handle[T any] struct {
	id     int64
	closer Closer
	closed atomic.Bool
}

// Make takes ownership of id, to be released by closer exactly once.
func Make[T any](id int64, closer Closer) *Handle[T] {
	return &Handle[T]{id: id, closer: closer}
}

// ID borrows the id for the lifetime of h. The caller must never close the
// returned id directly.
func (h *Handle[T]) ID() int64 {
	return h.id
}

// Valid reports whether h still owns a live id.
func (h *Handle[T]) Valid() bool {
	return !h.closed.Load()
}

// Take yields the id and invalidates h without releasing it. The caller
// becomes responsible for the id's lifetime. A sentinel handle has no real
// id to hand over, so Take is a no-op that always returns InvalidID.
func (h *Handle[T]) Take() int64 {
	if h.id == InvalidID {
		return InvalidID
	}
	if h.closed.Swap(true) {
		return InvalidID
	}
	return h.id
}

// Close releases the id immediately and invalidates h. A sentinel handle
// (id == InvalidID) never owned a live resource, so Close on one is always
// a no-op, no matter how many times it's called. Calling Close on an
// already-closed or already-taken non-sentinel Handle is a programmer
// error.
func (h *Handle[T]) Close() error {
	if h.id == InvalidID {
		return nil
	}
	if h.closed.Swap(true) {
		return &aioerr.ClosedHandleDefect{Detail: "Close called on an already-closed handle"}
	}
	return h.closer(h.id)
}

// Release is the destructor-equivalent: best-effort close that swallows
// double-close, matching the "destructors never panic" rule for resources
// reached only from a defer. It is the right call in defer statements;
// Close is the right call when the caller wants to observe failures.
func (h *Handle[T]) Release() {
	if h.id == InvalidID {
		return
	}
	if h.closed.Swap(true) {
		return
	}
	_ = h.closer(h.id)
}
