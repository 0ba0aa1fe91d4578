package iouring

import (
	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/cont"
)

// Read submits an io_uring readv and returns a Future for its result. This
// is the opt-in Linux bulk-transfer fast path: stream.File falls back to
// the epoll Queue for ordinary reads and only reaches for this path when
// the caller opts in via stream.WithIOUring.
func (evl *IOUringEventLoop) Read(fd int32, bufs ...[]byte) cont.Future[int32] {
	ud := userDataPoolGet()
	ud.SetReadOp(fd, bufs...)
	return evl.ring.submitFuture(ud)
}

// Write submits an io_uring writev and returns a Future for its result.
func (evl *IOUringEventLoop) Write(fd int32, bufs ...[]byte) cont.Future[int32] {
	ud := userDataPoolGet()
	ud.SetWriteOp(fd, bufs...)
	return evl.ring.submitFuture(ud)
}

func (r *ring) submitFuture(ud *userData) cont.Future[int32] {
	r.sqeChan <- ud

	var resume func(w cont.Waker) cont.Future[int32]
	resume = func(w cont.Waker) cont.Future[int32] {
		res, ok := ud.armWaker(w)
		if !ok {
			return cont.Pending(cont.Continuation[int32]{Resume: resume})
		}
		userDataPoolPut(ud)
		if res < 0 {
			return cont.Errored[int32](&aioerr.IOError{BytesTransferred: 0, Code: int(-res), Message: "io_uring operation failed"})
		}
		return cont.Resolved(res)
	}
	return cont.Pending(cont.Continuation[int32]{Resume: resume})
}
