// Package netx provides a nocopy-friendly Conn facade over stream.Socket:
// callers get a plain read/write/close surface for compatibility, but are
// steered toward Reader()/Writer() for zero-copy access.
package netx

import (
	"github.com/ioplex/aio/bufiox"
	"github.com/ioplex/aio/endpoint"
	"github.com/ioplex/aio/gridbuf"
	"github.com/ioplex/aio/stream"
)

var _ Conn = &conn{}

type Conn interface {
	// Read/Write/Close are provided for compatibility with code expecting a
	// plain io.ReadWriteCloser. NOT recommended to directly call these.
	// Instead, calling the Reader and Writer to implement higher-performance
	// user mode zero-copy read/writes.
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error

	// Reader returns bufiox.Reader for nocopy reading.
	Reader() bufiox.Reader
	// Writer returns bufiox.Writer for nocopy writing.
	Writer() bufiox.Writer

	// LocalAddr and RemoteAddr report the connection's bound/peer endpoint.
	LocalAddr() endpoint.Endpoint
	RemoteAddr() endpoint.Endpoint

	// WriteVectored writes bufs as a single scatter/gather operation.
	WriteVectored(bufs ...[]byte) (int, error)
	// ReadVectored reads into bufs as a single scatter/gather operation,
	// returning a gridbuf.ReadBuffer the caller uses to pull values back out
	// across chunk boundaries without copying. The caller must Free it.
	ReadVectored(bufs [][]byte) (*gridbuf.ReadBuffer, int, error)
}

type conn struct {
	sock *stream.Socket

	local, remote endpoint.Endpoint
	reader        bufiox.Reader
	writer        bufiox.Writer
}

func (c *conn) Read(p []byte) (int, error)  { return c.sock.Read(p) }
func (c *conn) Write(p []byte) (int, error) { return c.sock.Write(p) }
func (c *conn) Close() error                { return c.sock.Close() }

func (c *conn) Reader() bufiox.Reader { return c.reader }
func (c *conn) Writer() bufiox.Writer { return c.writer }

func (c *conn) LocalAddr() endpoint.Endpoint  { return c.local }
func (c *conn) RemoteAddr() endpoint.Endpoint { return c.remote }

// WriteVectored assembles bufs into a gridbuf.WriteBuffer's chunk list (no
// copying) and issues them as one writev/WSASend call.
func (c *conn) WriteVectored(bufs ...[]byte) (int, error) {
	wb := gridbuf.NewWriteBuffer()
	defer wb.Free()
	for _, b := range bufs {
		wb.WriteDirect(nil, b)
	}
	return c.sock.WriteV(wb.Bytes())
}

// ReadVectored issues one readv/WSARecv call filling bufs, then wraps bufs
// in a gridbuf.ReadBuffer so the caller can pull values out across chunk
// boundaries without an extra copy.
func (c *conn) ReadVectored(bufs [][]byte) (*gridbuf.ReadBuffer, int, error) {
	n, err := c.sock.ReadV(bufs)
	if err != nil {
		return nil, 0, err
	}
	return gridbuf.NewReadBuffer(bufs), n, nil
}

// Wrap builds a Conn around an already-connected sock, tagging it with the
// local/remote endpoints the caller already knows (from Bind/Connect or
// Accept), avoiding a redundant getsockname/getpeername round trip.
func Wrap(sock *stream.Socket, local, remote endpoint.Endpoint) Conn {
	return &conn{
		sock:   sock,
		local:  local,
		remote: remote,
		reader: bufiox.NewDefaultReader(sock),
		writer: bufiox.NewDefaultWriter(sock),
	}
}
