package corebus

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	cb "github.com/gglite/corebus"
	"github.com/gglite/corebus/internal/queue"
	"github.com/gglite/corebus/internal/wire"
)

// serverConn tracks per-client state for one accepted core-bus connection.
// Reads happen only from the single epoll dispatch loop (spec §4.2
// "Connection model": "epoll with a single event loop per server process
// drives all connections"), so readBuf needs no lock; writes can be
// triggered from any goroutine that holds a subscription handle, so they
// go through sendMu (spec §4.2 "Subscription fan-out": "serialized via a
// per-connection send mutex").
type serverConn struct {
	token   uint32
	fd      int
	readBuf []byte

	sendMu sync.Mutex

	arena *cb.Arena

	subs   map[uint32]*Subscription // server-side sub handle -> subscription
	subsMu sync.Mutex
}

func newServerConn(token uint32, fd int) *serverConn {
	return &serverConn{
		token: token,
		fd:    fd,
		arena: cb.NewArena(make([]byte, 64*1024)),
		subs:  make(map[uint32]*Subscription),
	}
}

// drainNonBlocking reads whatever is immediately available on fd into
// readBuf without blocking the epoll loop. io.EOF-equivalent (n==0, no
// error) and ECONNRESET are both treated as peer-closed (spec §4.2 "Crash
// safety: any fd read error is treated as close").
func (c *serverConn) drainNonBlocking() (closed bool) {
	buf := queue.GetBuffer(16 * 1024)
	defer queue.PutBuffer(buf)
	for {
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			c.readBuf = append(c.readBuf, buf[:n]...)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return false
			}
			if err == unix.EINTR {
				continue
			}
			return true
		}
		if n == 0 {
			return true
		}
		if n < len(buf) {
			// Short non-blocking read: socket buffer drained for now.
			return false
		}
	}
}

// nextMessage pulls one complete length-prefixed message off readBuf, if
// one is fully buffered.
func (c *serverConn) nextMessage() ([]byte, bool) {
	payload, rest, ok := wire.TryReadMessage(c.readBuf)
	if !ok {
		return nil, false
	}
	msg := append([]byte(nil), payload...)
	c.readBuf = rest
	return msg, true
}

// writeMessage performs a blocking write of a fully length-prefixed
// message, serialized against concurrent writers of this connection.
func (c *serverConn) writeMessage(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return writeAllBlocking(c.fd, mustFrameMessage(payload))
}

// writeMessageNonBlocking attempts a single non-blocking write, dropping
// the message on EAGAIN rather than stalling (spec §4.2 "Backpressure:
// the send buffer is bounded; if full, sub_respond drops the message and
// logs at Warn").
func (c *serverConn) writeMessageNonBlocking(payload []byte) (dropped bool, err error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	framed := mustFrameMessage(payload)
	n, werr := unix.Write(c.fd, framed)
	if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
		return true, nil
	}
	if werr != nil {
		return false, werr
	}
	if n < len(framed) {
		// Partial non-blocking write: finish with a blocking write of the
		// remainder rather than leaving the stream corrupted.
		if err := writeAllBlocking(c.fd, framed[n:]); err != nil {
			return false, err
		}
	}
	return false, nil
}

func mustFrameMessage(payload []byte) []byte {
	var buf []byte
	w := &sliceWriter{buf: &buf}
	_ = wire.WriteMessage(w, payload)
	return buf
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// writeAllBlocking writes buf in full over a non-blocking fd (core-bus
// client fds are always accepted with SOCK_NONBLOCK), retrying briefly on
// EAGAIN. Per spec §4.2 "Write failures on responses are silently
// dropped (peer has gone away)" a write that still can't proceed after
// the retry budget is abandoned rather than blocking the caller
// indefinitely.
func writeAllBlocking(fd int, buf []byte) error {
	const maxEagainRetries = 200
	retries := 0
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				retries++
				if retries > maxEagainRetries {
					return cb.NewError("corebus.write", cb.NoConn, "peer not accepting writes")
				}
				time.Sleep(time.Millisecond)
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}
