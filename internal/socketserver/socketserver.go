// Package socketserver is the shared AF_UNIX/epoll listener used by both
// core-bus and the GG-IPC gateway (spec §4.5 "Socket server utility").
// It reaches past net.Listener for kernel-exact control over accept
// timeouts and epoll registration, the same posture the teacher corpus
// uses golang.org/x/sys/unix for CPU affinity and raw syscall access
// instead of higher-level stdlib wrappers.
package socketserver

import (
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gglite/corebus"
	"github.com/gglite/corebus/internal/logging"
)

// listenerToken is the epoll data value used for the listening fd,
// distinguishable from any client token (<= math.MaxUint32, spec §4.5
// "Invariants: data = u64::MAX for the listener").
const listenerToken uint64 = math.MaxUint64

// maxEvents bounds the preallocated epoll event buffer so the dispatch
// loop makes no allocation on its steady-state path (spec §4.5 "No heap
// allocation on the hot path").
const maxEvents = 64

// RegisterClientFunc assigns a caller-managed token to a newly accepted
// client fd. Returning ok=false rejects the connection (e.g. table full).
type RegisterClientFunc func(fd int) (token uint32, ok bool)

// ReleaseClientFunc is called when a client fd should be torn down,
// either because DataReadyFunc returned an error or epoll reported a
// hangup. It must return the fd so the server can close it.
type ReleaseClientFunc func(token uint32) (fd int)

// DataReadyFunc is invoked when a client fd has data to read. A non-nil
// error causes the server to call ReleaseClientFunc and close the fd.
type DataReadyFunc func(token uint32) error

// Callbacks bundles the three caller-supplied hooks from spec §4.5's
// `socket_server_listen` contract.
type Callbacks struct {
	RegisterClient RegisterClientFunc
	ReleaseClient  ReleaseClientFunc
	DataReady      DataReadyFunc
}

// Server owns one AF_UNIX listener and its single-threaded epoll loop.
type Server struct {
	path     string
	epollFd  int
	listenFd int
	cb       Callbacks
	log      *logging.Logger
}

// Listen creates path's parent directories, unlinks any stale socket
// file, binds and listens (backlog 20, spec §6.1/§4.5), and attaches the
// listener to a fresh epoll instance. It does not yet block; call Serve
// to run the event loop.
func Listen(path string, cb Callbacks, log *logging.Logger) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, corebus.WrapError("socketserver.listen", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, corebus.WrapError("socketserver.listen", err)
	}

	listenFd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, corebus.WrapError("socketserver.listen", err)
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(listenFd, addr); err != nil {
		unix.Close(listenFd)
		return nil, corebus.WrapError("socketserver.listen", err)
	}
	if err := os.Chmod(path, 0o660); err != nil {
		unix.Close(listenFd)
		return nil, corebus.WrapError("socketserver.listen", err)
	}
	if err := unix.Listen(listenFd, corebus.ListenBacklog); err != nil {
		unix.Close(listenFd)
		return nil, corebus.WrapError("socketserver.listen", err)
	}

	epollFd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(listenFd)
		return nil, corebus.WrapError("socketserver.listen", err)
	}

	if err := registerFd(epollFd, listenFd, listenerToken, unix.EPOLLIN); err != nil {
		unix.Close(epollFd)
		unix.Close(listenFd)
		return nil, corebus.WrapError("socketserver.listen", err)
	}

	if log == nil {
		log = logging.Default()
	}

	return &Server{path: path, epollFd: epollFd, listenFd: listenFd, cb: cb, log: log}, nil
}

// Serve runs the single-threaded epoll dispatch loop. It returns only on
// an unrecoverable epoll error.
func (s *Server) Serve() error {
	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(s.epollFd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return corebus.WrapError("socketserver.serve", err)
		}

		for i := 0; i < n; i++ {
			token := decodeToken(events[i])
			if token == listenerToken {
				s.acceptOne()
				continue
			}
			s.dispatch(uint32(token), events[i].Events)
		}
	}
}

func (s *Server) acceptOne() {
	connFd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK)
	if err != nil {
		s.log.Warn("accept failed", "error", err)
		return
	}

	timeout := unix.Timeval{Sec: int64(corebus.CallTimeout / time.Second)}
	_ = unix.SetsockoptTimeval(connFd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &timeout)
	_ = unix.SetsockoptTimeval(connFd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &timeout)

	token, ok := s.cb.RegisterClient(connFd)
	if !ok {
		unix.Close(connFd)
		return
	}

	if err := registerFd(s.epollFd, connFd, uint64(token), unix.EPOLLIN); err != nil {
		s.log.Warn("epoll_ctl add failed", "error", err)
		if fd := s.cb.ReleaseClient(token); fd > 0 {
			unix.Close(fd)
		}
	}
}

func (s *Server) dispatch(token uint32, events uint32) {
	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		s.closeClient(token)
		return
	}
	if err := s.cb.DataReady(token); err != nil {
		s.closeClient(token)
	}
}

func (s *Server) closeClient(token uint32) {
	fd := s.cb.ReleaseClient(token)
	if fd > 0 {
		unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_DEL, fd, nil) //nolint:errcheck
		unix.Close(fd)
	}
}

// Close tears down the listener and epoll instance.
func (s *Server) Close() error {
	unix.Close(s.listenFd)
	return unix.Close(s.epollFd)
}

// registerFd adds fd to epoll with the given token encoded into the
// event's 64-bit data field.
func registerFd(epollFd, fd int, token uint64, events uint32) error {
	event := unix.EpollEvent{Events: events}
	encodeToken(&event, token)
	return unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, fd, &event)
}
