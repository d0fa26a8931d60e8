// Package corebus implements the core-bus RPC verbs (spec §4.2): Notify,
// Call, Subscribe, and their server-side counterparts, atop
// internal/socketserver's shared epoll listener and internal/wire's TLV
// codec. Naming and struct shape follow the teacher corpus's Device/
// DeviceParams/Options layering in backend.go, generalized from a single
// block-storage backend to a table of named method handlers.
package corebus

import (
	"path/filepath"
	"sync"

	cb "github.com/gglite/corebus"
	"github.com/gglite/corebus/internal/logging"
	"github.com/gglite/corebus/internal/socketserver"
	"github.com/gglite/corebus/internal/wire"
)

// HandlerFunc serves one Notify/Call/Subscribe request. It must call
// exactly one of Request.Respond, Request.ReturnErr, or (for subscription
// methods) Request.SubAccept followed by any number of Subscription.Send
// calls from any goroutine, per spec §4.2 "Interfaces".
type HandlerFunc func(req *Request)

// Handler registers one method name on an interface (spec §4.2
// "listen(interface, handlers: &[{name, is_subscription, handler_fn,
// ctx}])").
type Handler struct {
	Name           string
	IsSubscription bool
	Fn             HandlerFunc
}

// Server is one core-bus interface's listener.
type Server struct {
	iface    string
	handlers map[string]Handler
	metrics  *cb.Metrics
	log      *logging.Logger

	srv *socketserver.Server

	mu    sync.Mutex
	conns map[uint32]*serverConn
	subH  *cb.HandleTable // server-side subscription handles
}

// ServerOption configures optional Listen behavior.
type ServerOption func(*Server)

// WithMetrics attaches an existing Metrics instance instead of allocating
// a fresh one.
func WithMetrics(m *cb.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithLogger attaches a logger; defaults to logging.Default().
func WithLogger(l *logging.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// Listen binds {socketDir}/{iface} (spec §4.2 "Connection model": "The
// server binds AF_UNIX/SOCK_STREAM at {socket_dir}/{interface}") and
// registers handlers by method name. It does not block; call Serve to run
// the event loop.
func Listen(socketDir, iface string, handlers []Handler, opts ...ServerOption) (*Server, error) {
	s := &Server{
		iface:    iface,
		handlers: make(map[string]Handler, len(handlers)),
		metrics:  cb.NewMetrics(),
		log:      logging.Default(),
		conns:    make(map[uint32]*serverConn),
		subH:     cb.NewHandleTable(cb.MaxClientSubscriptions),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, h := range handlers {
		s.handlers[h.Name] = h
	}

	path := filepath.Join(socketDir, iface)
	cbs := socketserver.Callbacks{
		RegisterClient: s.registerClient,
		ReleaseClient:  s.releaseClient,
		DataReady:      s.dataReady,
	}
	srv, err := socketserver.Listen(path, cbs, s.log)
	if err != nil {
		return nil, cb.WrapError("corebus.listen", err)
	}
	s.srv = srv
	return s, nil
}

// Serve runs the server's epoll loop forever (spec §4.2 "Runs forever").
func (s *Server) Serve() error {
	return s.srv.Serve()
}

// Close tears down the listener and all open connections.
func (s *Server) Close() error {
	return s.srv.Close()
}

// Metrics returns the server's metrics instance.
func (s *Server) Metrics() *cb.Metrics { return s.metrics }

// registerClient assigns connection tokens; the fixed table size
// matches GGL_COREBUS_MAX_CLIENTS (spec §4.2 "A fixed table of
// GGL_COREBUS_MAX_CLIENTS entries... Overflow: new client is closed
// immediately").
func (s *Server) registerClient(fd int) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) >= cb.MaxClients {
		s.metrics.RecordClientRejected()
		return 0, false
	}
	token := uint32(len(s.conns) + 1)
	for {
		if _, exists := s.conns[token]; !exists {
			break
		}
		token++
	}
	s.conns[token] = newServerConn(token, fd)
	s.metrics.RecordConnect(true)
	return token, true
}

func (s *Server) releaseClient(token uint32) int {
	s.mu.Lock()
	conn, ok := s.conns[token]
	delete(s.conns, token)
	s.mu.Unlock()
	if !ok {
		return -1
	}

	conn.subsMu.Lock()
	for handle, sub := range conn.subs {
		sub.markClosed()
		if sub.onClose != nil {
			sub.onClose()
		}
		s.subH.Release(handle)
	}
	conn.subsMu.Unlock()

	return conn.fd
}

func (s *Server) dataReady(token uint32) error {
	s.mu.Lock()
	conn, ok := s.conns[token]
	s.mu.Unlock()
	if !ok {
		return cb.NewError("corebus.data_ready", cb.Invalid, "unknown connection token")
	}

	if closed := conn.drainNonBlocking(); closed {
		return cb.NewError("corebus.data_ready", cb.NoConn, "peer closed")
	}

	for {
		msg, ok := conn.nextMessage()
		if !ok {
			return nil
		}
		if err := s.handleMessage(conn, msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(conn *serverConn, msg []byte) error {
	kind, method, params, rest, err := wire.DecodeFrame(msg, conn.arena)
	if err != nil || len(rest) != 0 {
		// Spec §4.2 "Failure semantics": parse failure -> return_err(Parse)
		// and close the connection. There is no request handle to reply on
		// (the prelude itself didn't parse), so the connection is simply
		// torn down.
		return cb.NewError("corebus.handle_message", cb.Parse, "malformed request frame")
	}

	h, ok := s.handlers[method]
	if !ok {
		if kind == wire.KindCall || kind == wire.KindSubscribe {
			resp, _ := wire.EncodeResponse(wire.RespErr, cb.Null, cb.NoEntry)
			_ = conn.writeMessage(resp)
		}
		s.log.Warn("no handler registered", "method", method, "interface", s.iface)
		return nil
	}

	switch kind {
	case wire.KindNotify:
		s.metrics.RecordNotify()
		req := &Request{kind: kind, Method: method, Params: params, conn: conn, srv: s}
		h.Fn(req)
	case wire.KindCall:
		req := &Request{kind: kind, Method: method, Params: params, conn: conn, srv: s}
		h.Fn(req)
	case wire.KindSubscribe:
		s.metrics.RecordSubscribe()
		handle := s.subH.Alloc(nil)
		if handle == 0 {
			resp, _ := wire.EncodeResponse(wire.RespErr, cb.Null, cb.Nomem)
			_ = conn.writeMessage(resp)
			return nil
		}
		req := &Request{kind: kind, Method: method, Params: params, conn: conn, srv: s, handle: handle}
		h.Fn(req)
	case wire.KindSubClose:
		s.clientSubClose(conn, params)
	default:
		return cb.NewError("corebus.handle_message", cb.Parse, "unknown frame kind")
	}
	return nil
}

// clientSubClose handles a client-initiated subscription close frame
// (spec §4.2 "Close protocol": "Client-initiated close on a subscription:
// the client writes a distinguished close frame; server runs on_close,
// releases slot, closes fd" -- the fd itself stays open here since other
// subscriptions/calls may still be live on the same connection; only the
// named subscription handle is released).
func (s *Server) clientSubClose(conn *serverConn, params cb.Map) {
	handleObj, ok := cb.MapGet(params, cb.BufferFromString("handle"))
	if !ok || cb.ObjType(handleObj) != cb.TypeI64 {
		return
	}
	handle := uint32(cb.AsI64(handleObj))

	conn.subsMu.Lock()
	sub, ok := conn.subs[handle]
	delete(conn.subs, handle)
	conn.subsMu.Unlock()
	if !ok {
		return
	}

	sub.markClosed()
	if sub.onClose != nil {
		sub.onClose()
	}
	s.subH.Release(handle)
}

// Request is handed to a HandlerFunc for exactly one Notify/Call/Subscribe
// invocation.
type Request struct {
	kind   wire.Kind
	Method string
	Params cb.Map

	conn   *serverConn
	srv    *Server
	handle uint32 // valid only when kind == KindSubscribe, pre-SubAccept
}

// Respond sends an OK response to a Call (spec §4.2 "respond(handle,
// obj)"). Calling it on a Notify request is a no-op since Notify has no
// response path.
func (r *Request) Respond(obj cb.Object) error {
	if r.kind != wire.KindCall {
		return nil
	}
	resp, err := wire.EncodeResponse(wire.RespOK, obj, cb.Ok)
	if err != nil {
		return cb.WrapError("corebus.respond", err)
	}
	r.srv.metrics.RecordCall(0, true)
	return r.conn.writeMessage(resp)
}

// ReturnErr sends an error response to a Call (spec §4.2
// "return_err(handle, code)").
func (r *Request) ReturnErr(code cb.Code, msg string) error {
	if r.kind != wire.KindCall {
		return nil
	}
	resp, err := wire.EncodeResponse(wire.RespErr, cb.Null, code)
	if err != nil {
		return cb.WrapError("corebus.return_err", err)
	}
	r.srv.metrics.RecordCall(0, false)
	if msg != "" {
		r.srv.log.Debug("handler returned error", "method", r.Method, "code", code.String(), "msg", msg)
	}
	return r.conn.writeMessage(resp)
}

// SubAccept transitions a Subscribe request into an accepted subscription
// (spec §4.2 "sub_accept transitions the handle to subscribed, registers
// an on_close callback"). It must be called at most once per request.
func (r *Request) SubAccept(onClose func()) (*Subscription, error) {
	if r.kind != wire.KindSubscribe {
		return nil, cb.NewError("corebus.sub_accept", cb.Invalid, "not a subscription request")
	}
	resp, err := wire.EncodeResponse(wire.RespAccept, cb.Null, cb.Ok)
	if err != nil {
		return nil, cb.WrapError("corebus.sub_accept", err)
	}
	if err := r.conn.writeMessage(resp); err != nil {
		return nil, cb.WrapError("corebus.sub_accept", err)
	}

	sub := &Subscription{handle: r.handle, conn: r.conn, srv: r.srv, onClose: onClose}
	r.conn.subsMu.Lock()
	r.conn.subs[r.handle] = sub
	r.conn.subsMu.Unlock()
	r.srv.metrics.RecordStreamOpen()
	return sub, nil
}

// Subscription is a first-class server-side handle to an accepted
// subscription stream (spec §4.2 "A subscription handle is a first-class
// object").
type Subscription struct {
	handle  uint32
	conn    *serverConn
	srv     *Server
	onClose func()

	mu     sync.Mutex
	closed bool
}

// Send encodes and delivers one object frame to the subscriber (spec
// §4.2 "sub_respond(handle, obj)... may be called from any thread;
// serialized via a per-connection send mutex"). Backpressure: if the
// socket send buffer is full, the message is dropped and a Warn is
// logged rather than blocking the caller (spec §4.2 "Backpressure").
func (s *Subscription) Send(obj cb.Object) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return cb.NewError("corebus.sub_respond", cb.NoConn, "subscription closed")
	}

	resp, err := wire.EncodeResponse(wire.RespOK, obj, cb.Ok)
	if err != nil {
		return cb.WrapError("corebus.sub_respond", err)
	}

	dropped, werr := s.conn.writeMessageNonBlocking(resp)
	if werr != nil {
		return cb.WrapError("corebus.sub_respond", werr)
	}
	if dropped {
		s.srv.metrics.RecordSubscribeDrop()
		s.srv.log.Warn("subscription send buffer full, dropping message", "handle", s.handle)
	}
	return nil
}

// Close performs a server-initiated close (spec §4.2 "Close protocol":
// "Server-initiated close: emits a zero-length final frame... client's
// on_close_callback fires; the client sub handle is no longer valid").
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	resp, _ := wire.EncodeResponse(wire.RespClose, cb.Null, cb.Ok)
	err := s.conn.writeMessage(resp)

	s.conn.subsMu.Lock()
	delete(s.conn.subs, s.handle)
	s.conn.subsMu.Unlock()
	s.srv.subH.Release(s.handle)
	s.srv.metrics.RecordStreamClose()
	return err
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
