package gwipc

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	cb "github.com/gglite/corebus"
	"github.com/gglite/corebus/internal/auth"
	cbrt "github.com/gglite/corebus/internal/corebus"
	"github.com/gglite/corebus/internal/eventstream"
	"github.com/gglite/corebus/internal/logging"
	"github.com/gglite/corebus/internal/queue"
	"github.com/gglite/corebus/internal/socketserver"
)

// Gateway is the GG-IPC listener: it terminates one event-stream framed
// UDS connection per component, runs the CONNECT/CONNECT_ACK handshake
// (spec §4.3 "Connect handshake"), and dispatches APPLICATION_MESSAGE
// frames to operation translators that proxy onto core-bus daemons.
type Gateway struct {
	registry         *auth.Registry
	corebusSocketDir string
	log              *logging.Logger

	srv       *socketserver.Server
	conns     map[uint32]*gwConn
	connsMu   sync.Mutex
	nextToken atomic.Uint32

	clients   map[string]*cbrt.Client
	clientsMu sync.Mutex
}

// gwConn tracks per-connection state: the handshake outcome and the
// table of open streams (spec §4.3 "Stream-id discipline"). Like
// internal/corebus's serverConn, reads only ever happen from the single
// epoll dispatch loop so readBuf needs no lock; sendMu serializes writes
// from any stream's subscription-delivery goroutine.
type gwConn struct {
	token   uint32
	fd      int
	readBuf []byte
	sendMu  sync.Mutex

	// connID correlates this connection's log lines across the handshake
	// and every later operation, before the authenticated component name
	// (or its SVCUID) is even known (spec §6.5's NewConnectionID).
	connID string
	log    *logging.Logger

	authenticated bool
	componentName string
	svcuid        string

	streams   map[int32]*streamState
	streamsMu sync.Mutex
}

type streamState struct {
	sub *cbrt.SubHandle
	// client is the dedicated core-bus connection this subscription owns
	// (never the shared g.clients cache -- see Gateway.dialClient). A
	// subscription's background read loop monopolizes its Client's
	// connection for the subscription's whole lifetime, so it can never
	// share a connection with a Call or another Subscribe: the wire
	// Response grammar has no correlation id to tell concurrent replies
	// apart on one connection.
	client *cbrt.Client
}

func (st *streamState) close() {
	if st.sub != nil {
		st.sub.Close() //nolint:errcheck
	}
	if st.client != nil {
		st.client.Close() //nolint:errcheck
	}
}

// Listen binds the gateway's UDS path and wires it to the shared
// socket-server event loop (spec §4.5). registry authenticates incoming
// connections; corebusSocketDir is where operation translators dial the
// core-bus interfaces they proxy onto.
func Listen(socketPath, corebusSocketDir string, registry *auth.Registry, log *logging.Logger) (*Gateway, error) {
	if log == nil {
		log = logging.Default()
	}
	g := &Gateway{
		registry:         registry,
		corebusSocketDir: corebusSocketDir,
		log:              log,
		conns:            make(map[uint32]*gwConn),
		clients:          make(map[string]*cbrt.Client),
	}

	srv, err := socketserver.Listen(socketPath, socketserver.Callbacks{
		RegisterClient: g.registerClient,
		ReleaseClient:  g.releaseClient,
		DataReady:      g.dataReady,
	}, log)
	if err != nil {
		return nil, cb.WrapError("gwipc.listen", err)
	}
	g.srv = srv
	return g, nil
}

// Serve runs the gateway's event loop; it returns only on an
// unrecoverable error.
func (g *Gateway) Serve() error { return g.srv.Serve() }

// Close tears down every daemon client connection and the listener.
func (g *Gateway) Close() error {
	g.clientsMu.Lock()
	for _, c := range g.clients {
		c.Close() //nolint:errcheck
	}
	g.clientsMu.Unlock()
	return g.srv.Close()
}

func (g *Gateway) registerClient(fd int) (uint32, bool) {
	token := g.nextToken.Add(1)
	connID := auth.NewConnectionID()
	conn := &gwConn{
		token:   token,
		fd:      fd,
		streams: make(map[int32]*streamState),
		connID:  connID,
		log:     g.log.With("conn_id", connID),
	}
	g.connsMu.Lock()
	g.conns[token] = conn
	g.connsMu.Unlock()
	return token, true
}

func (g *Gateway) releaseClient(token uint32) int {
	g.connsMu.Lock()
	conn, ok := g.conns[token]
	delete(g.conns, token)
	g.connsMu.Unlock()
	if !ok {
		return 0
	}
	conn.streamsMu.Lock()
	for id, st := range conn.streams {
		st.close()
		delete(conn.streams, id)
	}
	conn.streamsMu.Unlock()
	return conn.fd
}

func (g *Gateway) dataReady(token uint32) error {
	g.connsMu.Lock()
	conn, ok := g.conns[token]
	g.connsMu.Unlock()
	if !ok {
		return cb.NewError("gwipc.data_ready", cb.Failure, "unknown connection token")
	}

	if drainClosed(conn) {
		return cb.NewError("gwipc.data_ready", cb.NoConn, "peer closed")
	}

	for {
		msg, rest, ok, err := tryNextMessage(conn.readBuf)
		if err != nil {
			conn.log.Warn("malformed event-stream message, closing connection", "component", conn.componentName, "error", err)
			return err
		}
		if !ok {
			return nil
		}
		conn.readBuf = rest
		if err := g.handleMessage(conn, msg); err != nil {
			return err
		}
	}
}

func (g *Gateway) handleMessage(conn *gwConn, msg eventstream.Message) error {
	msgType, _ := msg.Header(":message-type")
	streamHdr, _ := msg.Header(":stream-id")
	streamID := streamHdr.IntValue

	if !conn.authenticated {
		if eventstream.MessageType(msgType.IntValue) != eventstream.MessageTypeConnect || streamID != 0 {
			return cb.NewError("gwipc.handshake", cb.Invalid, "first message must be CONNECT on stream 0")
		}
		return g.handleConnect(conn, msg)
	}

	if streamID == 0 {
		// Stream 0 is reserved for the handshake only (spec §4.3
		// "Stream-id discipline").
		return cb.NewError("gwipc.dispatch", cb.Invalid, "stream-id 0 reserved for handshake")
	}

	flagsHdr, _ := msg.Header(":message-flags")
	if eventstream.MessageFlags(flagsHdr.IntValue)&eventstream.FlagTerminateStream != 0 {
		g.terminateStream(conn, streamID)
		return nil
	}

	opHdr, ok := msg.Header("operation")
	if !ok {
		conn.writeApplicationError(streamID, NewError(ErrInvalidArguments, "missing operation header"))
		return nil
	}

	handler, ok := operationTable[opHdr.StrValue]
	if !ok {
		conn.writeApplicationError(streamID, NewError(ErrInvalidArguments, "unknown operation: "+opHdr.StrValue))
		return nil
	}
	handler(g, conn, streamID, msg.Payload)
	return nil
}

// handleConnect runs spec §4.3 steps 3-5: SO_PEERCRED -> unit name ->
// auth registry -> CONNECT_ACK. In the registry's insecure/debug mode
// (spec §4.4 "the name supplied by the client is used directly as
// SVCUID") the component name comes from the CONNECT message's
// "component_name" header instead of a real systemd lookup, since debug
// mode exists precisely for environments without systemd.
func (g *Gateway) handleConnect(conn *gwConn, msg eventstream.Message) error {
	pid, err := auth.PeerCredPID(conn.fd)
	if err != nil {
		g.connectFail(conn, err)
		return err
	}

	resolveName := auth.ResolveUnitName
	if g.registry.Insecure() {
		resolveName = func(int32) (string, error) {
			hdr, ok := msg.Header("component_name")
			if !ok || hdr.StrValue == "" {
				return "", cb.NewError("gwipc.handshake", cb.Invalid, "insecure mode requires a component_name header")
			}
			return hdr.StrValue, nil
		}
	}

	unitName, err := resolveName(pid)
	if err != nil {
		g.connectFail(conn, err)
		return err
	}

	svcuid, err := g.registry.Register(pid, func(int32) (string, error) { return unitName, nil })
	if err != nil {
		g.connectFail(conn, err)
		return err
	}

	conn.authenticated = true
	conn.componentName = unitName
	conn.svcuid = svcuid

	ack := eventstream.Message{
		Headers: []eventstream.Header{
			eventstream.Int32Header(":message-type", int32(eventstream.MessageTypeConnectAck)),
			eventstream.Int32Header(":message-flags", int32(eventstream.FlagConnectionAccepted)),
			eventstream.Int32Header(":stream-id", 0),
			eventstream.StringHeader("svcuid", svcuid),
		},
	}
	conn.writeMessage(ack)
	conn.log.Info("gwipc client authenticated", "component", unitName)
	return nil
}

func (g *Gateway) connectFail(conn *gwConn, cause error) {
	conn.log.Warn("gwipc handshake failed", "error", cause)
	ack := eventstream.Message{
		Headers: []eventstream.Header{
			eventstream.Int32Header(":message-type", int32(eventstream.MessageTypeConnectAck)),
			eventstream.Int32Header(":message-flags", int32(eventstream.FlagConnectionFailure)),
			eventstream.Int32Header(":stream-id", 0),
		},
	}
	conn.writeMessage(ack)
}

func (g *Gateway) terminateStream(conn *gwConn, streamID int32) {
	conn.streamsMu.Lock()
	st, ok := conn.streams[streamID]
	delete(conn.streams, streamID)
	conn.streamsMu.Unlock()
	if ok {
		st.close()
	}
}

// client returns (dialing and caching on first use) the shared core-bus
// client for iface, used only by callOp's Call-style translators
// (SPEC_FULL.md §3.6). Safe to share across those callers because the
// gateway's single epoll dispatch loop only ever has one Call in flight
// at a time: internal/corebus's Response grammar carries no correlation
// id, so two outstanding ops sharing a connection could not tell their
// replies apart. It must NEVER be handed to Subscribe -- see dialClient.
func (g *Gateway) client(iface string) (*cbrt.Client, error) {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	if c, ok := g.clients[iface]; ok {
		return c, nil
	}
	c, err := cbrt.Dial(g.corebusSocketDir, iface)
	if err != nil {
		return nil, err
	}
	g.clients[iface] = c
	return c, nil
}

// dialClient opens a fresh, uncached core-bus connection dedicated to a
// single subscription. A subscription's client spawns a background read
// loop that owns its connection for the subscription's entire lifetime
// (internal/corebus/client.go's subscriptionLoop), so it can never be
// drawn from or returned to the shared client cache: doing so would let
// a later Call or a second Subscribe race on the same fd and the same
// unsynchronized decode arena. The caller is responsible for closing the
// returned client when the subscription ends (see streamState.close).
func (g *Gateway) dialClient(iface string) (*cbrt.Client, error) {
	return cbrt.Dial(g.corebusSocketDir, iface)
}

// writeMessage serializes and writes one already-complete event-stream
// message over the connection's fd, serialized against concurrent
// subscription deliveries via sendMu. eventstream.Encode's frame is
// fully self-describing (prelude carries total_length), so unlike
// internal/corebus's core-bus transport no extra length prefix is
// needed here.
func (c *gwConn) writeMessage(msg eventstream.Message) {
	framed, err := eventstream.Encode(msg)
	if err != nil {
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = writeAllBlocking(c.fd, framed)
}

func (c *gwConn) writeApplicationMessage(streamID int32, payload []byte, terminate bool) {
	flags := int32(0)
	if terminate {
		flags = int32(eventstream.FlagTerminateStream)
	}
	c.writeMessage(eventstream.Message{
		Headers: []eventstream.Header{
			eventstream.Int32Header(":message-type", int32(eventstream.MessageTypeApplicationMessage)),
			eventstream.Int32Header(":message-flags", flags),
			eventstream.Int32Header(":stream-id", streamID),
		},
		Payload: payload,
	})
}

func (c *gwConn) writeApplicationError(streamID int32, pubErr *Error) {
	body := encodePayload(map[string]any{
		"_type":   pubErr.ServiceModelType(),
		"message": pubErr.Message,
	})
	c.writeMessage(eventstream.Message{
		Headers: []eventstream.Header{
			eventstream.Int32Header(":message-type", int32(eventstream.MessageTypeApplicationError)),
			eventstream.Int32Header(":message-flags", int32(eventstream.FlagTerminateStream)),
			eventstream.Int32Header(":stream-id", streamID),
			eventstream.StringHeader(":exception-type", pubErr.Symbol()),
		},
		Payload: body,
	})
}

// tryNextMessage peeks the leading 4-byte total_length field (per the
// event-stream prelude, spec §4.3) to decide whether buf already holds a
// complete message before calling eventstream.Decode, so a genuinely
// truncated buffer is never mistaken for a corrupt one.
func tryNextMessage(buf []byte) (eventstream.Message, []byte, bool, error) {
	const preludeLen = 12
	if len(buf) < preludeLen {
		return eventstream.Message{}, buf, false, nil
	}
	totalLen := binary.BigEndian.Uint32(buf[0:4])
	if uint32(len(buf)) < totalLen {
		return eventstream.Message{}, buf, false, nil
	}
	msg, rest, err := eventstream.Decode(buf, cb.MaxEventStreamMessage)
	if err != nil {
		return eventstream.Message{}, buf, true, err
	}
	return msg, rest, true, nil
}

// drainClosed reads whatever is immediately available on conn's fd
// without blocking the single-threaded dispatch loop (spec §4.5 "no
// heap allocation on the hot path" drives the same non-blocking-drain
// shape as internal/corebus/conn.go's serverConn.drainNonBlocking).
func drainClosed(conn *gwConn) bool {
	buf := queue.GetBuffer(16 * 1024)
	defer queue.PutBuffer(buf)
	for {
		n, err := unix.Read(conn.fd, buf)
		if n > 0 {
			conn.readBuf = append(conn.readBuf, buf[:n]...)
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
			return false
		}
	}
}

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
					return cb.NewError("gwipc.write", cb.NoConn, "peer not accepting writes")
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
