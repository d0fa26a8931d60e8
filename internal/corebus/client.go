package corebus

import (
	"context"
	"net"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	cb "github.com/gglite/corebus"
	"github.com/gglite/corebus/internal/wire"
)

// Client is one connection to a core-bus interface (spec §4.2
// "Client": call/notify/subscribe/client_sub_close).
type Client struct {
	conn  net.Conn
	arena *cb.Arena

	nextHandle atomic.Uint32
}

// Dial connects to {socketDir}/{interface} with the default call timeout
// (spec §4.2 "On accept, set SO_RCVTIMEO/SO_SNDTIMEO to 4s for calls").
func Dial(socketDir, iface string) (*Client, error) {
	path := filepath.Join(socketDir, iface)
	conn, err := net.DialTimeout("unix", path, cb.CallTimeout)
	if err != nil {
		return nil, cb.NewError("corebus.dial", cb.NoConn, err.Error())
	}
	return &Client{conn: conn, arena: cb.NewArena(make([]byte, 64*1024))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Notify sends a fire-and-forget request; there is no response and no
// error path once the frame is written (spec §4.2 "Notify").
func (c *Client) Notify(method string, params cb.Map) error {
	frame, err := wire.EncodeFrame(wire.KindNotify, method, params)
	if err != nil {
		return cb.WrapError("corebus.notify", err)
	}
	if err := wire.WriteMessage(c.conn, frame); err != nil {
		return cb.WrapError("corebus.notify", err)
	}
	return nil
}

// Call sends a request and blocks for exactly one reply (spec §4.2
// "Call"). On a remote error, Call returns a *cb.Error with Code=Remote;
// the handler's reported Code appears only in that error's message and is
// not returned as a separate value.
func (c *Client) Call(ctx context.Context, method string, params cb.Map) (cb.Object, error) {
	frame, err := wire.EncodeFrame(wire.KindCall, method, params)
	if err != nil {
		return cb.Null, cb.WrapError("corebus.call", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Now().Add(cb.CallTimeout))
	}
	defer c.conn.SetDeadline(time.Time{}) //nolint:errcheck

	if err := wire.WriteMessage(c.conn, frame); err != nil {
		return cb.Null, cb.NewError("corebus.call", cb.NoConn, err.Error())
	}

	payload, err := wire.ReadMessage(c.conn)
	if err != nil {
		return cb.Null, cb.NewError("corebus.call", cb.NoConn, err.Error())
	}

	rt, obj, code, err := wire.DecodeResponse(payload, c.arena)
	if err != nil {
		return cb.Null, cb.WrapError("corebus.call", err)
	}
	switch rt {
	case wire.RespOK:
		return obj, nil
	case wire.RespErr:
		return cb.Null, cb.NewRPCError("corebus.call", "", method, 0, cb.Remote, "remote returned "+code.String())
	default:
		return cb.Null, cb.NewError("corebus.call", cb.Invalid, "unexpected response type for Call")
	}
}

// CallWithRetry wraps Call with exponential backoff for NoConn failures,
// the domain-stack use of cenkalti/backoff referenced in SPEC_FULL.md §2.
func (c *Client) CallWithRetry(ctx context.Context, method string, params cb.Map, maxElapsed time.Duration) (cb.Object, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	boCtx := backoff.WithContext(bo, ctx)

	var result cb.Object
	op := func() error {
		obj, err := c.Call(ctx, method, params)
		if err != nil {
			if cb.IsCode(err, cb.NoConn) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = obj
		return nil
	}
	if err := backoff.Retry(op, boCtx); err != nil {
		return cb.Null, err
	}
	return result, nil
}

// SubAction is the client's decision after an OnResponse callback (spec
// §9 Open Question, resolved in SPEC_FULL.md §4: modeled as an explicit
// enum rather than overloading the response error code).
type SubAction int

const (
	// SubContinue keeps the subscription open awaiting further responses.
	SubContinue SubAction = iota
	// SubRetry skips this response and keeps the subscription open; the
	// client handles it exactly like SubContinue and sends nothing.
	SubRetry
	// SubCloseAfterDeliver closes the subscription after this response.
	SubCloseAfterDeliver
)

// OnResponseFunc handles one subscription response and decides whether the
// stream continues.
type OnResponseFunc func(obj cb.Object) SubAction

// OnCloseFunc is invoked once when a subscription ends, whether client- or
// server-initiated.
type OnCloseFunc func()

// SubHandle is the client-side handle to an open subscription.
type SubHandle struct {
	id     uint32
	client *Client
	done   chan struct{}
}

// Subscribe opens a long-lived unicast stream (spec §4.2 "Subscribe").
// onResponse is invoked synchronously from the client's read loop for
// every Respond frame; onClose fires exactly once when the stream ends.
func (c *Client) Subscribe(ctx context.Context, method string, params cb.Map, onResponse OnResponseFunc, onClose OnCloseFunc) (*SubHandle, error) {
	frame, err := wire.EncodeFrame(wire.KindSubscribe, method, params)
	if err != nil {
		return nil, cb.WrapError("corebus.subscribe", err)
	}
	_ = c.conn.SetDeadline(time.Now().Add(cb.CallTimeout))
	if err := wire.WriteMessage(c.conn, frame); err != nil {
		_ = c.conn.SetDeadline(time.Time{})
		return nil, cb.NewError("corebus.subscribe", cb.NoConn, err.Error())
	}

	payload, err := wire.ReadMessage(c.conn)
	_ = c.conn.SetDeadline(time.Time{})
	if err != nil {
		return nil, cb.NewError("corebus.subscribe", cb.NoConn, err.Error())
	}
	rt, _, code, err := wire.DecodeResponse(payload, c.arena)
	if err != nil {
		return nil, cb.WrapError("corebus.subscribe", err)
	}
	if rt != wire.RespAccept {
		if rt == wire.RespErr {
			return nil, cb.NewRPCError("corebus.subscribe", "", method, 0, code, "subscribe rejected")
		}
		return nil, cb.NewError("corebus.subscribe", cb.Invalid, "unexpected response to subscribe")
	}

	handle := c.nextHandle.Add(1)
	sh := &SubHandle{id: handle, client: c, done: make(chan struct{})}

	go c.subscriptionLoop(sh, onResponse, onClose)
	return sh, nil
}

func (c *Client) subscriptionLoop(sh *SubHandle, onResponse OnResponseFunc, onClose OnCloseFunc) {
	defer close(sh.done)
	defer func() {
		if onClose != nil {
			onClose()
		}
	}()

	_ = c.conn.SetDeadline(time.Time{}) // subscriptions disable the recv timeout after accept
	for {
		payload, err := wire.ReadMessage(c.conn)
		if err != nil {
			return
		}
		rt, obj, _, err := wire.DecodeResponse(payload, c.arena)
		if err != nil {
			return
		}
		if rt == wire.RespClose {
			return
		}
		if rt != wire.RespOK {
			continue
		}
		if onResponse == nil {
			continue
		}
		switch onResponse(obj) {
		case SubCloseAfterDeliver:
			_ = sh.Close()
			return
		case SubRetry, SubContinue:
			continue
		}
	}
}

// Close sends a client-initiated subscription close frame (spec §4.2
// "Close protocol": "Client-initiated close on a subscription: the client
// writes a distinguished close frame").
func (sh *SubHandle) Close() error {
	params := cb.Map{Pairs: []cb.KV{{Key: cb.BufferFromString("handle"), Val: cb.NewI64(int64(sh.id))}}}
	frame, err := wire.EncodeFrame(wire.KindSubClose, "", params)
	if err != nil {
		return cb.WrapError("corebus.client_sub_close", err)
	}
	if err := wire.WriteMessage(sh.client.conn, frame); err != nil {
		return err
	}
	// Unblock the subscription loop's pending read so it returns and runs
	// onClose.
	return sh.client.conn.SetReadDeadline(time.Now())
}
