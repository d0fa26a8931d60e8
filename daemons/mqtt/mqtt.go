// Package mqtt implements the aws_iot_mqtt daemon backing GG-IPC's
// PublishToIoTCore/SubscribeToIoTCore operations (internal/gwipc's
// operations.go dials interface "aws_iot_mqtt", methods "publish" and
// "subscribe"). Ported from
// `modules/core-bus-aws-iot-mqtt/src/aws_iot_mqtt.c`'s client-side
// wrapper, but since an actual AWS IoT Core broker connection is out of
// scope (spec.md Non-goals), this is a local loopback broker: publish
// fans out to every subscription whose topic filter matches, the same
// MQTT wildcard semantics as daemons/pubsub.
package mqtt

import (
	"sync"

	cb "github.com/gglite/corebus"
	cbrt "github.com/gglite/corebus/internal/corebus"
	"github.com/gglite/corebus/daemons/pubsub"
	"github.com/gglite/corebus/internal/logging"
)

// Interface is the core-bus interface name this daemon listens on.
const Interface = "aws_iot_mqtt"

type subscription struct {
	filter string
	sub    *cbrt.Subscription
}

// Server is the aws_iot_mqtt daemon's core-bus listener.
type Server struct {
	srv *cbrt.Server
	log *logging.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}

	connMu    sync.Mutex
	connSubs  map[*cbrt.Subscription]struct{}
	connected bool
}

// Listen binds aws_iot_mqtt on socketDir.
func Listen(socketDir string, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Default()
	}
	d := &Server{
		log:      log,
		subs:     make(map[*subscription]struct{}),
		connSubs: make(map[*cbrt.Subscription]struct{}),
	}

	srv, err := cbrt.Listen(socketDir, Interface, []cbrt.Handler{
		{Name: "publish", Fn: d.publish},
		{Name: "subscribe", IsSubscription: true, Fn: d.subscribe},
		{Name: "connection_status", IsSubscription: true, Fn: d.connectionStatus},
	}, cbrt.WithLogger(log))
	if err != nil {
		return nil, cb.WrapError("mqtt.listen", err)
	}
	d.srv = srv
	return d, nil
}

func (d *Server) Serve() error { return d.srv.Serve() }
func (d *Server) Close() error { return d.srv.Close() }

// SetConnected updates the simulated broker connection state and
// notifies every "connection_status" subscriber (ported from the C
// client's documented behavior: "when a subscription is accepted, the
// current MQTT status is sent to the subscribers").
func (d *Server) SetConnected(connected bool) {
	d.connMu.Lock()
	d.connected = connected
	subs := make([]*cbrt.Subscription, 0, len(d.connSubs))
	for s := range d.connSubs {
		subs = append(subs, s)
	}
	d.connMu.Unlock()

	for _, s := range subs {
		_ = s.Send(cb.NewBool(connected))
	}
}

func (d *Server) publish(req *cbrt.Request) {
	topicObj, ok := cb.MapGet(req.Params, cb.BufferFromString("topicName"))
	if !ok || cb.ObjType(topicObj) != cb.TypeBuffer {
		_ = req.ReturnErr(cb.Invalid, "params missing topicName")
		return
	}
	topic := cb.AsBuffer(topicObj).String()
	payloadObj, _ := cb.MapGet(req.Params, cb.BufferFromString("payload"))

	d.mu.Lock()
	matched := make([]*cbrt.Subscription, 0, len(d.subs))
	for s := range d.subs {
		if pubsub.MatchTopic(topic, s.filter) {
			matched = append(matched, s.sub)
		}
	}
	d.mu.Unlock()

	event := cb.NewMap(cb.Map{Pairs: []cb.KV{
		{Key: cb.BufferFromString("topicName"), Val: topicObj},
		{Key: cb.BufferFromString("payload"), Val: payloadObj},
	}})
	for _, sub := range matched {
		if err := sub.Send(event); err != nil {
			d.log.Warn("mqtt publish fan-out send failed", "topic", topic, "error", err)
		}
	}

	_ = req.Respond(cb.Null)
}

func (d *Server) subscribe(req *cbrt.Request) {
	filterObj, ok := cb.MapGet(req.Params, cb.BufferFromString("topicName"))
	if !ok || cb.ObjType(filterObj) != cb.TypeBuffer {
		_ = req.ReturnErr(cb.Invalid, "received invalid arguments")
		return
	}
	filter := cb.AsBuffer(filterObj).String()
	if filter == "" {
		_ = req.ReturnErr(cb.Range, "topic filter can't be zero length")
		return
	}

	entry := &subscription{filter: filter}
	sub, err := req.SubAccept(func() {
		d.mu.Lock()
		delete(d.subs, entry)
		d.mu.Unlock()
	})
	if err != nil {
		_ = req.ReturnErr(cb.Failure, "sub accept failed")
		return
	}
	entry.sub = sub

	d.mu.Lock()
	d.subs[entry] = struct{}{}
	d.mu.Unlock()
}

func (d *Server) connectionStatus(req *cbrt.Request) {
	var sub *cbrt.Subscription
	sub, err := req.SubAccept(func() {
		d.connMu.Lock()
		delete(d.connSubs, sub)
		d.connMu.Unlock()
	})
	if err != nil {
		_ = req.ReturnErr(cb.Failure, "sub accept failed")
		return
	}

	d.connMu.Lock()
	d.connSubs[sub] = struct{}{}
	connected := d.connected
	d.connMu.Unlock()

	_ = sub.Send(cb.NewBool(connected))
}
