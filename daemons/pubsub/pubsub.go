// Package pubsub implements the gg_pubsub daemon: publish/subscribe
// fan-out over MQTT-style topic filters (spec §8.2, §8.3 scenarios 1-2,
// 5). It is a minimal interface-exercising implementation, not a port of
// the C daemon's AWS IoT Core bridging (SPEC_FULL.md §3.8) — but the
// topic filter matching and subscription table shape are ported directly
// from `modules/ggpubsubd/src/bus_server.c`'s `rpc_publish`/
// `rpc_subscribe`/`register_subscription`.
package pubsub

import (
	"strings"
	"sync"

	cb "github.com/gglite/corebus"
	cbrt "github.com/gglite/corebus/internal/corebus"
	"github.com/gglite/corebus/internal/logging"
)

// Interface is the core-bus interface name this daemon listens on
// (`GGL_STR("gg_pubsub")` in the C original).
const Interface = "gg_pubsub"

const maxTopicLength = 256

type subscription struct {
	filter string
	sub    *cbrt.Subscription
}

// Server is the gg_pubsub daemon's core-bus listener.
type Server struct {
	srv *cbrt.Server
	log *logging.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// Listen binds gg_pubsub on socketDir (spec §8.3 scenarios 1-2, 5).
func Listen(socketDir string, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Default()
	}
	d := &Server{log: log, subs: make(map[*subscription]struct{})}

	srv, err := cbrt.Listen(socketDir, Interface, []cbrt.Handler{
		{Name: "publish", Fn: d.publish},
		{Name: "subscribe", IsSubscription: true, Fn: d.subscribe},
	}, cbrt.WithLogger(log))
	if err != nil {
		return nil, cb.WrapError("pubsub.listen", err)
	}
	d.srv = srv
	return d, nil
}

func (d *Server) Serve() error { return d.srv.Serve() }
func (d *Server) Close() error { return d.srv.Close() }

// publish fans out params to every subscription whose filter matches
// "topic" (ported from bus_server.c's rpc_publish).
func (d *Server) publish(req *cbrt.Request) {
	topicObj, ok := cb.MapGet(req.Params, cb.BufferFromString("topic"))
	if !ok || cb.ObjType(topicObj) != cb.TypeBuffer {
		_ = req.ReturnErr(cb.Invalid, "params missing topic")
		return
	}
	topic := cb.AsBuffer(topicObj).String()
	if len(topic) > maxTopicLength {
		_ = req.ReturnErr(cb.Range, "topic too large")
		return
	}

	d.mu.Lock()
	matched := make([]*cbrt.Subscription, 0, len(d.subs))
	for s := range d.subs {
		if MatchTopic(topic, s.filter) {
			matched = append(matched, s.sub)
		}
	}
	d.mu.Unlock()

	payload := cb.NewMap(req.Params)
	for _, sub := range matched {
		if err := sub.Send(payload); err != nil {
			d.log.Warn("publish fan-out send failed", "error", err)
		}
	}

	_ = req.Respond(cb.Null)
}

// subscribe registers a new topic filter subscription (ported from
// bus_server.c's rpc_subscribe/register_subscription).
func (d *Server) subscribe(req *cbrt.Request) {
	filterObj, ok := cb.MapGet(req.Params, cb.BufferFromString("topic_filter"))
	if !ok || cb.ObjType(filterObj) != cb.TypeBuffer {
		_ = req.ReturnErr(cb.Invalid, "received invalid arguments")
		return
	}
	filter := cb.AsBuffer(filterObj).String()
	if len(filter) == 0 {
		_ = req.ReturnErr(cb.Range, "topic filter can't be zero length")
		return
	}
	if len(filter) > maxTopicLength {
		_ = req.ReturnErr(cb.Range, "topic filter too large")
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

// MatchTopic reports whether topic matches filter using MQTT-style
// wildcard rules: '+' matches exactly one segment, a trailing '#'
// matches all remaining segments (ported from bus_server.c's use of
// coreMQTT's MQTT_MatchTopic).
func MatchTopic(topic, filter string) bool {
	topicSegs := strings.Split(topic, "/")
	filterSegs := strings.Split(filter, "/")

	for i, fs := range filterSegs {
		if fs == "#" {
			return true
		}
		if i >= len(topicSegs) {
			return false
		}
		if fs == "+" {
			continue
		}
		if fs != topicSegs[i] {
			return false
		}
	}
	return len(filterSegs) == len(topicSegs)
}
