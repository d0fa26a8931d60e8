// Package health implements the gg_health daemon: per-component
// lifecycle-state tracking used by GG-IPC's GetSystemConfig-style
// liveness checks (SPEC_FULL.md module layout). Ported from
// `modules/core-bus-gghealthd/src/gg_healthd.c`'s client, which calls
// gg_health's "get_status" method with a "component_name" param and
// expects a map back containing a "lifecycle_state" buffer; this server
// adds the symmetric "set_status" write path and a "subscribe" stream so
// a supervisor process can observe state transitions.
package health

import (
	"sync"

	cb "github.com/gglite/corebus"
	cbrt "github.com/gglite/corebus/internal/corebus"
	"github.com/gglite/corebus/internal/logging"
)

// Interface is the core-bus interface name this daemon listens on.
const Interface = "gg_health"

// Lifecycle states, matching the Greengrass component lifecycle names
// the C original's components report (NEW/STARTING/RUNNING/ERRORED/
// STOPPING/FINISHED/BROKEN).
const (
	StateNew      = "NEW"
	StateStarting = "STARTING"
	StateRunning  = "RUNNING"
	StateErrored  = "ERRORED"
	StateStopping = "STOPPING"
	StateFinished = "FINISHED"
	StateBroken   = "BROKEN"
)

// Server is the gg_health daemon's core-bus listener.
type Server struct {
	srv *cbrt.Server
	log *logging.Logger

	mu     sync.RWMutex
	states map[string]string

	watchMu sync.Mutex
	watches map[*cbrt.Subscription]struct{}
}

// Listen binds gg_health on socketDir.
func Listen(socketDir string, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Default()
	}
	d := &Server{
		log:     log,
		states:  make(map[string]string),
		watches: make(map[*cbrt.Subscription]struct{}),
	}

	srv, err := cbrt.Listen(socketDir, Interface, []cbrt.Handler{
		{Name: "get_status", Fn: d.getStatus},
		{Name: "set_status", Fn: d.setStatus},
		{Name: "subscribe", IsSubscription: true, Fn: d.subscribe},
	}, cbrt.WithLogger(log))
	if err != nil {
		return nil, cb.WrapError("health.listen", err)
	}
	d.srv = srv
	return d, nil
}

func (d *Server) Serve() error { return d.srv.Serve() }
func (d *Server) Close() error { return d.srv.Close() }

func componentNameField(m cb.Map) (string, bool) {
	obj, ok := cb.MapGet(m, cb.BufferFromString("component_name"))
	if !ok || cb.ObjType(obj) != cb.TypeBuffer {
		return "", false
	}
	name := cb.AsBuffer(obj).String()
	if name == "" {
		return "", false
	}
	return name, true
}

func (d *Server) getStatus(req *cbrt.Request) {
	name, ok := componentNameField(req.Params)
	if !ok {
		_ = req.ReturnErr(cb.Invalid, "missing component_name")
		return
	}

	d.mu.RLock()
	state, found := d.states[name]
	d.mu.RUnlock()
	if !found {
		state = StateNew
	}

	_ = req.Respond(cb.NewMap(cb.Map{Pairs: []cb.KV{
		{Key: cb.BufferFromString("component_name"), Val: cb.NewBuffer(cb.BufferFromString(name))},
		{Key: cb.BufferFromString("lifecycle_state"), Val: cb.NewBuffer(cb.BufferFromString(state))},
	}}))
}

func (d *Server) setStatus(req *cbrt.Request) {
	name, ok := componentNameField(req.Params)
	if !ok {
		_ = req.ReturnErr(cb.Invalid, "missing component_name")
		return
	}
	stateObj, ok := cb.MapGet(req.Params, cb.BufferFromString("lifecycle_state"))
	if !ok || cb.ObjType(stateObj) != cb.TypeBuffer {
		_ = req.ReturnErr(cb.Invalid, "missing lifecycle_state")
		return
	}
	state := cb.AsBuffer(stateObj).String()

	d.mu.Lock()
	d.states[name] = state
	d.mu.Unlock()

	_ = req.Respond(cb.Null)
	d.notifyWatchers(name, state)
}

// subscribe streams every component's lifecycle transitions; GG-IPC
// doesn't filter this per-component since health reporting is a small,
// bounded fleet of components on an edge device.
func (d *Server) subscribe(req *cbrt.Request) {
	var sub *cbrt.Subscription
	sub, err := req.SubAccept(func() {
		d.watchMu.Lock()
		delete(d.watches, sub)
		d.watchMu.Unlock()
	})
	if err != nil {
		_ = req.ReturnErr(cb.Failure, "sub accept failed")
		return
	}

	d.watchMu.Lock()
	d.watches[sub] = struct{}{}
	d.watchMu.Unlock()
}

func (d *Server) notifyWatchers(name, state string) {
	d.watchMu.Lock()
	subs := make([]*cbrt.Subscription, 0, len(d.watches))
	for s := range d.watches {
		subs = append(subs, s)
	}
	d.watchMu.Unlock()

	event := cb.NewMap(cb.Map{Pairs: []cb.KV{
		{Key: cb.BufferFromString("component_name"), Val: cb.NewBuffer(cb.BufferFromString(name))},
		{Key: cb.BufferFromString("lifecycle_state"), Val: cb.NewBuffer(cb.BufferFromString(state))},
	}})
	for _, s := range subs {
		if err := s.Send(event); err != nil {
			d.log.Warn("health watcher send failed", "component", name, "error", err)
		}
	}
}
