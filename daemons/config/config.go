// Package config implements the gg_config daemon: read/write/subscribe/
// list/delete over an in-memory key tree (spec §8.3 scenario 3). The SQL
// backing store of the C original (ggconfigd) stays out of scope per
// spec.md's Non-goals -- this is a minimal, testable in-memory stand-in
// that exercises internal/corebus's Call/Notify/Subscribe surface end to
// end, plus an optional fsnotify-driven reload of a marker file
// (SPEC_FULL.md §3.8).
package config

import (
	"os"
	"runtime"
	"strings"
	"sync"

	cb "github.com/gglite/corebus"
	cbrt "github.com/gglite/corebus/internal/corebus"
	"github.com/gglite/corebus/internal/logging"
)

// Interface is the core-bus interface name this daemon listens on.
// internal/gwipc's GetConfiguration/UpdateConfiguration/GetSystemConfig
// translators dial this same name.
const Interface = "config"

const keySep = "/"

// Server is the gg_config daemon's core-bus listener. Keys are
// slash-separated paths into a tree of cb.Object values; "list" and
// "subscribe" operate on a key prefix (a "directory").
type Server struct {
	srv *cbrt.Server
	log *logging.Logger

	mu     sync.RWMutex
	values map[string]cb.Object

	watchMu sync.Mutex
	watches map[string][]*cbrt.Subscription // key prefix -> active watchers
}

// Listen binds gg_config on socketDir (spec §8.3 scenario 3).
func Listen(socketDir string, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Default()
	}
	d := &Server{
		log:     log,
		values:  make(map[string]cb.Object),
		watches: make(map[string][]*cbrt.Subscription),
	}

	srv, err := cbrt.Listen(socketDir, Interface, []cbrt.Handler{
		{Name: "read", Fn: d.read},
		{Name: "write", Fn: d.write},
		{Name: "list", Fn: d.list},
		{Name: "delete", Fn: d.delete},
		{Name: "subscribe", IsSubscription: true, Fn: d.subscribe},
		{Name: "get_system_config", Fn: d.getSystemConfig},
	}, cbrt.WithLogger(log))
	if err != nil {
		return nil, cb.WrapError("config.listen", err)
	}
	d.srv = srv
	return d, nil
}

func (d *Server) Serve() error { return d.srv.Serve() }
func (d *Server) Close() error { return d.srv.Close() }

// keyField joins the "keyPath" param (a list of path-segment Buffers, the
// shape internal/gwipc's GetConfiguration/UpdateConfiguration translators
// send) into this daemon's flat slash-separated key.
func keyField(m cb.Map) (string, bool) {
	obj, ok := cb.MapGet(m, cb.BufferFromString("keyPath"))
	if !ok || cb.ObjType(obj) != cb.TypeList {
		return "", false
	}
	segs := cb.AsList(obj).Items
	if len(segs) == 0 {
		return "", false
	}
	parts := make([]string, len(segs))
	for i, seg := range segs {
		if cb.ObjType(seg) != cb.TypeBuffer {
			return "", false
		}
		parts[i] = cb.AsBuffer(seg).String()
	}
	return strings.Join(parts, keySep), true
}

func keyPathObject(key string) cb.Object {
	parts := strings.Split(key, keySep)
	items := make([]cb.Object, len(parts))
	for i, p := range parts {
		items[i] = cb.NewBuffer(cb.BufferFromString(p))
	}
	return cb.NewList(cb.List{Items: items})
}

func (d *Server) read(req *cbrt.Request) {
	key, ok := keyField(req.Params)
	if !ok {
		_ = req.ReturnErr(cb.Invalid, "missing key")
		return
	}
	d.mu.RLock()
	val, found := d.values[key]
	d.mu.RUnlock()
	if !found {
		_ = req.ReturnErr(cb.NoEntry, "no such key: "+key)
		return
	}
	_ = req.Respond(val)
}

func (d *Server) write(req *cbrt.Request) {
	key, ok := keyField(req.Params)
	if !ok {
		_ = req.ReturnErr(cb.Invalid, "missing key")
		return
	}
	val, ok := cb.MapGet(req.Params, cb.BufferFromString("value"))
	if !ok {
		_ = req.ReturnErr(cb.Invalid, "missing value")
		return
	}

	d.mu.Lock()
	d.values[key] = val
	d.mu.Unlock()

	_ = req.Respond(cb.Null)
	d.notifyWatchers(key, val)
}

func (d *Server) delete(req *cbrt.Request) {
	key, ok := keyField(req.Params)
	if !ok {
		_ = req.ReturnErr(cb.Invalid, "missing key")
		return
	}
	d.mu.Lock()
	_, found := d.values[key]
	delete(d.values, key)
	d.mu.Unlock()
	if !found {
		_ = req.ReturnErr(cb.NoEntry, "no such key: "+key)
		return
	}
	_ = req.Respond(cb.Null)
	d.notifyWatchers(key, cb.Null)
}

// getSystemConfig answers GG-IPC's GetSystemConfig (spec §8.3): a small
// fixed set of host-level keys that live outside the writable key tree
// (spec.md's on-disk-configuration-schema Non-goal excludes a real
// nucleus system-config store; these are the keys a component
// realistically needs to query).
func (d *Server) getSystemConfig(req *cbrt.Request) {
	keyObj, ok := cb.MapGet(req.Params, cb.BufferFromString("keyName"))
	if !ok || cb.ObjType(keyObj) != cb.TypeBuffer {
		_ = req.ReturnErr(cb.Invalid, "missing keyName")
		return
	}
	keyName := cb.AsBuffer(keyObj).String()

	var value string
	switch keyName {
	case "hostname":
		h, err := os.Hostname()
		if err != nil {
			_ = req.ReturnErr(cb.Failure, "hostname unavailable")
			return
		}
		value = h
	case "platform":
		value = runtime.GOOS
	case "rootPath":
		value = "/greengrass/v2"
	default:
		_ = req.ReturnErr(cb.NoEntry, "no such system config key: "+keyName)
		return
	}
	_ = req.Respond(cb.NewBuffer(cb.BufferFromString(value)))
}

// list returns the immediate child segment names under a key prefix
// ("" lists the root).
func (d *Server) list(req *cbrt.Request) {
	prefix, _ := keyField(req.Params)

	seen := make(map[string]struct{})
	d.mu.RLock()
	for key := range d.values {
		rel := key
		if prefix != "" {
			if !strings.HasPrefix(key, prefix+keySep) {
				continue
			}
			rel = strings.TrimPrefix(key, prefix+keySep)
		}
		child := strings.SplitN(rel, keySep, 2)[0]
		seen[child] = struct{}{}
	}
	d.mu.RUnlock()

	children := make([]cb.Object, 0, len(seen))
	for name := range seen {
		children = append(children, cb.NewBuffer(cb.BufferFromString(name)))
	}
	_ = req.Respond(cb.NewList(cb.List{Items: children}))
}

// subscribe registers a watcher over a key prefix; every write/delete
// under that prefix is forwarded as a Send (spec §8.3 scenario 3's
// "subscribers... notified of a write under their key").
func (d *Server) subscribe(req *cbrt.Request) {
	prefix, ok := keyField(req.Params)
	if !ok {
		_ = req.ReturnErr(cb.Invalid, "missing key")
		return
	}

	var sub *cbrt.Subscription
	sub, err := req.SubAccept(func() { d.removeWatcher(prefix, sub) })
	if err != nil {
		_ = req.ReturnErr(cb.Failure, "sub accept failed")
		return
	}

	d.watchMu.Lock()
	d.watches[prefix] = append(d.watches[prefix], sub)
	d.watchMu.Unlock()
}

func (d *Server) notifyWatchers(key string, val cb.Object) {
	d.watchMu.Lock()
	var matched []*cbrt.Subscription
	for prefix, subs := range d.watches {
		if key == prefix || strings.HasPrefix(key, prefix+keySep) {
			matched = append(matched, subs...)
		}
	}
	d.watchMu.Unlock()

	event := cb.NewMap(cb.Map{Pairs: []cb.KV{
		{Key: cb.BufferFromString("keyPath"), Val: keyPathObject(key)},
		{Key: cb.BufferFromString("value"), Val: val},
	}})
	for _, sub := range matched {
		if err := sub.Send(event); err != nil {
			d.log.Warn("config watcher send failed", "key", key, "error", err)
		}
	}
}

func (d *Server) removeWatcher(prefix string, sub *cbrt.Subscription) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	subs := d.watches[prefix]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(d.watches, prefix)
		return
	}
	d.watches[prefix] = subs
}
