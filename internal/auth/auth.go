// Package auth implements the SVCUID registry (spec §4.4), the in-process
// replacement for the legacy gg-ipc-auth.socket path (spec §9 Open
// Question, resolved in SPEC_FULL.md §4: in-process lookup only). It
// ports the C original's fixed-table registration pattern
// (ggipc-auth/src/auth.c's svcuids[N][12]/component_names[N][128]) into a
// Go slice-of-slots table guarded by one mutex, matching spec §5's "short
// critical sections; no RCU required."
package auth

import (
	"encoding/base64"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/gglite/corebus"
	"github.com/gglite/corebus/internal/logging"
)

const svcuidBytes = corebus.SvcuidBytes // 12

type slot struct {
	svcuid        [svcuidBytes]byte
	componentName string
}

// Registry is the process-wide component/SVCUID table (spec §4.4 "Data").
// registered_components is len(slots); capacity is fixed at construction.
type Registry struct {
	mu       sync.Mutex
	slots    []slot
	capacity int
	insecure bool
	rng      io.Reader
	log      *logging.Logger
}

// NewRegistry creates a Registry with room for capacity components. When
// insecure is true, authentication is bypassed: the caller-supplied name
// is stored as the SVCUID directly and unvalidated, matching the debug
// mode in spec §4.4 — a loud Warn is logged immediately, the Go
// equivalent of the C original's load-time constructor warning in
// ggipc-auth/src/auth.c since Go has no __attribute__((constructor)).
func NewRegistry(capacity int, insecure bool, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Default()
	}
	if insecure {
		log.Warn("INSECURE: IPC authentication disabled, SVCUID handling is in debug mode")
	}
	return &Registry{capacity: capacity, insecure: insecure, rng: urandomReader{}, log: log}
}

// Register resolves peerPID to a systemd unit name via resolveUnitName,
// then either returns an existing component's SVCUID or mints a new one
// from 12 bytes of CSPRNG output (spec §4.4 "register").
func (r *Registry) Register(peerPID int32, resolveUnitName func(pid int32) (string, error)) (string, error) {
	componentName, err := resolveUnitName(peerPID)
	if err != nil {
		return "", corebus.WrapError("auth.register", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.insecure {
		return r.registerInsecureLocked(componentName)
	}

	for _, s := range r.slots {
		if s.componentName == componentName {
			return encodeSvcuid(s.svcuid), nil
		}
	}

	if len(r.slots) >= r.capacity {
		return "", corebus.NewError("auth.register", corebus.Nomem, "component table full")
	}

	var raw [svcuidBytes]byte
	if _, err := io.ReadFull(r.rng, raw[:]); err != nil {
		// Spec §4.4: "Short read from urandom -> fatal; the process exits
		// (cannot provide security guarantees)." The registry itself
		// cannot terminate the process (that decision belongs to main),
		// so it returns Fatal and the caller is expected to exit.
		return "", corebus.NewError("auth.register", corebus.Fatal, "short read from CSPRNG")
	}

	r.slots = append(r.slots, slot{svcuid: raw, componentName: componentName})
	return encodeSvcuid(raw), nil
}

func (r *Registry) registerInsecureLocked(componentName string) (string, error) {
	for _, s := range r.slots {
		if s.componentName == componentName {
			return s.componentName, nil
		}
	}
	if len(r.slots) >= r.capacity {
		return "", corebus.NewError("auth.register", corebus.Nomem, "component table full")
	}
	r.slots = append(r.slots, slot{componentName: componentName})
	return componentName, nil
}

// VerifySvcuid base64-decodes svcuidB64 and reports the owning component
// name, or false if not found (spec §4.4 "verify_svcuid").
func (r *Registry) VerifySvcuid(svcuidB64 string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.insecure {
		for _, s := range r.slots {
			if s.componentName == svcuidB64 {
				return s.componentName, true
			}
		}
		return "", false
	}

	raw, err := decodeSvcuid(svcuidB64)
	if err != nil {
		return "", false
	}
	for _, s := range r.slots {
		if s.svcuid == raw {
			return s.componentName, true
		}
	}
	return "", false
}

// LookupByName performs a case-sensitive linear scan for an already
// registered component (spec §4.4 "lookup_by_name").
func (r *Registry) LookupByName(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.componentName == name {
			return encodeSvcuid(s.svcuid), true
		}
	}
	return "", false
}

// Insecure reports whether the registry was constructed in debug/insecure
// mode (spec §4.4 "A debug/insecure mode bypasses authentication").
// Callers resolving a component's identity (e.g. internal/gwipc's
// handshake) use this to decide between a real systemd unit-name lookup
// and a client-declared name.
func (r *Registry) Insecure() bool {
	return r.insecure
}

// Len reports the current registered-component count (registered_components).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// NewConnectionID returns a UUID used only to correlate a connection's log
// lines — never the SVCUID itself (spec §6.5: the SVCUID is always the
// raw 12-byte CSPRNG value, base64-encoded).
func NewConnectionID() string {
	return uuid.NewString()
}

func encodeSvcuid(raw [svcuidBytes]byte) string {
	return base64.StdEncoding.EncodeToString(raw[:])
}

func decodeSvcuid(svcuidB64 string) ([svcuidBytes]byte, error) {
	var out [svcuidBytes]byte
	decoded, err := base64.StdEncoding.DecodeString(svcuidB64)
	if err != nil || len(decoded) != svcuidBytes {
		return out, corebus.NewError("auth.decode_svcuid", corebus.Invalid, "svcuid is invalid base64 or length")
	}
	copy(out[:], decoded)
	return out, nil
}

// urandomReader reads from /dev/urandom directly rather than
// crypto/rand.Reader so the CSPRNG source matches spec §4.4's explicit
// "/dev/urandom read-exact of 12 bytes" contract exactly.
type urandomReader struct{}

func (urandomReader) Read(p []byte) (int, error) {
	f, err := os.Open("/dev/urandom")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.ReadFull(f, p)
}
