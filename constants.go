package corebus

import "time"

// Re-exported tunables (spec §3.1, §4.2, §4.4, §6.1).
const (
	// MaxObjectDepth bounds recursive Object nesting (spec §4.1 "Depth cap").
	MaxObjectDepth = 10

	// MaxClients is the default size of a core-bus server's connection
	// table (spec §4.2 "fixed table of GGL_COREBUS_MAX_CLIENTS entries").
	MaxClients = 50

	// MaxClientSubscriptions bounds a single client's outstanding
	// subscriptions (spec §5, GGL_COREBUS_CLIENT_MAX_SUBSCRIPTIONS).
	MaxClientSubscriptions = 50

	// MaxAuthComponents is the default size of the SVCUID registry
	// (spec §4.4).
	MaxAuthComponents = 50

	// MaxComponentNameLength bounds a registered component name.
	MaxComponentNameLength = 128

	// SvcuidBytes is the raw random byte length of a SVCUID (spec §3.1, §6.5).
	SvcuidBytes = 12

	// ListenBacklog is the UDS listen backlog used by every listener
	// (spec §4.2, §4.5).
	ListenBacklog = 20

	// CallTimeout is the default send/recv timeout for a call connection
	// (spec §4.2).
	CallTimeout = 4 * time.Second

	// DefaultSocketDir is the default directory core-bus interfaces bind
	// their UDS paths under (spec §6.1).
	DefaultSocketDir = "/run/greengrass"

	// GGIPCSocketName is the well-known GG-IPC listener file name
	// (spec §6.1).
	GGIPCSocketName = "gg-ipc.socket"

	// MaxEventStreamMessage is the default maximum GG-IPC message length
	// (spec §6.3).
	MaxEventStreamMessage = 10_000

	// EnvDomainSocketPath is the environment variable a component reads
	// its GG-IPC socket path from (spec §6.5).
	EnvDomainSocketPath = "AWS_GG_NUCLEUS_DOMAIN_SOCKET_FILEPATH_FOR_COMPONENT"

	// EnvSvcuid is the environment variable a component reads its SVCUID
	// from (spec §6.5).
	EnvSvcuid = "SVCUID"
)
