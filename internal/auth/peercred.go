package auth

import (
	"golang.org/x/sys/unix"

	"github.com/gglite/corebus"
)

// PeerCredPID reads SO_PEERCRED off connFd and returns the connecting
// process's pid (spec §4.3 step 3: "Gateway reads SO_PEERCRED -> pid").
func PeerCredPID(connFd int) (int32, error) {
	ucred, err := unix.GetsockoptUcred(connFd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return 0, corebus.NewError("auth.peercred", corebus.Failure, "SO_PEERCRED read failed: "+err.Error())
	}
	return ucred.Pid, nil
}
