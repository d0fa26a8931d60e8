package auth

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/gglite/corebus"
)

// ResolveUnitName looks up the systemd unit owning pid over the system
// D-Bus, the Go-native equivalent of sd_pid_get_unit(3) used by
// ggipc-auth/src/auth.c's ggl_ipc_auth_validate_name. It then applies the
// exact same suffix/prefix stripping the C original performs:
//
//	strip required ".service" suffix
//	strip optional ".install" or ".bootstrap" suffix
//	strip required "ggl." prefix
//
// and returns the remaining component name.
func ResolveUnitName(pid int32) (string, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return "", corebus.WrapError("auth.resolve_unit_name", err)
	}

	manager := conn.Object("org.freedesktop.systemd1", dbus.ObjectPath("/org/freedesktop/systemd1"))

	var unitPath dbus.ObjectPath
	if err := manager.Call("org.freedesktop.systemd1.Manager.GetUnitByPID", 0, uint32(pid)).Store(&unitPath); err != nil {
		return "", corebus.NewError("auth.resolve_unit_name", corebus.Failure, fmt.Sprintf("lookup unit for pid %d: %v", pid, err))
	}

	unit := conn.Object("org.freedesktop.systemd1", unitPath)
	idVariant, err := unit.GetProperty("org.freedesktop.systemd1.Unit.Id")
	if err != nil {
		return "", corebus.NewError("auth.resolve_unit_name", corebus.Failure, fmt.Sprintf("read unit id for pid %d: %v", pid, err))
	}
	unitName, ok := idVariant.Value().(string)
	if !ok || unitName == "" {
		return "", corebus.NewError("auth.resolve_unit_name", corebus.Failure, fmt.Sprintf("empty unit id for pid %d", pid))
	}

	return stripUnitName(pid, unitName)
}

func stripUnitName(pid int32, unitName string) (string, error) {
	name, ok := strings.CutSuffix(unitName, ".service")
	if !ok {
		return "", corebus.NewError("auth.resolve_unit_name", corebus.Failure,
			fmt.Sprintf("service for pid %d (%s) missing .service extension", pid, unitName))
	}

	if s, ok := strings.CutSuffix(name, ".install"); ok {
		name = s
	} else if s, ok := strings.CutSuffix(name, ".bootstrap"); ok {
		name = s
	}

	name, ok = strings.CutPrefix(name, "ggl.")
	if !ok {
		return "", corebus.NewError("auth.resolve_unit_name", corebus.Failure,
			fmt.Sprintf("service for pid %d (%s) does not have ggl component prefix", pid, unitName))
	}

	return name, nil
}
