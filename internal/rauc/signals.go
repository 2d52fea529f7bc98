package rauc

import (
	dbus "github.com/godbus/dbus/v5"

	"github.com/fwkit/rauctl/internal/installer"
)

// parsePropertiesChanged decodes a PropertiesChanged signal body:
// (interface string, changed map[string]Variant, invalidated []string).
// Signals for interfaces other than the installer's are dropped.
func parsePropertiesChanged(body []any) (installer.PropertyUpdate, bool) {
	if len(body) != 3 {
		return installer.PropertyUpdate{}, false
	}
	iface, ok := body[0].(string)
	if !ok {
		return installer.PropertyUpdate{}, false
	}
	raw, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return installer.PropertyUpdate{}, false
	}
	invalidated, ok := body[2].([]string)
	if !ok {
		return installer.PropertyUpdate{}, false
	}
	if iface != InterfaceInstaller {
		return installer.PropertyUpdate{}, false
	}

	changed := make(map[string]any, len(raw))
	for name, v := range raw {
		switch name {
		case "Operation", "LastError":
			if s, ok := v.Value().(string); ok {
				changed[name] = s
			}
		case "Progress":
			if progress, ok := decodeProgress(v); ok {
				changed[name] = progress
			}
		}
	}
	return installer.PropertyUpdate{Changed: changed, Invalidated: invalidated}, true
}

// decodeProgress unpacks the (isi) struct RAUC publishes as its Progress
// property.
func decodeProgress(v dbus.Variant) (installer.Progress, bool) {
	fields, ok := v.Value().([]any)
	if !ok || len(fields) != 3 {
		return installer.Progress{}, false
	}
	percent, ok := fields[0].(int32)
	if !ok {
		return installer.Progress{}, false
	}
	message, ok := fields[1].(string)
	if !ok {
		return installer.Progress{}, false
	}
	depth, ok := fields[2].(int32)
	if !ok {
		return installer.Progress{}, false
	}
	return installer.Progress{Percent: percent, Message: message, Depth: depth}, true
}

// parseCompleted decodes the installer's Completed signal body: (result int32).
func parseCompleted(body []any) (int32, bool) {
	if len(body) != 1 {
		return 0, false
	}
	result, ok := body[0].(int32)
	return result, ok
}

// parseNameLost reports whether a NameOwnerChanged body means the RAUC
// service lost its name: (name, oldOwner, newOwner string) with an empty
// new owner.
func parseNameLost(body []any) bool {
	if len(body) != 3 {
		return false
	}
	name, ok := body[0].(string)
	if !ok || name != BusName {
		return false
	}
	newOwner, ok := body[2].(string)
	return ok && newOwner == ""
}
