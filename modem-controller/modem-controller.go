package modemcontroller

import (
	"github.com/godbus/dbus/v5"
)

const (
	dbusPath   = "/org/cacophony/OfonoMonitor"
	dbusDest   = "org.cacophony.OfonoMonitor"
	methodBase = "org.cacophony.OfonoMonitor"
)

// GetModems returns the state of every modem known to ofono-monitor, keyed by
// object path.
func GetModems() (map[string]map[string]interface{}, error) {
	obj, err := getDbusObj()
	if err != nil {
		return nil, err
	}

	raw := make(map[string]map[string]dbus.Variant)
	if err := obj.Call(methodBase+".GetModems", 0).Store(&raw); err != nil {
		return nil, err
	}
	modems := make(map[string]map[string]interface{}, len(raw))
	for path, state := range raw {
		modems[path] = FromVariants(state)
	}
	return modems, nil
}

func GetModem(path string) (map[string]interface{}, error) {
	obj, err := getDbusObj()
	if err != nil {
		return nil, err
	}

	raw := make(map[string]dbus.Variant)
	err = obj.Call(methodBase+".GetModem", 0, dbus.ObjectPath(path)).Store(&raw)
	return FromVariants(raw), err
}

func SetPowered(path string, on bool) error {
	obj, err := getDbusObj()
	if err != nil {
		return err
	}
	return obj.Call(methodBase+".SetPowered", 0, dbus.ObjectPath(path), on).Store()
}

func SetOnline(path string, on bool) error {
	obj, err := getDbusObj()
	if err != nil {
		return err
	}
	return obj.Call(methodBase+".SetOnline", 0, dbus.ObjectPath(path), on).Store()
}

// FromVariants unwraps the values of an a{sv} state map.
func FromVariants(state map[string]dbus.Variant) map[string]interface{} {
	out := make(map[string]interface{}, len(state))
	for k, v := range state {
		out[k] = v.Value()
	}
	return out
}

func getDbusObj() (dbus.BusObject, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusDest, dbusPath)
	return obj, nil
}
