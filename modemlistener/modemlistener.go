package modemlistener

import (
	"github.com/godbus/dbus/v5"

	modemcontroller "github.com/TheCacophonyProject/ofono-monitor/modem-controller"
)

const (
	DBusPath      = "/org/cacophony/OfonoMonitor"
	DBusInterface = "org.cacophony.OfonoMonitor"
)

// ModemSignal is one ModemChanged signal. Kind is "added", "changed" or
// "removed".
type ModemSignal struct {
	Kind  string
	Path  string
	State map[string]interface{}
}

// GetModemChangedSignalListener returns a channel that receives every
// "ModemChanged" signal sent by ofono-monitor on the system bus.
func GetModemChangedSignalListener() (chan ModemSignal, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}

	err = conn.AddMatchSignal(
		dbus.WithMatchInterface(DBusInterface),
		dbus.WithMatchObjectPath(DBusPath),
	)
	if err != nil {
		return nil, err
	}

	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)

	modemSignals := make(chan ModemSignal, 10)
	go func() {
		for v := range signals {
			if s, ok := parseModemChanged(v); ok {
				modemSignals <- s
			}
		}
	}()

	return modemSignals, nil
}

func parseModemChanged(v *dbus.Signal) (ModemSignal, bool) {
	if v.Path != dbus.ObjectPath(DBusPath) || v.Name != DBusInterface+".ModemChanged" {
		return ModemSignal{}, false
	}
	if len(v.Body) != 3 {
		return ModemSignal{}, false
	}
	kind, ok := v.Body[0].(string)
	if !ok {
		return ModemSignal{}, false
	}
	path, ok := v.Body[1].(dbus.ObjectPath)
	if !ok {
		return ModemSignal{}, false
	}
	state, ok := v.Body[2].(map[string]dbus.Variant)
	if !ok {
		return ModemSignal{}, false
	}
	return ModemSignal{
		Kind:  kind,
		Path:  string(path),
		State: modemcontroller.FromVariants(state),
	}, true
}
