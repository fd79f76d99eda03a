// Package ofono mirrors the state of the modems managed by oFono.
//
// Three trackers follow the org.ofono.Modem, org.ofono.SimManager and
// org.ofono.NetworkRegistration property sets (plus ConnectionManager), and a
// Manager fuses them into one Modem record per object path. Everything in
// this package must run on the goroutine that delivers bus replies and
// signals, see bus.Conn.
package ofono

import (
	"sort"

	"github.com/godbus/dbus/v5"
)

const (
	DefaultService = "org.ofono"

	ManagerPath      = dbus.ObjectPath("/")
	ManagerInterface = "org.ofono.Manager"

	ModemInterface               = "org.ofono.Modem"
	SimManagerInterface          = "org.ofono.SimManager"
	LTEInterface                 = "org.ofono.LongTermEvolution"
	NetworkRegistrationInterface = "org.ofono.NetworkRegistration"
	ConnectionManagerInterface   = "org.ofono.ConnectionManager"

	methodGetModems     = "GetModems"
	methodGetProperties = "GetProperties"
	methodSetProperty   = "SetProperty"

	signalModemAdded      = "ModemAdded"
	signalModemRemoved    = "ModemRemoved"
	signalPropertyChanged = "PropertyChanged"
)

// Interface is the capability bitmask built from a modem's Interfaces
// property.
type Interface uint64

const (
	InterfaceSimManager Interface = 1 << iota
	InterfaceLTE
	InterfaceNetworkRegistration
	InterfaceConnectionManager
)

var interfaceNames = map[string]Interface{
	SimManagerInterface:          InterfaceSimManager,
	LTEInterface:                 InterfaceLTE,
	NetworkRegistrationInterface: InterfaceNetworkRegistration,
	ConnectionManagerInterface:   InterfaceConnectionManager,
}

// InterfacesFromNames maps D-Bus interface names onto capability bits.
// Names without a bit are ignored.
func InterfacesFromNames(names []string) Interface {
	var i Interface
	for _, n := range names {
		i |= interfaceNames[n]
	}
	return i
}

// Has reports whether every bit of other is set.
func (i Interface) Has(other Interface) bool {
	return i&other == other
}

// Names returns the interface names of the set bits, sorted.
func (i Interface) Names() []string {
	names := []string{}
	for n, bit := range interfaceNames {
		if i&bit != 0 {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
