/*
ofono-monitor - Tracks cellular modems managed by oFono
Copyright (C) 2019, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package monitord

import (
	"github.com/godbus/dbus/v5"

	"github.com/TheCacophonyProject/ofono-monitor/internal/ofono"
)

// modemState converts a modem record into the a{sv} sent over D-Bus.
// Tri-state fields are left out while they are unknown and empty strings
// are dropped.
func modemState(m ofono.Modem) map[string]dbus.Variant {
	state := map[string]dbus.Variant{
		"powered":    dbus.MakeVariant(m.Powered),
		"interfaces": dbus.MakeVariant(m.Interfaces.Names()),
	}
	putTristate(state, "online", m.Online)
	putTristate(state, "emergency", m.Emergency)
	putTristate(state, "simPresent", m.SIM.Present)
	putTristate(state, "registered", m.Net.Registered)
	putTristate(state, "roaming", m.Net.Roaming)
	putTristate(state, "attached", m.Conn.Attached)
	putString(state, "imei", m.IMEI)
	putString(state, "imsi", m.SIM.IMSI)
	putString(state, "simProvider", m.SIM.SPN)
	putString(state, "operator", m.Net.Name)
	putString(state, "bearer", m.Conn.Bearer)
	return state
}

func modemStates(modems []ofono.Modem) map[string]map[string]dbus.Variant {
	out := make(map[string]map[string]dbus.Variant, len(modems))
	for _, m := range modems {
		out[string(m.Path)] = modemState(m)
	}
	return out
}

func putTristate(state map[string]dbus.Variant, key string, t ofono.Tristate) {
	if t != ofono.Unknown {
		state[key] = dbus.MakeVariant(t == ofono.True)
	}
}

func putString(state map[string]dbus.Variant, key, s string) {
	if s != "" {
		state[key] = dbus.MakeVariant(s)
	}
}
