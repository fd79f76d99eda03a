package ofono

import (
	"fmt"
	"sort"

	"github.com/godbus/dbus/v5"
)

// Tristate is a flag that may not have been reported yet.
type Tristate int8

const (
	Unknown Tristate = iota
	False
	True
)

// TristateOf converts a reported boolean.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

func (t Tristate) String() string {
	switch t {
	case False:
		return "false"
	case True:
		return "true"
	}
	return "unknown"
}

// SIM is the state taken from org.ofono.SimManager.
type SIM struct {
	Present Tristate
	IMSI    string
	SPN     string
}

// Net is the state taken from org.ofono.NetworkRegistration.
type Net struct {
	Registered Tristate
	Roaming    Tristate
	Name       string
}

// Conn is the state taken from org.ofono.ConnectionManager.
type Conn struct {
	Attached Tristate
	Bearer   string
}

// Modem is the consolidated state of one oFono modem. SIM, Net and Conn are
// only current while the matching bit is set in Interfaces; they keep their
// last values when the interface goes away.
type Modem struct {
	Path       dbus.ObjectPath
	Powered    bool
	Online     Tristate
	Emergency  Tristate
	IMEI       string
	Interfaces Interface
	SIM        SIM
	Net        Net
	Conn       Conn
}

// NewModem returns a record with everything but the path and power state
// unknown.
func NewModem(path dbus.ObjectPath, powered bool) *Modem {
	return &Modem{Path: path, Powered: powered}
}

// Registry owns the Modem records, keyed by object path.
type Registry struct {
	modems map[dbus.ObjectPath]*Modem
}

func NewRegistry() *Registry {
	return &Registry{modems: map[dbus.ObjectPath]*Modem{}}
}

// Find returns the record for path.
func (r *Registry) Find(path dbus.ObjectPath) (*Modem, bool) {
	m, ok := r.modems[path]
	return m, ok
}

// Insert stores a copy of m and returns the stored record. Inserting a path
// that is already present is a bug in the caller and panics.
func (r *Registry) Insert(m *Modem) *Modem {
	if _, ok := r.modems[m.Path]; ok {
		panic(fmt.Sprintf("ofono: modem %s already registered", m.Path))
	}
	c := *m
	r.modems[m.Path] = &c
	return &c
}

// Remove deletes the record for path, if any.
func (r *Registry) Remove(path dbus.ObjectPath) {
	delete(r.modems, path)
}

// Clear deletes every record.
func (r *Registry) Clear() {
	r.modems = map[dbus.ObjectPath]*Modem{}
}

func (r *Registry) Len() int {
	return len(r.modems)
}

// Paths returns the known object paths, sorted.
func (r *Registry) Paths() []dbus.ObjectPath {
	paths := make([]dbus.ObjectPath, 0, len(r.modems))
	for p := range r.modems {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

// Snapshot returns copies of every record, sorted by path.
func (r *Registry) Snapshot() []Modem {
	out := make([]Modem, 0, len(r.modems))
	for _, p := range r.Paths() {
		out = append(out, *r.modems[p])
	}
	return out
}
