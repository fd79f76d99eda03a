package ofono

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/TheCacophonyProject/ofono-monitor/internal/bus"
	"github.com/TheCacophonyProject/ofono-monitor/internal/busvalue"
	"github.com/TheCacophonyProject/ofono-monitor/internal/notifier"
)

// Tracker follows the properties of one oFono interface for every object
// path somebody registered interest in.
//
// The first registration for a path fetches all of its properties and replays
// them to the path's callbacks; PropertyChanged signals keep them current
// afterwards. A single signal subscription is shared by all paths and dropped
// with the last registration. Fetch results and signals are not ordered with
// respect to each other, so callbacks must treat every property as the latest
// value rather than as a delta.
type Tracker struct {
	bus     bus.Bus
	service string
	iface   string
	decode  busvalue.Decoder
	log     logrus.FieldLogger

	// nil when no path has subscribers.
	paths     map[dbus.ObjectPath]*notifier.Registry[busvalue.Property]
	token     bus.Token
	listening bool
}

// NewTracker returns a tracker for iface on service. decode may be nil.
func NewTracker(b bus.Bus, service, iface string, decode busvalue.Decoder, log logrus.FieldLogger) *Tracker {
	if decode == nil {
		decode = busvalue.FromNamedVariant
	}
	return &Tracker{
		bus:     b,
		service: service,
		iface:   iface,
		decode:  decode,
		log:     log.WithField("interface", iface),
	}
}

// Interface returns the D-Bus interface being tracked.
func (t *Tracker) Interface() string { return t.iface }

// Register adds fn to the callbacks for path. If path had no callbacks its
// properties are fetched, and the signal subscription is installed if no
// other path had any. On error nothing is registered.
func (t *Tracker) Register(path dbus.ObjectPath, fn func(busvalue.Property)) (notifier.Handle, error) {
	reg := t.paths[path]
	if reg == nil {
		installed := false
		if !t.listening {
			tok, err := t.bus.Subscribe(t.iface, t.onSignal)
			if err != nil {
				return 0, fmt.Errorf("failed to listen for %s signals: %w", t.iface, err)
			}
			t.token = tok
			t.listening = true
			installed = true
		}
		if err := t.fetch(path); err != nil {
			if installed {
				t.stopListening()
			}
			return 0, err
		}
		reg = &notifier.Registry[busvalue.Property]{}
		if t.paths == nil {
			t.paths = map[dbus.ObjectPath]*notifier.Registry[busvalue.Property]{}
		}
		t.paths[path] = reg
	}
	return reg.Register(fn), nil
}

// Close removes the registration h for path.
func (t *Tracker) Close(path dbus.ObjectPath, h notifier.Handle) {
	reg := t.paths[path]
	if reg == nil {
		return
	}
	reg.Close(h)
	t.prune(path, reg)
}

// CloseAll removes every registration for path.
func (t *Tracker) CloseAll(path dbus.ObjectPath) {
	reg := t.paths[path]
	if reg == nil {
		return
	}
	reg.CloseAll()
	t.prune(path, reg)
}

// Subscribers returns the number of registrations for path.
func (t *Tracker) Subscribers(path dbus.ObjectPath) int {
	if reg := t.paths[path]; reg != nil {
		return reg.Len()
	}
	return 0
}

// Paths returns the number of paths with registrations.
func (t *Tracker) Paths() int {
	return len(t.paths)
}

// Listening reports whether the shared signal subscription is installed.
func (t *Tracker) Listening() bool {
	return t.listening
}

func (t *Tracker) prune(path dbus.ObjectPath, reg *notifier.Registry[busvalue.Property]) {
	if reg.Len() > 0 {
		return
	}
	delete(t.paths, path)
	if len(t.paths) == 0 {
		t.paths = nil
		t.stopListening()
	}
}

func (t *Tracker) stopListening() {
	if !t.listening {
		return
	}
	t.bus.Unsubscribe(t.token)
	t.token = 0
	t.listening = false
}

func (t *Tracker) fetch(path dbus.ObjectPath) error {
	err := t.bus.Call(t.service, path, t.iface, methodGetProperties, func(r bus.Reply) {
		t.onProperties(path, r)
	})
	if err != nil {
		t.log.Errorf("could not send '%s' to %s: %v", methodGetProperties, path, err)
		return fmt.Errorf("failed to fetch %s properties of %s: %w", t.iface, path, err)
	}
	return nil
}

func (t *Tracker) onProperties(path dbus.ObjectPath, r bus.Reply) {
	if r.Err != nil {
		t.log.Warnf("%s for %s returned %s", methodGetProperties, path, bus.Describe(r.Err))
		return
	}
	if len(r.Body) < 1 {
		t.log.Warnf("empty %s reply for %s", methodGetProperties, path)
		return
	}
	dict, ok := r.Body[0].(map[string]dbus.Variant)
	if !ok {
		t.log.Warnf("unexpected %s reply for %s: %T", methodGetProperties, path, r.Body[0])
		return
	}
	props, errs := busvalue.ReadDict(dict, t.decode)
	for _, err := range errs {
		t.logDecodeError(path, err)
	}
	for _, p := range props {
		// Looked up each time, a callback may have closed the path.
		reg := t.paths[path]
		if reg == nil {
			return
		}
		t.log.Debugf("%s property %s", path, p)
		reg.Notify(p)
	}
}

func (t *Tracker) onSignal(sig *dbus.Signal) {
	_, member := bus.SplitMember(sig.Name)
	if member != signalPropertyChanged {
		return
	}
	reg := t.paths[sig.Path]
	if reg == nil {
		return
	}
	p, err := busvalue.ReadNamedVariant(sig.Body, t.decode)
	if err != nil {
		t.logDecodeError(sig.Path, err)
		return
	}
	t.log.Debugf("%s property changed %s", sig.Path, p)
	reg.Notify(p)
}

func (t *Tracker) logDecodeError(path dbus.ObjectPath, err error) {
	if errors.Is(err, busvalue.ErrUnsupported) {
		t.log.Debugf("ignoring %s property: %v", path, err)
		return
	}
	t.log.Warnf("invalid %s property: %v", path, err)
}

// decodeModemProperty maps the Interfaces string array onto a capability
// bitmask; everything else is read as a scalar.
func decodeModemProperty(name string, v dbus.Variant) (busvalue.Value, error) {
	if name != "Interfaces" {
		return busvalue.FromVariant(v)
	}
	names, ok := v.Value().([]string)
	if !ok {
		return busvalue.Value{}, fmt.Errorf("%w: Interfaces has signature %s", busvalue.ErrMalformed, v.Signature())
	}
	return busvalue.OfUint64(uint64(InterfacesFromNames(names))), nil
}
