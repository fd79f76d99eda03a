package ofono

import (
	"errors"
	"fmt"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/TheCacophonyProject/ofono-monitor/internal/bus"
	"github.com/TheCacophonyProject/ofono-monitor/internal/busvalue"
	"github.com/TheCacophonyProject/ofono-monitor/internal/notifier"
)

var (
	// ErrUnknownModem is returned for operations on paths the Manager has not seen.
	ErrUnknownModem = errors.New("unknown modem")
	// ErrNotActive is returned by the setters while nobody is subscribed.
	ErrNotActive = errors.New("manager has no subscribers")
)

// EventKind says what happened to a modem.
type EventKind int

const (
	Added EventKind = iota
	Changed
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is published to Manager subscribers. Modem is a copy of the record
// at the time of the event.
type Event struct {
	Kind  EventKind
	Modem Modem
}

// dependency ties a capability bit to the tracker that follows it and the
// function folding its properties into a Modem.
type dependency struct {
	cap     Interface
	tracker *Tracker
	apply   func(m *Modem, p busvalue.Property) (bool, error)
}

// Manager keeps one Modem record per oFono modem and publishes an Event for
// every change to them.
type Manager struct {
	bus       bus.Bus
	service   string
	autoPower bool
	log       logrus.FieldLogger

	modems *Tracker
	sims   *Tracker
	nets   *Tracker
	conns  *Tracker
	deps   []dependency

	registry  *Registry
	handles   map[dbus.ObjectPath]map[*Tracker]notifier.Handle
	notifiers notifier.Registry[Event]
	token     bus.Token
	active    bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the Manager and its trackers.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = l }
}

// WithService sets the bus name of the oFono daemon.
func WithService(name string) Option {
	return func(m *Manager) { m.service = name }
}

// WithAutoPower controls whether modems found unpowered are powered on.
// It is on by default.
func WithAutoPower(on bool) Option {
	return func(m *Manager) { m.autoPower = on }
}

func NewManager(b bus.Bus, opts ...Option) *Manager {
	m := &Manager{
		bus:       b,
		service:   DefaultService,
		autoPower: true,
		registry:  NewRegistry(),
		handles:   map[dbus.ObjectPath]map[*Tracker]notifier.Handle{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.NewLogger("info").Logger
	}
	m.modems = NewTracker(b, m.service, ModemInterface, decodeModemProperty, m.log)
	m.sims = NewTracker(b, m.service, SimManagerInterface, nil, m.log)
	m.nets = NewTracker(b, m.service, NetworkRegistrationInterface, nil, m.log)
	m.conns = NewTracker(b, m.service, ConnectionManagerInterface, nil, m.log)
	m.deps = []dependency{
		{cap: InterfaceSimManager, tracker: m.sims, apply: applySIM},
		{cap: InterfaceNetworkRegistration, tracker: m.nets, apply: applyNet},
		{cap: InterfaceConnectionManager, tracker: m.conns, apply: applyConn},
	}
	return m
}

// Subscribe adds fn to the receivers of modem events. The first subscriber
// starts listening for modems and enumerates the existing ones; if that cannot
// be started nothing is registered.
func (m *Manager) Subscribe(fn func(Event)) (notifier.Handle, error) {
	if !m.active {
		if err := m.start(); err != nil {
			return 0, err
		}
	}
	return m.notifiers.Register(fn), nil
}

// Unsubscribe removes a subscriber. When the last one is gone every tracker
// is released and the modem records are dropped.
func (m *Manager) Unsubscribe(h notifier.Handle) {
	if !m.notifiers.Close(h) {
		return
	}
	if m.notifiers.Len() == 0 {
		m.stop()
	}
}

// Close removes every subscriber.
func (m *Manager) Close() {
	m.notifiers.CloseAll()
	m.stop()
}

// Modems returns a copy of every known modem, sorted by path.
func (m *Manager) Modems() []Modem {
	return m.registry.Snapshot()
}

// Modem returns a copy of the record for path.
func (m *Manager) Modem(path dbus.ObjectPath) (Modem, bool) {
	rec, ok := m.registry.Find(path)
	if !ok {
		return Modem{}, false
	}
	return *rec, true
}

// SetPowered asks oFono to power the modem on or off. The returned error
// only covers sending the request; done, if not nil, gets the outcome. The
// new state shows up later as a Changed event.
func (m *Manager) SetPowered(path dbus.ObjectPath, on bool, done func(error)) error {
	return m.setProperty(path, "Powered", on, done)
}

// SetOnline asks oFono to switch the radio of the modem on or off.
func (m *Manager) SetOnline(path dbus.ObjectPath, on bool, done func(error)) error {
	return m.setProperty(path, "Online", on, done)
}

func (m *Manager) setProperty(path dbus.ObjectPath, name string, value bool, done func(error)) error {
	if !m.active {
		return ErrNotActive
	}
	err := m.bus.Call(m.service, path, ModemInterface, methodSetProperty, func(r bus.Reply) {
		if r.Err != nil {
			m.log.Warnf("%s %s on %s returned %s", methodSetProperty, name, path, bus.Describe(r.Err))
		}
		if done != nil {
			done(r.Err)
		}
	}, name, dbus.MakeVariant(value))
	if err != nil {
		m.log.Errorf("could not send '%s %s' to %s: %v", methodSetProperty, name, path, err)
		return fmt.Errorf("failed to set %s on %s: %w", name, path, err)
	}
	return nil
}

func (m *Manager) start() error {
	tok, err := m.bus.Subscribe(ManagerInterface, m.onManagerSignal)
	if err != nil {
		return fmt.Errorf("failed to listen for modems: %w", err)
	}
	err = m.bus.Call(m.service, ManagerPath, ManagerInterface, methodGetModems, m.onModems)
	if err != nil {
		m.bus.Unsubscribe(tok)
		m.log.Errorf("could not send '%s': %v", methodGetModems, err)
		return fmt.Errorf("failed to list modems: %w", err)
	}
	m.token = tok
	m.active = true
	return nil
}

func (m *Manager) stop() {
	if !m.active {
		return
	}
	m.active = false
	m.bus.Unsubscribe(m.token)
	m.token = 0
	for path := range m.handles {
		m.releaseAll(path)
	}
	m.registry.Clear()
}

func (m *Manager) onModems(r bus.Reply) {
	if !m.active {
		return
	}
	if r.Err != nil {
		m.log.Warnf("%s returned %s", methodGetModems, bus.Describe(r.Err))
		return
	}
	if len(r.Body) < 1 {
		m.log.Warnf("empty %s reply", methodGetModems)
		return
	}
	list, ok := r.Body[0].([][]interface{})
	if !ok {
		m.log.Warnf("unexpected argument type in %s reply: %T", methodGetModems, r.Body[0])
		return
	}
	for _, entry := range list {
		if !m.active {
			return
		}
		if err := m.addModem(entry); err != nil {
			m.log.Warnf("cannot add modem while processing %s reply: %v", methodGetModems, err)
		}
	}
}

func (m *Manager) onManagerSignal(sig *dbus.Signal) {
	if !m.active {
		return
	}
	_, member := bus.SplitMember(sig.Name)
	switch member {
	case signalModemAdded:
		if err := m.addModem(sig.Body); err != nil {
			m.log.Warnf("invalid arguments for %s signal: %v", signalModemAdded, err)
		}
	case signalModemRemoved:
		if len(sig.Body) < 1 {
			m.log.Warnf("invalid arguments for %s signal", signalModemRemoved)
			return
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			m.log.Warnf("invalid arguments for %s signal: path is %T", signalModemRemoved, sig.Body[0])
			return
		}
		m.removeModem(path)
	}
}

// addModem handles one (object path, properties) pair from GetModems or
// ModemAdded.
func (m *Manager) addModem(args []interface{}) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: expected path and properties", busvalue.ErrMalformed)
	}
	path, ok := args[0].(dbus.ObjectPath)
	if !ok {
		return fmt.Errorf("%w: path is %T", busvalue.ErrMalformed, args[0])
	}
	props, ok := args[1].(map[string]dbus.Variant)
	if !ok {
		return fmt.Errorf("%w: properties of %s are %T", busvalue.ErrMalformed, path, args[1])
	}
	v, ok := props["Powered"]
	if !ok {
		return fmt.Errorf("%w: %s has no Powered property", busvalue.ErrMalformed, path)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return fmt.Errorf("%w: Powered of %s has signature %s", busvalue.ErrMalformed, path, v.Signature())
	}
	m.addOrChange(path, powered)
	return nil
}

func (m *Manager) addOrChange(path dbus.ObjectPath, powered bool) {
	if rec, ok := m.registry.Find(path); ok {
		m.emit(Changed, rec)
	} else {
		rec = m.registry.Insert(NewModem(path, powered))
		m.log.Infof("modem %s added", path)
		m.emit(Added, rec)
		if !m.active {
			return
		}
		m.attach(path, m.modems, func(p busvalue.Property) { m.onModemProperty(path, p) })
	}

	if !powered && m.autoPower {
		m.log.Infof("Powering on %s", path)
		_ = m.SetPowered(path, true, nil)
	}
}

func (m *Manager) removeModem(path dbus.ObjectPath) {
	rec, ok := m.registry.Find(path)
	if !ok {
		m.emit(Removed, NewModem(path, false))
		return
	}
	m.log.Infof("modem %s removed", path)
	m.emit(Removed, rec)
	m.releaseAll(path)
	m.registry.Remove(path)
}

func (m *Manager) emit(kind EventKind, rec *Modem) {
	m.notifiers.Notify(Event{Kind: kind, Modem: *rec})
}

func (m *Manager) attach(path dbus.ObjectPath, t *Tracker, fn func(busvalue.Property)) {
	h, err := t.Register(path, fn)
	if err != nil {
		m.log.Errorf("failed to track %s of %s: %v", t.Interface(), path, err)
		return
	}
	hs := m.handles[path]
	if hs == nil {
		hs = map[*Tracker]notifier.Handle{}
		m.handles[path] = hs
	}
	hs[t] = h
}

func (m *Manager) release(path dbus.ObjectPath, t *Tracker) {
	hs := m.handles[path]
	h, ok := hs[t]
	if !ok {
		return
	}
	delete(hs, t)
	if len(hs) == 0 {
		delete(m.handles, path)
	}
	t.Close(path, h)
}

func (m *Manager) releaseAll(path dbus.ObjectPath) {
	for t, h := range m.handles[path] {
		t.Close(path, h)
	}
	delete(m.handles, path)
}

func (m *Manager) onModemProperty(path dbus.ObjectPath, p busvalue.Property) {
	rec, ok := m.registry.Find(path)
	if !ok {
		return
	}
	m.log.Debugf("modem %s property changed %s", path, p)
	changed, err := m.applyModem(rec, p)
	if err != nil {
		m.log.Warnf("modem %s: %v", path, err)
		return
	}
	if changed {
		m.emit(Changed, rec)
	}
}

func (m *Manager) onDependentProperty(path dbus.ObjectPath, d dependency, p busvalue.Property) {
	rec, ok := m.registry.Find(path)
	if !ok {
		return
	}
	m.log.Debugf("%s %s property changed %s", d.tracker.Interface(), path, p)
	changed, err := d.apply(rec, p)
	if err != nil {
		m.log.Warnf("%s %s: %v", d.tracker.Interface(), path, err)
		return
	}
	if changed {
		m.emit(Changed, rec)
	}
}

func (m *Manager) applyModem(rec *Modem, p busvalue.Property) (bool, error) {
	switch p.Name {
	case "Powered":
		b, ok := p.Value.Bool()
		if !ok {
			return false, wrongKind(p)
		}
		rec.Powered = b
	case "Online":
		b, ok := p.Value.Bool()
		if !ok {
			return false, wrongKind(p)
		}
		rec.Online = TristateOf(b)
	case "Emergency":
		b, ok := p.Value.Bool()
		if !ok {
			return false, wrongKind(p)
		}
		rec.Emergency = TristateOf(b)
	case "Serial":
		s, ok := p.Value.Str()
		if !ok {
			return false, wrongKind(p)
		}
		rec.IMEI = s
	case "Interfaces":
		u, ok := p.Value.Uint()
		if !ok {
			return false, wrongKind(p)
		}
		m.updateInterfaces(rec, Interface(u))
	default:
		return false, nil
	}
	return true, nil
}

// updateInterfaces registers with or releases the tracker of every capability
// whose bit flips, then stores the new mask.
func (m *Manager) updateInterfaces(rec *Modem, next Interface) {
	path := rec.Path
	old := rec.Interfaces
	diff := old ^ next
	for _, d := range m.deps {
		if diff&d.cap == 0 {
			continue
		}
		if old&d.cap != 0 {
			m.release(path, d.tracker)
		} else {
			d := d
			m.attach(path, d.tracker, func(p busvalue.Property) { m.onDependentProperty(path, d, p) })
		}
	}
	rec.Interfaces = next
}

func applySIM(rec *Modem, p busvalue.Property) (bool, error) {
	switch p.Name {
	case "Present":
		b, ok := p.Value.Bool()
		if !ok {
			return false, wrongKind(p)
		}
		rec.SIM.Present = TristateOf(b)
	case "SubscriberIdentity":
		s, ok := p.Value.Str()
		if !ok {
			return false, wrongKind(p)
		}
		rec.SIM.IMSI = s
	case "ServiceProviderName":
		s, ok := p.Value.Str()
		if !ok {
			return false, wrongKind(p)
		}
		rec.SIM.SPN = s
	default:
		return false, nil
	}
	return true, nil
}

func applyNet(rec *Modem, p busvalue.Property) (bool, error) {
	switch p.Name {
	case "Status":
		s, ok := p.Value.Str()
		if !ok {
			return false, wrongKind(p)
		}
		rec.Net.Registered, rec.Net.Roaming = registrationStatus(s)
	case "Name":
		s, ok := p.Value.Str()
		if !ok {
			return false, wrongKind(p)
		}
		rec.Net.Name = s
	default:
		return false, nil
	}
	return true, nil
}

func applyConn(rec *Modem, p busvalue.Property) (bool, error) {
	switch p.Name {
	case "Attached":
		b, ok := p.Value.Bool()
		if !ok {
			return false, wrongKind(p)
		}
		rec.Conn.Attached = TristateOf(b)
	case "Bearer":
		s, ok := p.Value.Str()
		if !ok {
			return false, wrongKind(p)
		}
		rec.Conn.Bearer = s
	default:
		return false, nil
	}
	return true, nil
}

// registrationStatus maps the NetworkRegistration Status string onto the
// registered and roaming flags.
func registrationStatus(status string) (registered, roaming Tristate) {
	switch status {
	case "registered":
		return True, False
	case "roaming":
		return True, True
	}
	return False, False
}

func wrongKind(p busvalue.Property) error {
	return fmt.Errorf("%w: %s is %s", busvalue.ErrMalformed, p.Name, p.Value.Kind())
}
