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
	"context"
	"errors"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/TheCacophonyProject/ofono-monitor/internal/ofono"
)

const (
	dbusName = "org.cacophony.OfonoMonitor"
	dbusPath = "/org/cacophony/OfonoMonitor"

	modemChangedSignal = "ModemChanged"
	callTimeout        = 10 * time.Second
)

// executor runs a function on the bus loop. bus.Conn satisfies it.
type executor interface {
	Exec(ctx context.Context, fn func()) error
}

type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

type modemSignal struct {
	kind  string
	path  dbus.ObjectPath
	state map[string]dbus.Variant
}

// service is exported on the system bus. Its methods are called on godbus
// goroutines and reach the Manager through the loop.
type service struct {
	loop    executor
	manager *ofono.Manager
	emitter emitter
	signals chan modemSignal
}

func newService(loop executor, m *ofono.Manager, e emitter) *service {
	return &service{
		loop:    loop,
		manager: m,
		emitter: e,
		signals: make(chan modemSignal, 32),
	}
}

func startService(conn *dbus.Conn, loop executor, m *ofono.Manager) (*service, error) {
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, errors.New("names already taken")
	}

	s := newService(loop, m, conn)
	if err := conn.Export(s, dbusPath, dbusName); err != nil {
		return nil, err
	}
	if err := conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, err
	}
	return s, nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
			Signals: []introspect.Signal{{
				Name: modemChangedSignal,
				Args: []introspect.Arg{
					{Name: "kind", Type: "s"},
					{Name: "path", Type: "o"},
					{Name: "state", Type: "a{sv}"},
				},
			}},
		}},
	}
	return introspect.NewIntrospectable(node)
}

// onEvent is a Manager subscriber; it queues a ModemChanged signal.
func (s *service) onEvent(e ofono.Event) {
	sig := modemSignal{
		kind:  e.Kind.String(),
		path:  e.Modem.Path,
		state: modemState(e.Modem),
	}
	select {
	case s.signals <- sig:
	default:
		log.Warnf("Signal queue full, dropping %s for %s", modemChangedSignal, sig.path)
	}
}

func (s *service) emitSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-s.signals:
			err := s.emitter.Emit(dbusPath, dbusName+"."+modemChangedSignal, sig.kind, sig.path, sig.state)
			if err != nil {
				log.Errorf("Failed to emit %s: %v", modemChangedSignal, err)
			}
		}
	}
}

// GetModems returns the state of every known modem keyed by object path.
func (s *service) GetModems() (map[string]map[string]dbus.Variant, *dbus.Error) {
	var modems []ofono.Modem
	if err := s.exec(func() { modems = s.manager.Modems() }); err != nil {
		return nil, makeDbusError("GetModems", err)
	}
	return modemStates(modems), nil
}

func (s *service) GetModem(path dbus.ObjectPath) (map[string]dbus.Variant, *dbus.Error) {
	var (
		m  ofono.Modem
		ok bool
	)
	if err := s.exec(func() { m, ok = s.manager.Modem(path) }); err != nil {
		return nil, makeDbusError("GetModem", err)
	}
	if !ok {
		return nil, makeDbusError("GetModem", ofono.ErrUnknownModem)
	}
	return modemState(m), nil
}

// SetPowered waits for oFono to accept or refuse the change.
func (s *service) SetPowered(path dbus.ObjectPath, on bool) *dbus.Error {
	log.Printf("Setting %s powered to %t", path, on)
	if err := s.setProperty(path, on, (*ofono.Manager).SetPowered); err != nil {
		log.Println(err)
		return makeDbusError("SetPowered", err)
	}
	return nil
}

func (s *service) SetOnline(path dbus.ObjectPath, on bool) *dbus.Error {
	log.Printf("Setting %s online to %t", path, on)
	if err := s.setProperty(path, on, (*ofono.Manager).SetOnline); err != nil {
		log.Println(err)
		return makeDbusError("SetOnline", err)
	}
	return nil
}

type setter func(m *ofono.Manager, path dbus.ObjectPath, on bool, done func(error)) error

func (s *service) setProperty(path dbus.ObjectPath, on bool, set setter) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	result := make(chan error, 1)
	var sendErr error
	err := s.loop.Exec(ctx, func() {
		if _, ok := s.manager.Modem(path); !ok {
			sendErr = ofono.ErrUnknownModem
			return
		}
		sendErr = set(s.manager, path, on, func(err error) { result <- err })
	})
	if err != nil {
		return err
	}
	if sendErr != nil {
		return sendErr
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *service) exec(fn func()) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return s.loop.Exec(ctx, fn)
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + "." + name,
		Body: []interface{}{err.Error()},
	}
}
