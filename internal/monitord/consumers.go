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
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/TheCacophonyProject/ofono-monitor/internal/ofono"
)

func logEvent(e ofono.Event) {
	m := e.Modem
	log.WithFields(logrus.Fields{
		"modem":      m.Path,
		"powered":    m.Powered,
		"online":     m.Online,
		"sim":        m.SIM.Present,
		"registered": m.Net.Registered,
		"roaming":    m.Net.Roaming,
		"operator":   m.Net.Name,
	}).Infof("modem %s", e.Kind)
}

// addEvent is replaced in tests.
var addEvent = eventclient.AddEvent

// reporter turns modem transitions into event-reporter events. onEvent runs
// on the bus loop; the events are handed to run, which does the blocking
// AddEvent calls.
type reporter struct {
	last  map[dbus.ObjectPath]ofono.Modem
	queue chan eventclient.Event
	now   func() time.Time
}

func newReporter() *reporter {
	return &reporter{
		last:  map[dbus.ObjectPath]ofono.Modem{},
		queue: make(chan eventclient.Event, 32),
		now:   time.Now,
	}
}

func (r *reporter) onEvent(e ofono.Event) {
	for _, ev := range r.events(e) {
		select {
		case r.queue <- ev:
		default:
			log.Warnf("Event queue full, dropping %s event", ev.Type)
		}
	}
}

func (r *reporter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			log.Printf("Making %s event.", ev.Type)
			if err := addEvent(ev); err != nil {
				log.Errorf("Failed to make %s event: %v", ev.Type, err)
			}
		}
	}
}

// events returns the events to report for e, comparing it with the last
// record seen for the same modem.
func (r *reporter) events(e ofono.Event) []eventclient.Event {
	m := e.Modem
	if e.Kind == ofono.Removed {
		delete(r.last, m.Path)
		return []eventclient.Event{r.event("modemRemoved", m, nil)}
	}

	var out []eventclient.Event
	prev, known := r.last[m.Path]
	if e.Kind == ofono.Added && !known {
		out = append(out, r.event("modemAdded", m, map[string]interface{}{
			"powered": m.Powered,
		}))
	}
	if becameTrue(prev.SIM.Present, m.SIM.Present) {
		out = append(out, r.event("modemSimPresent", m, nil))
	}
	if becameTrue(prev.Net.Registered, m.Net.Registered) {
		out = append(out, r.event("modemNetworkRegistered", m, map[string]interface{}{
			"operator": m.Net.Name,
			"roaming":  m.Net.Roaming == ofono.True,
		}))
	}
	if becameTrue(prev.Net.Roaming, m.Net.Roaming) {
		out = append(out, r.event("modemRoaming", m, map[string]interface{}{
			"operator": m.Net.Name,
		}))
	}
	r.last[m.Path] = m
	return out
}

func (r *reporter) event(kind string, m ofono.Modem, details map[string]interface{}) eventclient.Event {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["modem"] = string(m.Path)
	if m.IMEI != "" {
		details["imei"] = m.IMEI
	}
	return eventclient.Event{
		Timestamp: r.now(),
		Type:      kind,
		Details:   details,
	}
}

func becameTrue(prev, next ofono.Tristate) bool {
	return next == ofono.True && prev != ofono.True
}
