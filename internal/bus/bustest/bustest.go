// Package bustest provides an in-memory bus.Bus for tests. Everything runs
// synchronously on the calling goroutine.
package bustest

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/TheCacophonyProject/ofono-monitor/internal/bus"
)

// ErrDispatch is a convenient error for FailCalls.
var ErrDispatch = errors.New("dispatch failed")

// Call is a method call recorded by Bus.
type Call struct {
	Dest   string
	Path   dbus.ObjectPath
	Iface  string
	Method string
	Args   []interface{}

	reply    bus.ReplyFunc
	answered bool
}

// Answered reports whether a reply has been delivered.
func (c *Call) Answered() bool { return c.answered }

type sub struct {
	token   bus.Token
	iface   string
	handler bus.SignalFunc
	active  bool
}

// Bus records calls and subscriptions.
type Bus struct {
	Calls []*Call

	// FailCalls makes Call return this error. FailMethod restricts it to one
	// method name.
	FailCalls  error
	FailMethod string
	// FailSubscribe makes Subscribe return this error.
	FailSubscribe error

	// SubscribeCount and UnsubscribeCount count successful operations.
	SubscribeCount   int
	UnsubscribeCount int

	subs []*sub
	next bus.Token
}

func (b *Bus) Call(dest string, path dbus.ObjectPath, iface, method string, reply bus.ReplyFunc, args ...interface{}) error {
	if b.FailCalls != nil && (b.FailMethod == "" || b.FailMethod == method) {
		return b.FailCalls
	}
	b.Calls = append(b.Calls, &Call{
		Dest:   dest,
		Path:   path,
		Iface:  iface,
		Method: method,
		Args:   args,
		reply:  reply,
	})
	return nil
}

func (b *Bus) Subscribe(iface string, handler bus.SignalFunc) (bus.Token, error) {
	if b.FailSubscribe != nil {
		return 0, b.FailSubscribe
	}
	b.next++
	b.subs = append(b.subs, &sub{token: b.next, iface: iface, handler: handler, active: true})
	b.SubscribeCount++
	return b.next, nil
}

func (b *Bus) Unsubscribe(tok bus.Token) {
	for i, s := range b.subs {
		if s.token == tok {
			s.active = false
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			b.UnsubscribeCount++
			return
		}
	}
}

// Subscribed returns the number of live subscriptions for iface.
func (b *Bus) Subscribed(iface string) int {
	n := 0
	for _, s := range b.subs {
		if s.iface == iface {
			n++
		}
	}
	return n
}

// Pending returns the unanswered calls matching iface and method, oldest
// first. Empty strings match anything.
func (b *Bus) Pending(iface, method string) []*Call {
	var out []*Call
	for _, c := range b.Calls {
		if c.answered {
			continue
		}
		if (iface == "" || c.Iface == iface) && (method == "" || c.Method == method) {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the calls for path, iface and method, answered or not.
func (b *Bus) Find(path dbus.ObjectPath, iface, method string) []*Call {
	var out []*Call
	for _, c := range b.Calls {
		if c.Path == path && c.Iface == iface && c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reply answers c with body. A call is only answered once; later replies
// are dropped.
func (b *Bus) Reply(c *Call, body ...interface{}) {
	b.answer(c, bus.Reply{Body: body})
}

// ReplyError answers c with a D-Bus error reply.
func (b *Bus) ReplyError(c *Call, name string) {
	b.answer(c, bus.Reply{Err: dbus.Error{Name: name}})
}

func (b *Bus) answer(c *Call, r bus.Reply) {
	if c.answered {
		return
	}
	c.answered = true
	if c.reply != nil {
		c.reply(r)
	}
}

// Emit delivers a signal to the subscribers of iface.
func (b *Bus) Emit(path dbus.ObjectPath, iface, member string, body ...interface{}) {
	sig := &dbus.Signal{
		Sender: ":1.1",
		Path:   path,
		Name:   iface + "." + member,
		Body:   body,
	}
	subs := make([]*sub, len(b.subs))
	copy(subs, b.subs)
	for _, s := range subs {
		if s.active && s.iface == iface {
			s.handler(sig)
		}
	}
}
