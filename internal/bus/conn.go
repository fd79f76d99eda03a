package bus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

type subscription struct {
	token   Token
	iface   string
	handler SignalFunc
	active  bool
}

// Conn implements Bus on top of a godbus connection. All replies, signals and
// posted functions run on the goroutine executing Run. Replies run in the
// order godbus completes the calls.
type Conn struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	replies chan *dbus.Call
	work    chan func()
	stopped chan struct{}

	// Only touched from the loop.
	pending map[*dbus.Call]ReplyFunc
	subs    []*subscription
	matches map[string]int
	next    Token
}

// NewConn wraps conn. Nothing is delivered until Run is called.
func NewConn(conn *dbus.Conn) *Conn {
	c := &Conn{
		conn:    conn,
		signals: make(chan *dbus.Signal, 64),
		replies: make(chan *dbus.Call, 256),
		work:    make(chan func(), 64),
		stopped: make(chan struct{}),
		pending: map[*dbus.Call]ReplyFunc{},
		matches: map[string]int{},
	}
	conn.Signal(c.signals)
	return c
}

// Run executes the loop until ctx is done or the connection drops.
func (c *Conn) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer c.conn.RemoveSignal(c.signals)
	return c.loop(ctx)
}

func (c *Conn) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.work:
			fn()
		case call := <-c.replies:
			c.deliver(call)
		case sig, ok := <-c.signals:
			if !ok {
				return ErrClosed
			}
			c.dispatch(sig)
		}
	}
}

// Post schedules fn on the loop. It must not be called from the loop itself.
func (c *Conn) Post(fn func()) error {
	select {
	case c.work <- fn:
		return nil
	case <-c.stopped:
		return ErrClosed
	}
}

// Exec runs fn on the loop and waits for it to return.
func (c *Conn) Exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := c.Post(func() {
		fn()
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrClosed
	}
}

func (c *Conn) Call(dest string, path dbus.ObjectPath, iface, method string, reply ReplyFunc, args ...interface{}) error {
	if !path.IsValid() {
		return fmt.Errorf("%w: object path '%s'", ErrInvalidRequest, path)
	}
	if iface == "" || method == "" {
		return fmt.Errorf("%w: empty interface or method", ErrInvalidRequest)
	}
	if !c.conn.Connected() {
		return ErrClosed
	}
	// Every call completes onto the shared replies channel, which the loop
	// drains in order. Call runs on the loop, so the completion cannot be
	// handled before pending is set.
	call := c.conn.Object(dest, path).Go(iface+"."+method, 0, c.replies, args...)
	c.pending[call] = reply
	return nil
}

func (c *Conn) deliver(call *dbus.Call) {
	reply, ok := c.pending[call]
	if !ok {
		return
	}
	delete(c.pending, call)
	if reply != nil {
		reply(Reply{Body: call.Body, Err: call.Err})
	}
}

func (c *Conn) Subscribe(iface string, handler SignalFunc) (Token, error) {
	if c.matches[iface] == 0 {
		if err := c.conn.AddMatchSignal(dbus.WithMatchInterface(iface)); err != nil {
			return 0, fmt.Errorf("failed to add match for %s: %w", iface, err)
		}
	}
	c.matches[iface]++
	c.next++
	c.subs = append(c.subs, &subscription{token: c.next, iface: iface, handler: handler, active: true})
	return c.next, nil
}

func (c *Conn) Unsubscribe(tok Token) {
	for i, s := range c.subs {
		if s.token != tok {
			continue
		}
		s.active = false
		c.subs = append(c.subs[:i], c.subs[i+1:]...)
		c.matches[s.iface]--
		if c.matches[s.iface] == 0 {
			delete(c.matches, s.iface)
			_ = c.conn.RemoveMatchSignal(dbus.WithMatchInterface(s.iface))
		}
		return
	}
}

func (c *Conn) dispatch(sig *dbus.Signal) {
	iface, _ := SplitMember(sig.Name)
	subs := make([]*subscription, len(c.subs))
	copy(subs, c.subs)
	for _, s := range subs {
		// A handler may unsubscribe others while we iterate.
		if s.active && s.iface == iface {
			s.handler(sig)
		}
	}
}
