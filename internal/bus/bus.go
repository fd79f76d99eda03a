// Package bus is the asynchronous request/signal boundary the modem trackers
// are built on, plus its implementation over a godbus connection.
package bus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

var (
	// ErrInvalidRequest is returned when a method call cannot be constructed.
	ErrInvalidRequest = errors.New("invalid bus request")
	// ErrClosed is returned once the connection or its loop has stopped.
	ErrClosed = errors.New("bus connection closed")
)

// Reply is the outcome of one method call. Err is a dbus.Error when the
// remote side answered with an error reply.
type Reply struct {
	Body []interface{}
	Err  error
}

// ReplyFunc receives the reply of a method call. It is called at most once.
type ReplyFunc func(Reply)

// SignalFunc receives every broadcast signal of the interface it was
// subscribed to, whatever its object path.
type SignalFunc func(*dbus.Signal)

// Token identifies a signal subscription.
type Token uint64

// Bus is what the trackers need from the message bus. Implementations call
// ReplyFunc and SignalFunc on a single goroutine, the one that also runs the
// trackers.
type Bus interface {
	// Call issues an asynchronous method call. An error is only returned if the
	// request could not be dispatched; remote failures arrive in the Reply.
	Call(dest string, path dbus.ObjectPath, iface, method string, reply ReplyFunc, args ...interface{}) error
	// Subscribe delivers every signal emitted on iface to handler.
	Subscribe(iface string, handler SignalFunc) (Token, error)
	// Unsubscribe drops a subscription. Unknown tokens are ignored.
	Unsubscribe(tok Token)
}

// ErrorName returns the D-Bus error name carried by err, or "" if err is not
// an error reply.
func ErrorName(err error) string {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}
	var pe *dbus.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Name
	}
	return ""
}

// Describe formats err for logs, preferring the error reply name.
func Describe(err error) string {
	if name := ErrorName(err); name != "" {
		return fmt.Sprintf("'%s'", name)
	}
	return err.Error()
}

// SplitMember splits a signal name such as "org.ofono.Modem.PropertyChanged"
// into its interface and member.
func SplitMember(name string) (iface, member string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}
