// Package busvalue reads named scalar values out of D-Bus property
// dictionaries and PropertyChanged signals.
package busvalue

import (
	"errors"
	"fmt"
	"sort"

	"github.com/godbus/dbus/v5"
)

// ErrMalformed is returned when a message entry does not have the expected
// shape or holds a value outside the supported scalar types.
var ErrMalformed = errors.New("malformed property entry")

// ErrUnsupported is returned for well formed entries whose value is not one of
// the scalar kinds, such as arrays. It wraps ErrMalformed.
var ErrUnsupported = fmt.Errorf("%w: unsupported value type", ErrMalformed)

// Kind is the D-Bus type of a Value.
type Kind int

const (
	Invalid Kind = iota
	Bool
	Byte
	Int16
	Int32
	Int64
	Uint16
	Uint32
	Uint64
	Double
	String
	ObjectPath
	Signature
	UnixFD
)

var kindNames = map[Kind]string{
	Invalid:    "invalid",
	Bool:       "boolean",
	Byte:       "byte",
	Int16:      "int16",
	Int32:      "int32",
	Int64:      "int64",
	Uint16:     "uint16",
	Uint32:     "uint32",
	Uint64:     "uint64",
	Double:     "double",
	String:     "string",
	ObjectPath: "object-path",
	Signature:  "signature",
	UnixFD:     "unix-fd",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is an immutable scalar read from a bus message. Only the field
// matching Kind is meaningful.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
}

// Property is one named value.
type Property struct {
	Name  string
	Value Value
}

func (p Property) String() string {
	return fmt.Sprintf("%s=%v", p.Name, p.Value)
}

func OfBool(v bool) Value { return Value{kind: Bool, b: v} }
func OfByte(v byte) Value { return Value{kind: Byte, u: uint64(v)} }
func OfInt16(v int16) Value { return Value{kind: Int16, i: int64(v)} }
func OfInt32(v int32) Value { return Value{kind: Int32, i: int64(v)} }
func OfInt64(v int64) Value { return Value{kind: Int64, i: v} }
func OfUint16(v uint16) Value { return Value{kind: Uint16, u: uint64(v)} }
func OfUint32(v uint32) Value { return Value{kind: Uint32, u: uint64(v)} }
func OfUint64(v uint64) Value { return Value{kind: Uint64, u: v} }
func OfDouble(v float64) Value { return Value{kind: Double, f: v} }
func OfString(v string) Value { return Value{kind: String, s: v} }
func OfUnixFD(v int32) Value { return Value{kind: UnixFD, i: int64(v)} }
func OfSignature(v string) Value { return Value{kind: Signature, s: v} }

func OfObjectPath(v dbus.ObjectPath) Value {
	return Value{kind: ObjectPath, s: string(v)}
}

// Kind returns the type of v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.kind != Invalid }

// Bool returns the boolean held by v, ok is false for any other kind.
func (v Value) Bool() (b bool, ok bool) {
	return v.b, v.kind == Bool
}

// Str returns the text of a String, ObjectPath or Signature value.
func (v Value) Str() (string, bool) {
	switch v.kind {
	case String, ObjectPath, Signature:
		return v.s, true
	}
	return "", false
}

// Uint returns the value of any unsigned kind, widened to 64 bits.
func (v Value) Uint() (uint64, bool) {
	switch v.kind {
	case Byte, Uint16, Uint32, Uint64:
		return v.u, true
	}
	return 0, false
}

// Int returns the value of any signed integer kind (including UnixFD),
// widened to 64 bits.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case Int16, Int32, Int64, UnixFD:
		return v.i, true
	}
	return 0, false
}

// Float returns the value of a Double.
func (v Value) Float() (float64, bool) {
	return v.f, v.kind == Double
}

// Interface returns v as the Go type godbus uses for its D-Bus type.
func (v Value) Interface() interface{} {
	switch v.kind {
	case Bool:
		return v.b
	case Byte:
		return byte(v.u)
	case Int16:
		return int16(v.i)
	case Int32:
		return int32(v.i)
	case Int64:
		return v.i
	case Uint16:
		return uint16(v.u)
	case Uint32:
		return uint32(v.u)
	case Uint64:
		return v.u
	case Double:
		return v.f
	case String:
		return v.s
	case ObjectPath:
		return dbus.ObjectPath(v.s)
	case Signature:
		sig, err := dbus.ParseSignature(v.s)
		if err != nil {
			return v.s
		}
		return sig
	case UnixFD:
		return dbus.UnixFD(v.i)
	case Invalid:
		return nil
	}
	return nil
}

func (v Value) String() string {
	if v.kind == Invalid {
		return "<invalid>"
	}
	return fmt.Sprintf("%v", v.Interface())
}

// FromInterface converts a decoded D-Bus scalar into a Value.
func FromInterface(x interface{}) (Value, error) {
	switch t := x.(type) {
	case bool:
		return OfBool(t), nil
	case byte:
		return OfByte(t), nil
	case int16:
		return OfInt16(t), nil
	case int32:
		return OfInt32(t), nil
	case int64:
		return OfInt64(t), nil
	case uint16:
		return OfUint16(t), nil
	case uint32:
		return OfUint32(t), nil
	case uint64:
		return OfUint64(t), nil
	case float64:
		return OfDouble(t), nil
	case string:
		return OfString(t), nil
	case dbus.ObjectPath:
		return OfObjectPath(t), nil
	case dbus.Signature:
		return OfSignature(t.String()), nil
	case dbus.UnixFD:
		return OfUnixFD(int32(t)), nil
	case dbus.UnixFDIndex:
		return OfUnixFD(int32(t)), nil
	}
	return Value{}, fmt.Errorf("%w %T", ErrUnsupported, x)
}

// FromVariant converts the content of a variant into a Value.
func FromVariant(v dbus.Variant) (Value, error) {
	return FromInterface(v.Value())
}

// Decoder turns one dictionary entry into a Value. FromNamedVariant is the
// default; trackers that need a non-scalar property mapped onto a scalar
// supply their own.
type Decoder func(name string, v dbus.Variant) (Value, error)

// FromNamedVariant ignores the name and decodes the variant as a scalar.
func FromNamedVariant(_ string, v dbus.Variant) (Value, error) {
	return FromVariant(v)
}

// ReadNamedVariant reads a (string, variant) pair, the body of a
// PropertyChanged signal.
func ReadNamedVariant(args []interface{}, decode Decoder) (Property, error) {
	if len(args) < 2 {
		return Property{}, fmt.Errorf("%w: expected 2 arguments, got %d", ErrMalformed, len(args))
	}
	name, ok := args[0].(string)
	if !ok {
		return Property{}, fmt.Errorf("%w: property name is %T", ErrMalformed, args[0])
	}
	variant, ok := args[1].(dbus.Variant)
	if !ok {
		return Property{}, fmt.Errorf("%w: property %s value is %T, not a variant", ErrMalformed, name, args[1])
	}
	if decode == nil {
		decode = FromNamedVariant
	}
	val, err := decode(name, variant)
	if err != nil {
		return Property{}, fmt.Errorf("property %s: %w", name, err)
	}
	return Property{Name: name, Value: val}, nil
}

// ReadDict decodes every entry of an a{sv} dictionary in name order. Entries
// that cannot be decoded are returned in errs and skipped.
func ReadDict(dict map[string]dbus.Variant, decode Decoder) (props []Property, errs []error) {
	if decode == nil {
		decode = FromNamedVariant
	}
	names := make([]string, 0, len(dict))
	for name := range dict {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		val, err := decode(name, dict[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("property %s: %w", name, err))
			continue
		}
		props = append(props, Property{Name: name, Value: val})
	}
	return props, errs
}
