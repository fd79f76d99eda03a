package modemcontroller

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestFromVariants(t *testing.T) {
	state := FromVariants(map[string]dbus.Variant{
		"powered":    dbus.MakeVariant(true),
		"imei":       dbus.MakeVariant("356938035643809"),
		"interfaces": dbus.MakeVariant([]string{"org.ofono.SimManager"}),
	})
	assert.Equal(t, map[string]interface{}{
		"powered":    true,
		"imei":       "356938035643809",
		"interfaces": []string{"org.ofono.SimManager"},
	}, state)
	assert.Empty(t, FromVariants(nil))
}
