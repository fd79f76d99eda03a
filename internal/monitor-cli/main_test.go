package monitorcli

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/ofono-monitor/modemlistener"
)

func TestPrintYAMLSortsKeys(t *testing.T) {
	var buf bytes.Buffer
	err := printYAML(&buf, map[string]map[string]interface{}{
		"/ril_1": {"powered": false},
		"/ril_0": {"powered": true, "imei": "356938035643809", "interfaces": []string{"org.ofono.SimManager"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `/ril_0:
  imei: "356938035643809"
  interfaces:
  - org.ofono.SimManager
  powered: true
/ril_1:
  powered: false
`, buf.String())
}

func TestPrintSignal(t *testing.T) {
	var buf bytes.Buffer
	err := printSignal(&buf, modemlistener.ModemSignal{
		Kind:  "removed",
		Path:  "/ril_0",
		State: map[string]interface{}{"powered": false},
	})
	require.NoError(t, err)
	assert.Equal(t, "---\nkind: removed\npath: /ril_0\nstate:\n  powered: false\n", buf.String())
}

func TestRunToggle(t *testing.T) {
	var gotPath string
	var gotOn bool
	set := func(path string, on bool) error {
		gotPath, gotOn = path, on
		return nil
	}

	require.NoError(t, runToggle("powered", &toggleCommand{On: &pathCommand{Path: "/ril_0"}}, set))
	assert.Equal(t, "/ril_0", gotPath)
	assert.True(t, gotOn)

	require.NoError(t, runToggle("powered", &toggleCommand{Off: &pathCommand{Path: "/ril_1"}}, set))
	assert.Equal(t, "/ril_1", gotPath)
	assert.False(t, gotOn)

	assert.Error(t, runToggle("powered", &toggleCommand{}, set))

	failing := func(string, bool) error { return errors.New("unknown modem") }
	err := runToggle("online", &toggleCommand{On: &pathCommand{Path: "/ril_9"}}, failing)
	assert.EqualError(t, err, "failed to set /ril_9 online: unknown modem")
}

func TestProcArgs(t *testing.T) {
	args, _, err := procArgs([]string{"power", "on", "/ril_0"})
	require.NoError(t, err)
	require.NotNil(t, args.Power)
	require.NotNil(t, args.Power.On)
	assert.Equal(t, "/ril_0", args.Power.On.Path)
	assert.Nil(t, args.Status)

	args, _, err = procArgs([]string{"--loglevel", "debug", "status"})
	require.NoError(t, err)
	assert.NotNil(t, args.Status)
	assert.Equal(t, "debug", args.LogLevel)

	args, _, err = procArgs([]string{"connect"})
	require.NoError(t, err)
	require.NotNil(t, args.Connect)
	assert.Equal(t, 2*time.Minute, args.Connect.Timeout)
}
