package ofono

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/ofono-monitor/internal/bus/bustest"
	"github.com/TheCacophonyProject/ofono-monitor/internal/busvalue"
)

func newTestTracker(t *testing.T) (*Tracker, *bustest.Bus, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	b := &bustest.Bus{}
	return NewTracker(b, DefaultService, SimManagerInterface, nil, log), b, hook
}

type recorder struct {
	props []busvalue.Property
}

func (r *recorder) fn(p busvalue.Property) { r.props = append(r.props, p) }

func (r *recorder) names() []string {
	var out []string
	for _, p := range r.props {
		out = append(out, p.Name)
	}
	return out
}

func TestTrackerFirstRegistrationFetchesAndListens(t *testing.T) {
	tr, b, _ := newTestTracker(t)
	var r recorder

	_, err := tr.Register("/a", r.fn)
	require.NoError(t, err)
	assert.True(t, tr.Listening())
	assert.Equal(t, 1, b.Subscribed(SimManagerInterface))
	require.Len(t, b.Find("/a", SimManagerInterface, "GetProperties"), 1)
	assert.Equal(t, DefaultService, b.Calls[0].Dest)

	_, err = tr.Register("/a", r.fn)
	require.NoError(t, err)
	assert.Len(t, b.Find("/a", SimManagerInterface, "GetProperties"), 1, "no second fetch for a known path")

	_, err = tr.Register("/b", r.fn)
	require.NoError(t, err)
	assert.Len(t, b.Find("/b", SimManagerInterface, "GetProperties"), 1, "each new path is fetched")
	assert.Equal(t, 1, b.SubscribeCount, "one listener for the whole tracker")
	assert.Equal(t, 2, tr.Paths())
	assert.Equal(t, 2, tr.Subscribers("/a"))
}

func TestTrackerReplaysFetchedProperties(t *testing.T) {
	tr, b, _ := newTestTracker(t)
	var first, second recorder
	_, err := tr.Register("/a", first.fn)
	require.NoError(t, err)
	_, err = tr.Register("/a", second.fn)
	require.NoError(t, err)

	b.Reply(b.Pending(SimManagerInterface, "GetProperties")[0], map[string]dbus.Variant{
		"SubscriberIdentity":  dbus.MakeVariant("530011234567890"),
		"Present":             dbus.MakeVariant(true),
		"PreferredLanguages":  dbus.MakeVariant([]string{"en"}),
		"ServiceProviderName": dbus.MakeVariant("Spark"),
	})

	assert.Equal(t, []string{"Present", "ServiceProviderName", "SubscriberIdentity"}, first.names())
	assert.Equal(t, first.names(), second.names())
}

func TestTrackerFiltersSignalsByPath(t *testing.T) {
	tr, b, _ := newTestTracker(t)
	var r recorder
	_, err := tr.Register("/a", r.fn)
	require.NoError(t, err)

	b.Emit("/other", SimManagerInterface, "PropertyChanged", "Present", dbus.MakeVariant(true))
	assert.Empty(t, r.props)

	b.Emit("/a", SimManagerInterface, "SomethingElse", "Present", dbus.MakeVariant(true))
	assert.Empty(t, r.props)

	b.Emit("/a", SimManagerInterface, "PropertyChanged", "Present", dbus.MakeVariant(false))
	require.Len(t, r.props, 1)
	present, ok := r.props[0].Value.Bool()
	assert.True(t, ok)
	assert.False(t, present)
}

func TestTrackerSubscriptionBalance(t *testing.T) {
	tr, b, _ := newTestTracker(t)
	var r recorder
	ha1, _ := tr.Register("/a", r.fn)
	ha2, _ := tr.Register("/a", r.fn)
	hb1, _ := tr.Register("/b", r.fn)

	tr.Close("/a", ha2)
	assert.Equal(t, 1, tr.Subscribers("/a"))
	tr.Close("/b", hb1)
	assert.Equal(t, 0, tr.Subscribers("/b"))
	assert.True(t, tr.Listening())

	tr.Close("/a", ha1)
	assert.Equal(t, 0, tr.Paths())
	assert.False(t, tr.Listening())
	assert.Equal(t, 0, b.Subscribed(SimManagerInterface))
	assert.Equal(t, 1, b.UnsubscribeCount)

	tr.Close("/a", ha1)
	assert.Equal(t, 1, b.UnsubscribeCount, "closing again is a no-op")
}

func TestTrackerCloseAll(t *testing.T) {
	tr, b, _ := newTestTracker(t)
	var r recorder
	for i := 0; i < 4; i++ {
		_, err := tr.Register("/a", r.fn)
		require.NoError(t, err)
	}
	hb, _ := tr.Register("/b", r.fn)

	tr.CloseAll("/a")
	assert.Equal(t, 0, tr.Subscribers("/a"))
	assert.Equal(t, 1, tr.Subscribers("/b"))
	assert.True(t, tr.Listening())

	tr.Close("/b", hb)
	assert.False(t, tr.Listening())
	assert.Equal(t, 0, b.Subscribed(SimManagerInterface))
}

func TestTrackerRegisterFailureLeavesNothingBehind(t *testing.T) {
	tr, b, _ := newTestTracker(t)
	b.FailCalls = bustest.ErrDispatch
	var r recorder

	_, err := tr.Register("/a", r.fn)
	assert.ErrorIs(t, err, bustest.ErrDispatch)
	assert.False(t, tr.Listening())
	assert.Equal(t, 0, tr.Paths())
	assert.Equal(t, 0, b.Subscribed(SimManagerInterface))

	b.FailCalls = nil
	_, err = tr.Register("/a", r.fn)
	require.NoError(t, err)

	b.FailCalls = bustest.ErrDispatch
	_, err = tr.Register("/b", r.fn)
	assert.Error(t, err)
	assert.True(t, tr.Listening(), "listener kept for the other path")
	assert.Equal(t, 1, tr.Paths())
}

func TestTrackerSubscribeFailure(t *testing.T) {
	tr, b, _ := newTestTracker(t)
	b.FailSubscribe = bustest.ErrDispatch
	var r recorder
	_, err := tr.Register("/a", r.fn)
	assert.ErrorIs(t, err, bustest.ErrDispatch)
	assert.Empty(t, b.Calls)
}

func TestTrackerFetchErrorKeepsSubscription(t *testing.T) {
	tr, b, hook := newTestTracker(t)
	var r recorder
	_, err := tr.Register("/a", r.fn)
	require.NoError(t, err)

	b.ReplyError(b.Pending(SimManagerInterface, "GetProperties")[0], "org.ofono.Error.NotImplemented")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "org.ofono.Error.NotImplemented")
	assert.Equal(t, 1, tr.Subscribers("/a"))

	b.Emit("/a", SimManagerInterface, "PropertyChanged", "Present", dbus.MakeVariant(true))
	assert.Len(t, r.props, 1, "later signals still populate state")
}

func TestTrackerFetchReplyDeliveredOnce(t *testing.T) {
	tr, b, _ := newTestTracker(t)
	var r recorder
	_, err := tr.Register("/a", r.fn)
	require.NoError(t, err)

	call := b.Pending(SimManagerInterface, "GetProperties")[0]
	assert.False(t, call.Answered())
	props := map[string]dbus.Variant{"Present": dbus.MakeVariant(true)}
	b.Reply(call, props)
	assert.True(t, call.Answered())
	b.Reply(call, props)
	assert.Len(t, r.props, 1)
	assert.Empty(t, b.Pending(SimManagerInterface, "GetProperties"))
}

func TestTrackerFetchAfterCloseIsIgnored(t *testing.T) {
	tr, b, _ := newTestTracker(t)
	var r recorder
	h, _ := tr.Register("/a", r.fn)
	call := b.Pending(SimManagerInterface, "GetProperties")[0]
	tr.Close("/a", h)

	b.Reply(call, map[string]dbus.Variant{"Present": dbus.MakeVariant(true)})
	assert.Empty(t, r.props)
}

func TestTrackerMalformedInputIsDiscarded(t *testing.T) {
	tr, b, hook := newTestTracker(t)
	var r recorder
	_, err := tr.Register("/a", r.fn)
	require.NoError(t, err)

	b.Emit("/a", SimManagerInterface, "PropertyChanged", "Present")
	b.Emit("/a", SimManagerInterface, "PropertyChanged", uint32(1), dbus.MakeVariant(true))
	b.Reply(b.Pending(SimManagerInterface, "GetProperties")[0], "not a dict")
	assert.Empty(t, r.props)

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 3, warnings)
}

func TestDecodeModemProperty(t *testing.T) {
	v, err := decodeModemProperty("Interfaces", dbus.MakeVariant([]string{
		"org.ofono.ConnectionManager",
		"org.ofono.SimManager",
	}))
	require.NoError(t, err)
	u, ok := v.Uint()
	require.True(t, ok)
	assert.Equal(t, uint64(InterfaceSimManager|InterfaceConnectionManager), u)

	_, err = decodeModemProperty("Interfaces", dbus.MakeVariant("org.ofono.SimManager"))
	assert.ErrorIs(t, err, busvalue.ErrMalformed)

	v, err = decodeModemProperty("Powered", dbus.MakeVariant(true))
	require.NoError(t, err)
	assert.Equal(t, busvalue.Bool, v.Kind())
}
