package events

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/filterbridge/internal/metrics"
)

type call struct {
	name Name
	args []any
}

func recorder(calls *[]call) Callback {
	return func(name Name, args ...any) {
		*calls = append(*calls, call{name: name, args: args})
	}
}

func TestSubscribeSingleName(t *testing.T) {
	bus := NewBus()
	var calls []call
	bus.Subscribe(UserFilterUpdated, recorder(&calls))

	bus.Publish(RequestFilterUpdated)
	bus.Publish(UserFilterUpdated, "a", 1)

	require.Len(t, calls, 1)
	assert.Equal(t, UserFilterUpdated, calls[0].name)
	assert.Equal(t, []any{"a", 1}, calls[0].args)
}

func TestSubscribeSetMatchesMembers(t *testing.T) {
	bus := NewBus()
	var calls []call
	bus.SubscribeSet([]Name{TabAdded, TabClose}, recorder(&calls))

	bus.Publish(TabAdded, 1)
	bus.Publish(TabUpdate, 1)
	bus.Publish(TabClose, 2)

	require.Len(t, calls, 2)
	assert.Equal(t, TabAdded, calls[0].name)
	assert.Equal(t, TabClose, calls[1].name)
}

func TestIdsShareOneSpace(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(AddRules, func(Name, ...any) {})
	b := bus.SubscribeSet([]Name{AddRules}, func(Name, ...any) {})
	c := bus.Subscribe(AddRules, func(Name, ...any) {})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, c)
	assert.Equal(t, 3, bus.Len())
}

func TestInvocationCountBetweenSubscribeAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	bus.Publish(LogEventAdded)

	count := 0
	id := bus.Subscribe(LogEventAdded, func(Name, ...any) { count++ })
	bus.Publish(LogEventAdded)
	bus.Publish(TabReset)
	bus.Publish(LogEventAdded)

	assert.True(t, bus.Unsubscribe(id))
	bus.Publish(LogEventAdded)

	assert.Equal(t, 2, count)
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	bus := NewBus()
	id := bus.Subscribe(AddRules, func(Name, ...any) {})

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(ListenerID(999)))
	assert.Equal(t, 0, bus.Len())
}

func TestPublishInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	for i := range 5 {
		bus.Subscribe(AdsBlocked, func(Name, ...any) { order = append(order, i) })
	}

	bus.Publish(AdsBlocked)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPanickingCallbackIsIsolated(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := NewBus(WithMetrics(m))

	reached := false
	bus.Subscribe(ChangePrefs, func(Name, ...any) { panic("boom") })
	bus.Subscribe(ChangePrefs, func(Name, ...any) { reached = true })

	assert.NotPanics(t, func() { bus.Publish(ChangePrefs) })
	assert.True(t, reached)

	assert.Equal(t, float64(1), gatheredValue(t, reg, "filterbridge_bus_callback_panics_total"))
}

func TestCallbackMayUnsubscribeItself(t *testing.T) {
	bus := NewBus()
	count := 0
	var id ListenerID
	id = bus.Subscribe(SettingUpdated, func(Name, ...any) {
		count++
		bus.Unsubscribe(id)
	})

	bus.Publish(SettingUpdated)
	bus.Publish(SettingUpdated)

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, bus.Len())
}

func TestUnsubscribeDuringPublishSkipsLaterListener(t *testing.T) {
	bus := NewBus()
	var second ListenerID
	secondCalled := false

	bus.Subscribe(TabUpdate, func(Name, ...any) { bus.Unsubscribe(second) })
	second = bus.Subscribe(TabUpdate, func(Name, ...any) { secondCalled = true })

	bus.Publish(TabUpdate)

	assert.False(t, secondCalled)
}

func TestSubscribeDuringPublishNotInvokedByIt(t *testing.T) {
	bus := NewBus()
	lateCalls := 0
	added := false
	bus.Subscribe(TabAdded, func(Name, ...any) {
		if !added {
			added = true
			bus.Subscribe(TabAdded, func(Name, ...any) { lateCalls++ })
		}
	})

	bus.Publish(TabAdded)
	assert.Equal(t, 0, lateCalls)

	bus.Publish(TabAdded)
	assert.Equal(t, 1, lateCalls)
}

func TestListenerGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := NewBus(WithMetrics(metrics.New(reg)))

	id := bus.Subscribe(AddRules, func(Name, ...any) {})
	bus.Subscribe(RemoveRule, func(Name, ...any) {})
	bus.Unsubscribe(id)

	assert.Equal(t, float64(1), gatheredValue(t, reg, "filterbridge_bus_listeners"))
}

func gatheredValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		m := f.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestParseNames(t *testing.T) {
	names, err := ParseNames([]string{"log.tab.added", "event.user.filter.updated"})
	require.NoError(t, err)
	assert.Equal(t, []Name{TabAdded, UserFilterUpdated}, names)

	_, err = ParseNames([]string{"log.tab.added", "no.such.event"})
	var unknown *UnknownNameError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "no.such.event", unknown.Name)
}
