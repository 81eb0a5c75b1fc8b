package alarm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/alarm"
	"github.com/joeycumines/minikernel/minithread"
)

// TestRegisterFiresOnDueTick exercises spec §4.4: an alarm registered for a
// delay of exactly one TickPeriod must not fire on the current tick, and
// must fire on the tick it becomes due.
func TestRegisterFiresOnDueTick(t *testing.T) {
	var fired int

	minithread.Initialize(func(any) {
		now := minithread.Ticks()
		alarm.Register(alarm.TickPeriod, func() { fired++ })

		// Not due yet: servicing the current tick must not fire it.
		alarm.Service(now)
		require.Equal(t, 0, fired)

		alarm.Service(now + 1)
		require.Equal(t, 1, fired)

		minithread.Shutdown()
	}, nil)

	require.Equal(t, 1, fired)
}

// TestDeregisterIsIdempotent covers spec §4.4's "deregister of an
// already-fired alarm is a no-op, not an error" requirement.
func TestDeregisterIsIdempotent(t *testing.T) {
	minithread.Initialize(func(any) {
		id := alarm.Register(alarm.TickPeriod, func() {})
		now := minithread.Ticks()
		alarm.Service(now + 1)
		require.NotPanics(t, func() { alarm.Deregister(id) })
		// Deregistering an unknown id is equally a no-op.
		require.NotPanics(t, func() { alarm.Deregister(id + 100) })
		minithread.Shutdown()
	}, nil)
}

// TestServiceOrdersByFireTick checks that alarms registered out of order
// (delays of 3, 1 and 2 ticks) fire in ascending fire-tick order (spec §3's
// "sorted by fire time ascending").
func TestServiceOrdersByFireTick(t *testing.T) {
	var order []int

	minithread.Initialize(func(any) {
		now := minithread.Ticks()
		alarm.Register(3*alarm.TickPeriod, func() { order = append(order, 3) })
		alarm.Register(1*alarm.TickPeriod, func() { order = append(order, 1) })
		alarm.Register(2*alarm.TickPeriod, func() { order = append(order, 2) })

		alarm.Service(now + 3)
		require.Equal(t, []int{1, 2, 3}, order)
		require.Equal(t, 0, alarm.Pending())

		minithread.Shutdown()
	}, nil)
}
