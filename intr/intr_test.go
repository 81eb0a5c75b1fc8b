package intr_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/intr"
	"github.com/joeycumines/minikernel/minithread"
)

func TestClockAdvancesTicksWhenEnabled(t *testing.T) {
	intr.SetLevel(intr.Enabled)
	before := minithread.Ticks()

	c := intr.NewClock(time.Millisecond)
	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool {
		return minithread.Ticks() > before
	}, time.Second, time.Millisecond)
}

func TestClockDefersWhenDisabled(t *testing.T) {
	old := intr.SetLevel(intr.Disabled)
	defer intr.SetLevel(old)

	before := minithread.Ticks()
	c := intr.NewClock(time.Millisecond)
	c.Start()
	defer c.Stop()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, before, minithread.Ticks())
}

func TestControllerRunsPostedWorkSequentially(t *testing.T) {
	intr.SetLevel(intr.Enabled)
	ctrl := intr.NewController(16)
	go ctrl.Run()
	defer ctrl.Close()

	var n atomic.Int64
	for i := 0; i < 100; i++ {
		ctrl.Post(func() { n.Add(1) })
	}

	require.Eventually(t, func() bool { return n.Load() == 100 }, time.Second, time.Millisecond)
}
