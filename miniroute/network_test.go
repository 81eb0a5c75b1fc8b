package miniroute_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/hostnet"
	"github.com/joeycumines/minikernel/intr"
	"github.com/joeycumines/minikernel/miniroute"
	"github.com/joeycumines/minikernel/minithread"
	"github.com/joeycumines/minikernel/netaddr"
)

func newTestNode(t *testing.T) *miniroute.Network {
	t.Helper()
	conn, err := hostnet.Listen(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return miniroute.New(conn)
}

// TestDiscoveryAndSend exercises spec §4.8 end to end over real loopback
// UDP sockets: A has no cached route to B, so Send triggers a DISCOVERY
// broadcast, B replies, A caches the path, and the DATA payload arrives.
func TestDiscoveryAndSend(t *testing.T) {
	clock := intr.NewClock(time.Millisecond)
	clock.Start()
	defer clock.Stop()

	a := newTestNode(t)
	b := newTestNode(t)
	a.AddPeer(b.Self())
	b.AddPeer(a.Self())

	const proto = 42
	var receivedLen atomic.Int64
	b.RegisterProtocol(proto, func(path []netaddr.Address, payload []byte) {
		receivedLen.Store(int64(len(payload)))
	})

	minithread.Initialize(func(any) {
		payload := append([]byte{proto}, []byte("hello, world")...)
		err := a.Send(b.Self(), payload)
		require.NoError(t, err)

		for i := 0; i < 20000 && receivedLen.Load() == 0; i++ {
			minithread.Yield()
		}
		minithread.Shutdown()
	}, nil)

	require.EqualValues(t, len("hello, world")+1, receivedLen.Load())
}

// TestRouteCacheAvoidsSecondDiscovery sends to the same destination three
// times: the first Send runs discovery and caches the path, and the later
// ones find it in the route cache (spec's route-cache property 10, the
// non-expired half). The test checks that all three payloads arrive; it
// does not count DISCOVERY broadcasts.
func TestRouteCacheAvoidsSecondDiscovery(t *testing.T) {
	clock := intr.NewClock(time.Millisecond)
	clock.Start()
	defer clock.Stop()

	a := newTestNode(t)
	b := newTestNode(t)
	a.AddPeer(b.Self())
	b.AddPeer(a.Self())

	const proto = 7
	var count atomic.Int64
	b.RegisterProtocol(proto, func(path []netaddr.Address, payload []byte) {
		count.Add(1)
	})

	minithread.Initialize(func(any) {
		for i := 0; i < 3; i++ {
			require.NoError(t, a.Send(b.Self(), []byte{proto}))
		}
		for i := 0; i < 20000 && count.Load() < 3; i++ {
			minithread.Yield()
		}
		minithread.Shutdown()
	}, nil)

	require.EqualValues(t, 3, count.Load())
}
