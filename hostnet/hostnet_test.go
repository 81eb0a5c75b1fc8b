package hostnet_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/hostnet"
	"github.com/joeycumines/minikernel/netaddr"
)

func TestLoopback(t *testing.T) {
	a, err := hostnet.Listen(0)
	require.NoError(t, err)
	defer a.Close()

	b, err := hostnet.Listen(0)
	require.NoError(t, err)
	defer b.Close()

	received := make(chan []byte, 1)
	require.NoError(t, b.Start(func(src netaddr.Address, payload []byte) {
		received <- payload
	}))
	require.NoError(t, a.Start(func(netaddr.Address, []byte) {}))

	require.NoError(t, a.WriteTo(b.LocalAddr(), []byte("hello")))

	select {
	case got := <-received:
		require.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

// TestFaultInjectionLoss checks that a loss rate of 1.0 drops every
// datagram silently (WriteTo reports no error, but nothing arrives).
func TestFaultInjectionLoss(t *testing.T) {
	a, err := hostnet.Listen(0)
	require.NoError(t, err)
	defer a.Close()

	b, err := hostnet.Listen(0)
	require.NoError(t, err)
	defer b.Close()

	received := make(chan []byte, 8)
	require.NoError(t, b.Start(func(src netaddr.Address, payload []byte) {
		received <- payload
	}))
	require.NoError(t, a.Start(func(netaddr.Address, []byte) {}))

	a.SetFaultInjection(1, 0, 1)
	require.NoError(t, a.WriteTo(b.LocalAddr(), []byte("dropped")))

	select {
	case <-received:
		t.Fatal("expected no datagram to arrive under 100% loss")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestFaultInjectionDuplication checks that a duplication rate of 1.0
// delivers every datagram twice.
func TestFaultInjectionDuplication(t *testing.T) {
	a, err := hostnet.Listen(0)
	require.NoError(t, err)
	defer a.Close()

	b, err := hostnet.Listen(0)
	require.NoError(t, err)
	defer b.Close()

	received := make(chan []byte, 8)
	require.NoError(t, b.Start(func(src netaddr.Address, payload []byte) {
		received <- payload
	}))
	require.NoError(t, a.Start(func(netaddr.Address, []byte) {}))

	a.SetFaultInjection(0, 1, 1)
	require.NoError(t, a.WriteTo(b.LocalAddr(), []byte("duped")))

	for i := 0; i < 2; i++ {
		select {
		case got := <-received:
			require.Equal(t, []byte("duped"), got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for duplicate %d", i+1)
		}
	}
}
