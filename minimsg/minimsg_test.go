package minimsg_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/hostnet"
	"github.com/joeycumines/minikernel/intr"
	"github.com/joeycumines/minikernel/miniroute"
	"github.com/joeycumines/minikernel/minimsg"
	"github.com/joeycumines/minikernel/minithread"
)

func newTestPorts(t *testing.T) *minimsg.Ports {
	t.Helper()
	conn, err := hostnet.Listen(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return minimsg.New(miniroute.New(conn))
}

// TestLoopbackSendReceive is testable property 6: sending a message from a
// node to itself, on a freshly created unbound port, yields the exact bytes
// sent.
func TestLoopbackSendReceive(t *testing.T) {
	clock := intr.NewClock(time.Millisecond)
	clock.Start()
	defer clock.Stop()

	p := newTestPorts(t)

	const msg = "Hello, world!\n\x00"

	minithread.Initialize(func(any) {
		self, err := p.CreateUnbound(0)
		require.NoError(t, err)

		dst, err := p.CreateBound(p.Self(), self)
		require.NoError(t, err)

		n, err := p.Send(self, dst, []byte(msg))
		require.NoError(t, err)
		require.Equal(t, len(msg), n)

		payload, _, err := p.Receive(self)
		require.NoError(t, err)
		require.Equal(t, []byte(msg), payload)
		require.Len(t, payload, 15)

		minithread.Shutdown()
	}, nil)
}

// TestReceiveSynthesizesReplyPort checks that Receive's returned bound port
// addresses back to the original sender.
func TestReceiveSynthesizesReplyPort(t *testing.T) {
	clock := intr.NewClock(time.Millisecond)
	clock.Start()
	defer clock.Stop()

	a := newTestPorts(t)
	b := newTestPorts(t)

	minithread.Initialize(func(any) {
		aUnbound, err := a.CreateUnbound(1)
		require.NoError(t, err)
		bUnbound, err := b.CreateUnbound(1)
		require.NoError(t, err)

		aToB, err := a.CreateBound(b.Self(), bUnbound)
		require.NoError(t, err)

		_, err = a.Send(aUnbound, aToB, []byte("ping"))
		require.NoError(t, err)

		payload, replyPort, err := b.Receive(bUnbound)
		require.NoError(t, err)
		require.Equal(t, []byte("ping"), payload)

		n, err := b.Send(bUnbound, replyPort, []byte("pong"))
		require.NoError(t, err)
		require.Equal(t, 4, n)

		reply, _, err := a.Receive(aUnbound)
		require.NoError(t, err)
		require.Equal(t, []byte("pong"), reply)

		minithread.Shutdown()
	}, nil)
}

// TestSendRejectsOversizedPayload checks the MaxMsgSize bound.
func TestSendRejectsOversizedPayload(t *testing.T) {
	clock := intr.NewClock(time.Millisecond)
	clock.Start()
	defer clock.Stop()

	p := newTestPorts(t)

	minithread.Initialize(func(any) {
		self, err := p.CreateUnbound(2)
		require.NoError(t, err)
		dst, err := p.CreateBound(p.Self(), self)
		require.NoError(t, err)

		_, err = p.Send(self, dst, make([]byte, minimsg.MaxMsgSize+1))
		require.ErrorIs(t, err, minimsg.ErrTooLarge)

		minithread.Shutdown()
	}, nil)
}
