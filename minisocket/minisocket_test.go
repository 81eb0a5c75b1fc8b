package minisocket_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/hostnet"
	"github.com/joeycumines/minikernel/intr"
	"github.com/joeycumines/minikernel/miniroute"
	"github.com/joeycumines/minikernel/minisocket"
	"github.com/joeycumines/minikernel/minithread"
)

func init() {
	// Shrink the retry schedule so timeout-driven tests don't wait out the
	// real ~12.7s worst case.
	delay := 30 * time.Millisecond
	minisocket.RetryDelays = []time.Duration{delay, delay, delay, delay, delay, delay, delay}
}

func newTestNetwork(t *testing.T) *miniroute.Network {
	t.Helper()
	conn, err := hostnet.Listen(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return miniroute.New(conn)
}

// TestHandshakeSendReceiveClose exercises the whole connection lifecycle:
// server_create/client_create handshake, a reliable send/receive round
// trip in both directions, and a clean close.
func TestHandshakeSendReceiveClose(t *testing.T) {
	clock := intr.NewClock(time.Millisecond)
	clock.Start()
	defer clock.Stop()

	serverNet := newTestNetwork(t)
	clientNet := newTestNetwork(t)
	serverNet.AddPeer(clientNet.Self())
	clientNet.AddPeer(serverNet.Self())

	server := minisocket.New(serverNet)
	client := minisocket.New(clientNet)

	var (
		wg      sync.WaitGroup
		srvSock *minisocket.Socket
		srvErr  error
		cliSock *minisocket.Socket
		cliErr  error
	)

	minithread.Initialize(func(any) {
		wg.Add(1)
		minithread.Fork(func(any) {
			defer wg.Done()
			srvSock, srvErr = server.ServerCreate(100)
		}, nil)

		// Give the server a moment to reach LISTEN before the client SYNs.
		for i := 0; i < 50; i++ {
			minithread.Yield()
		}

		cliSock, cliErr = client.ClientCreate(server.Self(), 100)
		require.NoError(t, cliErr)

		for i := 0; i < 2000 && srvSock == nil; i++ {
			minithread.Yield()
		}
		require.NoError(t, srvErr)
		require.NotNil(t, srvSock)

		n, err := cliSock.Send([]byte("ping"))
		require.NoError(t, err)
		require.Equal(t, 4, n)

		buf := make([]byte, 16)
		n, err = srvSock.Receive(buf)
		require.NoError(t, err)
		require.Equal(t, "ping", string(buf[:n]))

		n, err = srvSock.Send([]byte("pong"))
		require.NoError(t, err)
		require.Equal(t, 4, n)

		n, err = cliSock.Receive(buf)
		require.NoError(t, err)
		require.Equal(t, "pong", string(buf[:n]))

		cliSock.Close()
		srvSock.Close()

		minithread.Shutdown()
	}, nil)

	wg.Wait()
}

// TestClientCreateNoServer checks that connecting to a port nobody is
// listening on surfaces ErrNoServer instead of hanging forever.
func TestClientCreateNoServer(t *testing.T) {
	clock := intr.NewClock(time.Millisecond)
	clock.Start()
	defer clock.Stop()

	serverNet := newTestNetwork(t)
	clientNet := newTestNetwork(t)
	serverNet.AddPeer(clientNet.Self())
	clientNet.AddPeer(serverNet.Self())

	server := minisocket.New(serverNet)
	client := minisocket.New(clientNet)

	minithread.Initialize(func(any) {
		_, err := client.ClientCreate(server.Self(), 999)
		require.ErrorIs(t, err, minisocket.ErrNoServer)
		minithread.Shutdown()
	}, nil)
}

// TestServerBusySignalsSecondClient exercises spec testable property 8: a
// second client_create against a server already ESTABLISHED with a first
// client surfaces ErrBusy promptly (via the synthetic-FIN busy reply, not a
// full retry-exhaustion timeout), and the first connection is unaffected.
func TestServerBusySignalsSecondClient(t *testing.T) {
	clock := intr.NewClock(time.Millisecond)
	clock.Start()
	defer clock.Stop()

	serverNet := newTestNetwork(t)
	client1Net := newTestNetwork(t)
	client2Net := newTestNetwork(t)
	serverNet.AddPeer(client1Net.Self())
	serverNet.AddPeer(client2Net.Self())
	client1Net.AddPeer(serverNet.Self())
	client2Net.AddPeer(serverNet.Self())

	server := minisocket.New(serverNet)
	client1 := minisocket.New(client1Net)
	client2 := minisocket.New(client2Net)

	var (
		wg      sync.WaitGroup
		srvSock *minisocket.Socket
		srvErr  error
	)

	minithread.Initialize(func(any) {
		wg.Add(1)
		minithread.Fork(func(any) {
			defer wg.Done()
			srvSock, srvErr = server.ServerCreate(200)
		}, nil)

		for i := 0; i < 50; i++ {
			minithread.Yield()
		}

		cli1Sock, err := client1.ClientCreate(server.Self(), 200)
		require.NoError(t, err)

		for i := 0; i < 2000 && srvSock == nil; i++ {
			minithread.Yield()
		}
		require.NoError(t, srvErr)
		require.NotNil(t, srvSock)

		_, err = client2.ClientCreate(server.Self(), 200)
		require.ErrorIs(t, err, minisocket.ErrBusy)

		n, err := cli1Sock.Send([]byte("still alive"))
		require.NoError(t, err)
		require.Equal(t, len("still alive"), n)

		buf := make([]byte, 32)
		n, err = srvSock.Receive(buf)
		require.NoError(t, err)
		require.Equal(t, "still alive", string(buf[:n]))

		cli1Sock.Close()
		srvSock.Close()

		minithread.Shutdown()
	}, nil)

	wg.Wait()
}

// TestTransferUnderLossAndDuplication exercises spec testable property 7: a
// 100000-byte transfer over a link with loss_rate=0.3 and
// duplication_rate=0.1 still arrives byte-identical and in order.
func TestTransferUnderLossAndDuplication(t *testing.T) {
	clock := intr.NewClock(time.Millisecond)
	clock.Start()
	defer clock.Stop()

	serverConn, err := hostnet.Listen(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverConn.Close() })
	clientConn, err := hostnet.Listen(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })

	// Fault-inject both directions so loss/duplication hits both the
	// client's data segments and the server's acknowledgements.
	serverConn.SetFaultInjection(0.3, 0.1, 1)
	clientConn.SetFaultInjection(0.3, 0.1, 2)

	serverNet := miniroute.New(serverConn)
	clientNet := miniroute.New(clientConn)
	serverNet.AddPeer(clientNet.Self())
	clientNet.AddPeer(serverNet.Self())

	server := minisocket.New(serverNet)
	client := minisocket.New(clientNet)

	const size = 100000
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i % 256)
	}

	var (
		srvSock  *minisocket.Socket
		srvErr   error
		cliSock  *minisocket.Socket
		received []byte
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		minithread.Initialize(func(any) {
			minithread.Fork(func(any) {
				srvSock, srvErr = server.ServerCreate(300)
			}, nil)

			for i := 0; i < 50; i++ {
				minithread.Yield()
			}

			var err error
			cliSock, err = client.ClientCreate(server.Self(), 300)
			require.NoError(t, err)

			for i := 0; i < 2000 && srvSock == nil; i++ {
				minithread.Yield()
			}
			require.NoError(t, srvErr)
			require.NotNil(t, srvSock)

			minithread.Fork(func(any) {
				n, err := cliSock.Send(payload)
				require.NoError(t, err)
				require.Equal(t, size, n)
			}, nil)

			buf := make([]byte, 4096)
			for len(received) < size {
				n, err := srvSock.Receive(buf)
				require.NoError(t, err)
				received = append(received, buf[:n]...)
			}

			cliSock.Close()
			srvSock.Close()

			minithread.Shutdown()
		}, nil)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for lossy transfer to complete")
	}

	require.Equal(t, payload, received)

	// Every transmission attempt, the first included, records its backoff
	// delay in the retry-history ring, so the ring is non-empty after a
	// completed transfer.
	require.NotEmpty(t, cliSock.RetryHistory())
}
