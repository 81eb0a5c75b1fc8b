//go:build linux

package hostnet

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// startReader wires c's UDP socket into an epoll instance so inbound
// readiness is delivered through the same kind of asynchronous-wakeup
// primitive the source's disk/network interrupt handlers model, instead of
// a busy-looping Read. Grounded on eventloop's poller_linux.go: an epoll fd
// plus a single registered descriptor; level-triggered readiness (EPOLLIN
// without EPOLLET) is enough here since there is only ever one socket per
// Conn.
func startReader(c *Conn) (func(), error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	rawFD := netfd.GetFdFromConn(c.udp)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, rawFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(rawFD),
	}); err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		events := make([]unix.EpollEvent, 4)
		buf := make([]byte, MaxDatagram)
		for {
			select {
			case <-done:
				return
			default:
			}
			n, err := unix.EpollWait(epfd, events, 250 /* ms */)
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				log.Warn("epoll wait failed", "err", err)
				continue
			}
			for i := 0; i < n; i++ {
				readReady(c, buf)
			}
		}
	}()

	return func() {
		close(done)
		_ = unix.Close(epfd)
	}, nil
}

func readReady(c *Conn, buf []byte) {
	for {
		nread, from, err := c.udp.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				return
			}
			// EAGAIN once the socket is drained; any other error means the
			// socket is gone, which Close will have already signalled.
			return
		}
		c.deliver(from, buf[:nread])
		if nread < len(buf) {
			// Typical for a single queued datagram; avoid spinning until
			// the next epoll readiness notification.
			return
		}
	}
}
