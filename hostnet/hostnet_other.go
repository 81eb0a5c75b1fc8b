//go:build !linux

package hostnet

import "net"

// startReader is the portable fallback: a plain blocking read loop. The
// epoll-driven path in hostnet_linux.go is the primary implementation; this
// one exists so the package still builds (and the kernel still runs,
// without the asynchronous-wakeup-primitive embellishment) on non-Linux
// hosts.
func startReader(c *Conn) (func(), error) {
	done := make(chan struct{})
	go func() {
		buf := make([]byte, MaxDatagram)
		for {
			select {
			case <-done:
				return
			default:
			}
			n, from, err := c.udp.ReadFromUDP(buf)
			if err != nil {
				if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
					continue
				}
				return
			}
			c.deliver(from, buf[:n])
		}
	}()
	return func() { close(done) }, nil
}
