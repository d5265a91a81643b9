package broker

import (
	"net"
	"time"
)

// Conn is a live transport handle to a connected client. The registry owns
// every Conn exclusively; other components reach a client only through
// ConnRegistry.Send and never hold a handle beyond a single send.
type Conn interface {
	// SendLine writes one protocol line to the client.
	SendLine(line string) error

	// Close tears down the transport. Safe to call twice.
	Close() error
}

// netConn adapts a net.Conn to the Conn interface with a per-write deadline
// so one slow subscriber cannot stall a publish fan-out indefinitely.
type netConn struct {
	c            net.Conn
	writeTimeout time.Duration
}

// NewNetConn wraps a net.Conn for registry use. A writeTimeout of zero
// disables the write deadline.
func NewNetConn(c net.Conn, writeTimeout time.Duration) Conn {
	return &netConn{c: c, writeTimeout: writeTimeout}
}

func (n *netConn) SendLine(line string) error {
	if n.writeTimeout > 0 {
		if err := n.c.SetWriteDeadline(time.Now().Add(n.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := n.c.Write([]byte(line + "\n"))
	return err
}

func (n *netConn) Close() error {
	return n.c.Close()
}
