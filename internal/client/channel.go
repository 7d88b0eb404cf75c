package client

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

var ErrReceiveTimeout = errors.New("receive timed out")

// Channel is the only I/O primitive a transfer needs: one unconnected
// datagram socket.
type Channel interface {
	Send(b []byte, to *net.UDPAddr) error
	// Receive blocks for at most timeout, or forever when timeout is 0.
	// An expired deadline is reported as ErrReceiveTimeout.
	Receive(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error)
	Close() error
}

type udpChannel struct {
	conn   *net.UDPConn
	closed bool
}

// OpenUDP binds an ephemeral local port.
func OpenUDP(network string) (Channel, error) {
	conn, err := net.ListenUDP(network, &net.UDPAddr{})
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err}
	}
	return &udpChannel{conn: conn}, nil
}

func (ch *udpChannel) Send(b []byte, to *net.UDPAddr) error {
	if _, err := ch.conn.WriteToUDP(b, to); err != nil {
		return err
	}
	return nil
}

func (ch *udpChannel) Receive(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := ch.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}

	n, addr, err := ch.conn.ReadFromUDP(buf)
	if err != nil {
		if e, ok := err.(net.Error); ok && e.Timeout() {
			return 0, nil, ErrReceiveTimeout
		}
		return 0, nil, err
	}
	return n, addr, nil
}

func (ch *udpChannel) Close() error {
	if ch.closed {
		return nil
	}
	ch.closed = true
	return ch.conn.Close()
}

func sameAddr(a *net.UDPAddr, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
