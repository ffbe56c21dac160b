// Package udp sends correction datagrams to a fixed destination.
package udp

import (
	"fmt"
	"net"
	"sync/atomic"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

// Broadcaster writes each payload as one datagram to dest.
type Broadcaster struct {
	dest  string
	conn  udpConn
	bytes atomic.Uint64
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(
	dest string,
	resolve func(network, address string) (*net.UDPAddr, error),
	dial func(network string, laddr, raddr *net.UDPAddr) (udpConn, error),
) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

// Sent is the number of payload bytes written so far.
func (b *Broadcaster) Sent() uint64 { return b.bytes.Load() }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	n, err := b.conn.Write(payload)
	b.bytes.Add(uint64(n))
	return err
}

// Write lets a Broadcaster sit behind an io.Writer.
func (b *Broadcaster) Write(p []byte) (int, error) {
	if err := b.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
