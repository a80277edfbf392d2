// Package transport provides concrete carriers for advertisement frames.
// The engine only ever sees the Transport boundary; the radio, a hardware
// bridge, or this UDP broadcast carrier are interchangeable behind it.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/lomesh/lomesh/state"
)

// senderPreamble prefixes every datagram with the sender's node id, since
// UDP carries no mesh-level identity.
const senderPreamble = 2

// UDPBroadcast sends frames to a broadcast or multicast address and receives
// from a bound port. It is a stand-in for the radio medium with the same
// best-effort, no-delivery-confirmation semantics.
type UDPBroadcast struct {
	self       state.NodeId
	conn       *net.UDPConn
	dst        *net.UDPAddr
	maxPayload int
}

func NewUDPBroadcast(self state.NodeId, bind, broadcast string, maxPayload int) (*UDPBroadcast, error) {
	laddr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("resolving bind address: %w", err)
	}
	dst, err := net.ResolveUDPAddr("udp", broadcast)
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast address: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	if maxPayload <= senderPreamble {
		maxPayload = state.DefaultMaxPayloadBytes + senderPreamble
	}
	return &UDPBroadcast{
		self:       self,
		conn:       conn,
		dst:        dst,
		maxPayload: maxPayload,
	}, nil
}

func (t *UDPBroadcast) Broadcast(frame []byte) error {
	buf := make([]byte, senderPreamble+len(frame))
	binary.BigEndian.PutUint16(buf[:senderPreamble], uint16(t.self))
	copy(buf[senderPreamble:], frame)
	_, err := t.conn.WriteToUDP(buf, t.dst)
	return err
}

// MaxPayloadBytes reports the frame-size ceiling available to the codec,
// after the sender preamble.
func (t *UDPBroadcast) MaxPayloadBytes() int {
	return t.maxPayload - senderPreamble
}

// Listen delivers inbound frames until the context is cancelled or the
// socket is closed. Own datagrams looped back by the medium are dropped.
func (t *UDPBroadcast) Listen(ctx context.Context, deliver func(sender state.NodeId, frame []byte)) error {
	go func() {
		<-ctx.Done()
		t.conn.Close()
	}()
	buf := make([]byte, t.maxPayload)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if n < senderPreamble {
			continue
		}
		sender := state.NodeId(binary.BigEndian.Uint16(buf[:senderPreamble]))
		if sender == t.self {
			continue
		}
		frame := make([]byte, n-senderPreamble)
		copy(frame, buf[senderPreamble:n])
		deliver(sender, frame)
	}
}

func (t *UDPBroadcast) Close() error {
	return t.conn.Close()
}
