package publish

import (
	"bytes"
	"context"
	"fmt"
	"net"
)

// defaultPayloadSize keeps datagrams under a conservative MTU. Matches the
// default of the classic InfluxDB UDP clients.
const defaultPayloadSize = 512

// UDP publishes batches as fire-and-forget datagrams, splitting payloads on
// line boundaries so each datagram stays under the payload size. Only the v1
// UDP listener speaks this protocol.
type UDP struct {
	addr        string
	payloadSize int
	conn        net.Conn
}

// NewUDP dials the InfluxDB UDP listener. A payloadSize of zero or less
// selects the default.
func NewUDP(addr string, payloadSize int) (*UDP, error) {
	if payloadSize <= 0 {
		payloadSize = defaultPayloadSize
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &UDP{addr: addr, payloadSize: payloadSize, conn: conn}, nil
}

func (u *UDP) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var firstErr error
	for len(payload) > 0 {
		chunk := payload
		if len(chunk) > u.payloadSize {
			// Cut at the last newline that fits. A single oversized line is
			// sent whole rather than split mid-point.
			if i := bytes.LastIndexByte(chunk[:u.payloadSize], '\n'); i >= 0 {
				chunk = chunk[:i+1]
			} else if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
				chunk = chunk[:i+1]
			}
		}
		payload = payload[len(chunk):]
		if err := u.write(chunk); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (u *UDP) write(chunk []byte) error {
	if u.conn == nil {
		conn, err := net.Dial("udp", u.addr)
		if err != nil {
			return fmt.Errorf("redialing %s: %w", u.addr, err)
		}
		u.conn = conn
	}
	if _, err := u.conn.Write(chunk); err != nil {
		u.conn.Close()
		u.conn = nil // force a redial on the next write
		return fmt.Errorf("udp write: %w", err)
	}
	return nil
}

func (u *UDP) Close() error {
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}
