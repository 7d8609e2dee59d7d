package influxtest

import (
	"net"
	"strings"
	"sync"
)

// UDPListener collects line protocol datagrams the way the InfluxDB v1 UDP
// service would.
type UDPListener struct {
	conn net.PacketConn
	done chan struct{}

	mu    sync.Mutex
	lines []string
}

// NewUDPListener starts a listener on a random local port.
func NewUDPListener() (*UDPListener, error) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	l := &UDPListener{
		conn: conn,
		done: make(chan struct{}),
	}
	go l.read()
	return l, nil
}

// Addr returns the host:port the listener is bound to.
func (l *UDPListener) Addr() string {
	return l.conn.LocalAddr().String()
}

// Lines returns every line received so far, in arrival order.
func (l *UDPListener) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Close stops the listener and waits for its goroutine to exit.
func (l *UDPListener) Close() error {
	err := l.conn.Close()
	<-l.done
	return err
}

func (l *UDPListener) read() {
	defer close(l.done)
	buf := make([]byte, 64*1024)
	for {
		n, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			return // closed
		}
		l.record(buf[:n])
	}
}

func (l *UDPListener) record(payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range strings.Split(string(payload), "\n") {
		if line != "" {
			l.lines = append(l.lines, line)
		}
	}
}
