package telemetry

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// writeCapture is a stand-in write endpoint that records request bodies.
type writeCapture struct {
	mu     sync.Mutex
	bodies []string
	status atomic.Int32
}

func newWriteCapture(status int) *writeCapture {
	w := &writeCapture{}
	w.status.Store(int32(status))
	return w
}

func (c *writeCapture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, string(body))
		c.mu.Unlock()
		w.WriteHeader(int(c.status.Load()))
	}
}

func (c *writeCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *writeCapture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.bodies))
	copy(out, c.bodies)
	return out
}

func TestClient_WritesBatch(t *testing.T) {
	capture := newWriteCapture(http.StatusNoContent)
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	c, err := New(Config{
		URL:       ts.URL,
		Database:  "telemetry",
		BatchTime: 50 * time.Millisecond,
		Tags:      map[string]string{"host": "web-1"},
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	c.Report(
		Point{Measurement: "cpu", Fields: map[string]any{"usage": 10.5}},
		Point{Measurement: "mem", Fields: map[string]any{"free": int64(2048)}},
		Point{Measurement: "cpu", Fields: map[string]any{"usage": 11.0}},
	)

	waitFor(t, 2*time.Second, func() bool { return capture.count() == 1 })

	lines := strings.Split(strings.TrimSpace(capture.all()[0]), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines in the batch, got %d: %q", len(lines), lines)
	}
	expected := []string{
		"cpu,host=web-1 usage=10.5",
		"mem,host=web-1 free=2048i",
		"cpu,host=web-1 usage=11",
	}
	for i, want := range expected {
		if lines[i] != want {
			t.Errorf("line %d: expected %q, got %q", i, want, lines[i])
		}
	}

	stats := c.Stats()
	if stats.Reported != 3 || stats.Written != 3 || stats.Batches != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClient_PointTagWinsOverGlobal(t *testing.T) {
	capture := newWriteCapture(http.StatusNoContent)
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	c, err := New(Config{
		URL:      ts.URL,
		Database: "telemetry",
		Tags:     map[string]string{"host": "web-1", "region": "eu"},
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	c.Report(Point{
		Measurement: "cpu",
		Tags:        map[string]string{"host": "web-2"},
		Fields:      map[string]any{"usage": 1.0},
	})

	waitFor(t, 2*time.Second, func() bool { return capture.count() == 1 })

	got := strings.TrimSpace(capture.all()[0])
	if got != "cpu,host=web-2,region=eu usage=1" {
		t.Errorf("unexpected line: %q", got)
	}
}

func TestClient_InvalidPointsDropped(t *testing.T) {
	capture := newWriteCapture(http.StatusNoContent)
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	c, err := New(Config{
		URL:      ts.URL,
		Database: "telemetry",
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	c.Report(
		Point{Measurement: "cpu", Fields: map[string]any{"usage": 1.5}},
		Point{Measurement: "broken"}, // no fields
	)

	waitFor(t, 2*time.Second, func() bool { return capture.count() == 1 })

	got := strings.TrimSpace(capture.all()[0])
	if got != "cpu usage=1.5" {
		t.Errorf("expected only the valid point, got %q", got)
	}

	stats := c.Stats()
	if stats.Invalid != 1 || stats.Written != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClient_AllPointsInvalidSkipsWrite(t *testing.T) {
	capture := newWriteCapture(http.StatusNoContent)
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	c, err := New(Config{
		URL:      ts.URL,
		Database: "telemetry",
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	c.Report(Point{Measurement: "broken"})

	waitFor(t, 2*time.Second, func() bool { return c.Stats().Invalid == 1 })

	time.Sleep(20 * time.Millisecond)
	if n := capture.count(); n != 0 {
		t.Errorf("expected no write for an all-invalid batch, got %d", n)
	}
}

func TestClient_KeepsReportingAfterServerFailure(t *testing.T) {
	capture := newWriteCapture(http.StatusInternalServerError)
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	c, err := New(Config{
		URL:      ts.URL,
		Database: "telemetry",
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": 1.0}})
	waitFor(t, 2*time.Second, func() bool { return capture.count() == 1 })

	// The failed cycle must not wedge the next one.
	capture.status.Store(http.StatusNoContent)
	c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": 2.0}})
	waitFor(t, 2*time.Second, func() bool { return capture.count() == 2 })

	stats := c.Stats()
	if stats.Failed != 1 || stats.Written != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClient_PacedWrites(t *testing.T) {
	capture := newWriteCapture(http.StatusNoContent)
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	c, err := New(Config{
		URL:          ts.URL,
		Database:     "telemetry",
		WritesPerSec: 5, // one write every 200ms after the first
		Logger:       zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": 1.0}})
	waitFor(t, 2*time.Second, func() bool { return capture.count() == 1 })
	first := time.Now()

	c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": 2.0}})
	waitFor(t, 2*time.Second, func() bool { return capture.count() == 2 })

	if elapsed := time.Since(first); elapsed < 100*time.Millisecond {
		t.Errorf("second write went out after %v, pacing not applied", elapsed)
	}
}

func TestClient_CloseAbandonsPacedWrite(t *testing.T) {
	capture := newWriteCapture(http.StatusNoContent)
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	c, err := New(Config{
		URL:          ts.URL,
		Database:     "telemetry",
		WritesPerSec: 0.05, // next token 20s out
		Logger:       zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": 1.0}})
	waitFor(t, 2*time.Second, func() bool { return capture.count() == 1 })

	// Park a second batch in the limiter, then make sure Close gets the
	// loop back without waiting out the pacing interval.
	c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": 2.0}})
	waitFor(t, 2*time.Second, func() bool { return c.Stats().Batches == 2 })

	start := time.Now()
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Close took %v, blocked on pacing", elapsed)
	}

	stats := c.Stats()
	if stats.Written != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClient_SetWritesPerSec(t *testing.T) {
	capture := newWriteCapture(http.StatusNoContent)
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	c, err := New(Config{
		URL:          ts.URL,
		Database:     "telemetry",
		WritesPerSec: 0.05, // next token 20s out
		Logger:       zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": 1.0}})
	waitFor(t, 2*time.Second, func() bool { return capture.count() == 1 })

	// Lifting the limit lets the next batch go straight out instead of
	// waiting 20s for a token.
	c.SetWritesPerSec(0)
	c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": 2.0}})
	waitFor(t, 2*time.Second, func() bool { return capture.count() == 2 })

	if stats := c.Stats(); stats.Written != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClient_UDPTransport(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer conn.Close()

	c, err := New(Config{
		Transport: TransportUDP,
		Addr:      conn.LocalAddr().String(),
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": 1.5}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64*1024)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("no datagram received: %v", err)
	}
	if got := strings.TrimSpace(string(buf[:n])); got != "cpu usage=1.5" {
		t.Errorf("unexpected datagram: %q", got)
	}
}

func TestClient_CloseDiscardsQueued(t *testing.T) {
	capture := newWriteCapture(http.StatusNoContent)
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	c, err := New(Config{
		URL:       ts.URL,
		Database:  "telemetry",
		BatchTime: time.Hour,
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": float64(i)}})
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	stats := c.Stats()
	if stats.Discarded != 5 {
		t.Errorf("expected 5 discarded points, got %+v", stats)
	}
	if n := capture.count(); n != 0 {
		t.Errorf("expected no writes, got %d", n)
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	capture := newWriteCapture(http.StatusNoContent)
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	c, err := New(Config{URL: ts.URL, Database: "telemetry", Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	// Reporting after Close must not panic; the point is just dropped.
	c.Report(Point{Measurement: "cpu", Fields: map[string]any{"usage": 1.0}})
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error for an empty config")
	}
}

func TestNew_BadServerURL(t *testing.T) {
	_, err := New(Config{URL: "http://[::1]:namedport", Database: "db"})
	if err == nil {
		t.Fatal("expected an error for an unparsable url")
	}
}
