package telemetry

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Transport names for Config.Transport.
const (
	TransportHTTP = "http"
	TransportUDP  = "udp"
)

// Config describes where and how the client ships telemetry.
type Config struct {
	// Transport selects how batches reach InfluxDB: "http" (default) or
	// "udp". UDP only speaks the v1 protocol.
	Transport string

	// Version of the InfluxDB API: 1 or 2. Defaults to 1.
	Version int

	// URL is the server base URL for the HTTP transport, for example
	// http://localhost:8086.
	URL string

	// Database receives v1 writes. Username and Password are optional
	// basic auth credentials.
	Database string
	Username string
	Password string

	// Org, Bucket and Token address and authorize v2 writes.
	Org    string
	Bucket string
	Token  string

	// Addr is the host:port of the UDP listener. PayloadSize caps datagram
	// size; zero selects the transport default.
	Addr        string
	PayloadSize int

	// BatchTime is how long the client accumulates points before writing
	// them out as one batch. Zero writes each accumulated batch as soon as
	// the reporting loop gets to it.
	BatchTime time.Duration

	// QueueSize bounds how many points may sit unprocessed between the
	// callers and the reporting loop. Zero selects the default. Report
	// blocks when the queue is full.
	QueueSize int

	// Tags are stamped on every point. A tag set on the point itself wins.
	Tags map[string]string

	// WritesPerSec paces outbound writes. Zero means unlimited.
	WritesPerSec float64

	// Timeout bounds each HTTP write. Zero selects the transport default.
	Timeout time.Duration

	// Logger receives write failures and dropped-point diagnostics. Nil
	// disables logging.
	Logger *zap.Logger
}

// withDefaults returns a copy with the optional knobs filled in.
func (c Config) withDefaults() Config {
	if c.Transport == "" {
		c.Transport = TransportHTTP
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Validate reports the first problem that would prevent the client from
// writing anything. Defaults are applied before checking.
func (c Config) Validate() error {
	c = c.withDefaults()

	if c.Version != 1 && c.Version != 2 {
		return fmt.Errorf("unsupported version %d: must be 1 or 2", c.Version)
	}
	if c.BatchTime < 0 {
		return fmt.Errorf("negative batch time %v", c.BatchTime)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("negative queue size %d", c.QueueSize)
	}
	if c.WritesPerSec < 0 {
		return fmt.Errorf("negative write rate %v", c.WritesPerSec)
	}

	switch c.Transport {
	case TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("http transport requires a url")
		}
	case TransportUDP:
		if c.Addr == "" {
			return fmt.Errorf("udp transport requires an addr")
		}
		if c.Version != 1 {
			return fmt.Errorf("udp transport only supports version 1")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	switch c.Version {
	case 1:
		if c.Transport == TransportHTTP && c.Database == "" {
			return fmt.Errorf("version 1 requires a database")
		}
	case 2:
		if c.Org == "" || c.Bucket == "" {
			return fmt.Errorf("version 2 requires an org and a bucket")
		}
		if c.Token == "" {
			return fmt.Errorf("version 2 requires a token")
		}
	}
	return nil
}
