package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rychale/telemetry-influxdb/internal/lineprotocol"
	"github.com/rychale/telemetry-influxdb/internal/publish"
	"github.com/rychale/telemetry-influxdb/internal/ratelimit"
)

// Client ships telemetry points to InfluxDB in debounced batches. Points
// reported within one batch window go out as a single write, in the order
// they were reported.
type Client struct {
	cfg     Config
	log     *zap.Logger
	pub     publish.Publisher
	limiter *ratelimit.Limiter

	reporter *BatchReporter[Point]
	ctx      context.Context
	cancel   context.CancelFunc

	reported  atomic.Int64
	batches   atomic.Int64
	written   atomic.Int64
	invalid   atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// Stats is a snapshot of the client's delivery counters.
type Stats struct {
	Reported  int64 // points accepted by Report
	Batches   int64 // batches handed to the writer
	Written   int64 // points delivered to the server
	Invalid   int64 // points the encoder rejected
	Failed    int64 // points in batches the server or network refused
	Discarded int64 // points dropped at Close before they were written
}

// New builds a client for the configured server and starts its reporting
// loop. Callers must Close the client to release the transport.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg = cfg.withDefaults()

	var pub publish.Publisher
	var err error
	switch cfg.Transport {
	case TransportUDP:
		pub, err = publish.NewUDP(cfg.Addr, cfg.PayloadSize)
	default:
		pub, err = publish.NewHTTP(publish.HTTPOptions{
			URL:      cfg.URL,
			Version:  cfg.Version,
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
			Org:      cfg.Org,
			Bucket:   cfg.Bucket,
			Token:    cfg.Token,
			Timeout:  cfg.Timeout,
		})
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		log:     cfg.Logger,
		pub:     pub,
		limiter: ratelimit.NewLimiter(cfg.WritesPerSec),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.reporter = NewBatchReporter(c.write, cfg.BatchTime, WithQueueSize(cfg.QueueSize))
	return c, nil
}

// Report enqueues points for batched delivery. It returns immediately unless
// the internal queue is full.
func (c *Client) Report(points ...Point) {
	for _, p := range points {
		c.reported.Add(1)
		c.reporter.Enqueue(p)
	}
}

// Stats returns current counter values. Counters only ever grow, except
// Discarded which is computed once at Close.
func (c *Client) Stats() Stats {
	return Stats{
		Reported:  c.reported.Load(),
		Batches:   c.batches.Load(),
		Written:   c.written.Load(),
		Invalid:   c.invalid.Load(),
		Failed:    c.failed.Load(),
		Discarded: c.discarded.Load(),
	}
}

// SetWritesPerSec retunes write pacing at runtime. Zero removes the limit.
// A batch already waiting on the old rate keeps its reservation.
func (c *Client) SetWritesPerSec(perSec float64) {
	c.limiter.SetRate(perSec)
}

// Close stops the reporting loop and releases the transport. An in-flight
// write is abandoned, and points not yet written are discarded and counted
// in Stats.Discarded. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.reporter.Stop()

		handled := c.written.Load() + c.invalid.Load() + c.failed.Load()
		if d := c.reported.Load() - handled; d > 0 {
			c.discarded.Store(d)
			c.log.Warn("discarding unwritten points", zap.Int64("points", d))
		}
		c.closeErr = c.pub.Close()
	})
	return c.closeErr
}

// write is the batch sink. It runs on the reporting goroutine, one batch at
// a time.
func (c *Client) write(points []Point) {
	c.batches.Add(1)
	log := c.log.With(zap.String("batch_id", uuid.NewString()))

	payload, encoded := c.encode(log, points)
	if encoded == 0 {
		return
	}

	if err := c.limiter.Wait(c.ctx); err != nil {
		c.failed.Add(int64(encoded))
		log.Warn("batch abandoned while paced", zap.Int("points", encoded), zap.Error(err))
		return
	}

	if err := c.pub.Publish(c.ctx, payload); err != nil {
		c.failed.Add(int64(encoded))
		log.Error("batch write failed", zap.Int("points", encoded), zap.Error(err))
		return
	}

	c.written.Add(int64(encoded))
	log.Debug("batch written", zap.Int("points", encoded), zap.Int("bytes", len(payload)))
}

// encode renders the batch as newline-separated line protocol, dropping and
// counting points the encoder rejects.
func (c *Client) encode(log *zap.Logger, points []Point) ([]byte, int) {
	payload := make([]byte, 0, 128*len(points))
	encoded := 0
	for _, p := range points {
		next, err := lineprotocol.AppendPoint(payload, p.Measurement, c.mergeTags(p.Tags), p.Fields, p.Time)
		if err != nil {
			c.invalid.Add(1)
			log.Warn("dropping invalid point", zap.Error(err))
			continue
		}
		payload = append(next, '\n')
		encoded++
	}
	return payload, encoded
}

// mergeTags overlays point tags on the configured global tags. The point
// wins on conflict.
func (c *Client) mergeTags(tags map[string]string) map[string]string {
	if len(c.cfg.Tags) == 0 {
		return tags
	}
	merged := make(map[string]string, len(c.cfg.Tags)+len(tags))
	for k, v := range c.cfg.Tags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return merged
}
