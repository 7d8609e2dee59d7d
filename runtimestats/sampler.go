// Package runtimestats periodically reports Go runtime health as telemetry
// points.
package runtimestats

import (
	"runtime"
	"sync/atomic"
	"time"

	telemetry "github.com/rychale/telemetry-influxdb"
)

const defaultInterval = 10 * time.Second

// Sampler reports goroutine, heap and GC gauges under the go_runtime
// measurement on a fixed interval.
type Sampler struct {
	reporter telemetry.Reporter
	interval time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopped  atomic.Bool
}

// NewSampler samples every interval. An interval of zero or less selects the
// default of ten seconds.
func NewSampler(r telemetry.Reporter, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sampler{
		reporter: r,
		interval: interval,
	}
}

// Start begins sampling in the background.
func (s *Sampler) Start() {
	s.stopCh = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)
	go s.run()
}

func (s *Sampler) run() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.ticker.C:
			s.sampleOnce()
		}
	}
}

// sampleOnce reads the runtime counters and reports them as one point.
func (s *Sampler) sampleOnce() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s.reporter.Report(telemetry.Point{
		Measurement: "go_runtime",
		Fields: map[string]any{
			"goroutines":   runtime.NumGoroutine(),
			"heap_alloc":   int64(ms.HeapAlloc),
			"heap_objects": int64(ms.HeapObjects),
			"sys":          int64(ms.Sys),
			"gc_runs":      int64(ms.NumGC),
			"gc_pause_ns":  int64(ms.PauseTotalNs),
		},
		Time: time.Now(),
	})
}

// Stop halts sampling. Safe to call more than once.
func (s *Sampler) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.stopCh != nil {
		close(s.stopCh)
	}
}
