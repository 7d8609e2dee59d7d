// Package telemetry ships application telemetry to InfluxDB in batches.
//
// Producers hand individual measurements to a Client, which accumulates them
// and periodically writes one line-protocol batch to the server, instead of
// one write per measurement. Batching is time-driven: the first point of a
// cycle schedules a flush after the configured batch time, and every point
// reported before that flush rides along with it.
package telemetry

import "time"

// Point is a single measurement destined for InfluxDB.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any // int/int64/uint variants, float32/64, bool, string
	Time        time.Time      // zero means the server assigns receipt time
}

// Reporter is the producer-facing surface for sending points. *Client
// satisfies it; tests and libraries can accept a Reporter instead of the
// concrete client.
type Reporter interface {
	Report(points ...Point)
}
