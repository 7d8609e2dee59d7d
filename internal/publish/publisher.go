// Package publish delivers encoded line protocol batches to InfluxDB over
// HTTP or UDP.
package publish

import (
	"context"
	"fmt"
)

// Publisher delivers one encoded batch payload. Implementations are driven
// from a single goroutine; Close is called after the last Publish returns.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// ServerError is returned when InfluxDB rejects a write.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server rejected write (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("server rejected write (status %d): %s", e.StatusCode, e.Message)
}
