// Package influxtest provides a fake InfluxDB server for tests and local
// development. It records every write it receives and can be told to fail.
package influxtest

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// WriteRequest is one recorded call to a write endpoint.
type WriteRequest struct {
	Version       int
	Database      string
	Org           string
	Bucket        string
	Precision     string
	Authorization string
	Username      string
	Password      string
	Lines         []string
}

// Server mimics the InfluxDB v1 and v2 write APIs.
type Server struct {
	mux *http.ServeMux

	mu       sync.Mutex
	requests []WriteRequest
	failNext int
	onWrite  func(WriteRequest)
}

// NewServer creates a fake server with the write and health endpoints
// registered.
func NewServer() *Server {
	s := &Server{
		mux: http.NewServeMux(),
	}
	s.registerHandlers()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerHandlers() {
	s.mux.HandleFunc("/ping", s.handlePing)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/write", s.handleWriteV1)
	s.mux.HandleFunc("/api/v2/write", s.handleWriteV2)
}

// FailWrites makes the next n writes fail with status 500 and an error body
// in the shape of the matching API version.
func (s *Server) FailWrites(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// OnWrite registers fn to be called with each accepted write, after it is
// recorded. Failed writes are not reported. A nil fn removes the callback.
func (s *Server) OnWrite(fn func(WriteRequest)) {
	s.mu.Lock()
	s.onWrite = fn
	s.mu.Unlock()
}

// Requests returns every recorded write in arrival order.
func (s *Server) Requests() []WriteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WriteRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Lines returns all recorded line protocol lines across every write.
func (s *Server) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, req := range s.requests {
		out = append(out, req.Lines...)
	}
	return out
}

// Count returns how many writes were accepted.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Reset forgets all recorded writes and pending failures.
func (s *Server) Reset() {
	s.mu.Lock()
	s.requests = nil
	s.failNext = 0
	s.mu.Unlock()
}

// handlePing answers the v1 health check.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Influxdb-Version", "1.8.10")
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth answers the v2 health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"name":"influxdb","status":"pass"}`)
}

// handleWriteV1 accepts v1 writes: POST /write?db=name&precision=ns
func (s *Server) handleWriteV1(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.takeFailure() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"simulated failure"}`)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}

	user, pass, _ := r.BasicAuth()
	s.record(WriteRequest{
		Version:       1,
		Database:      r.URL.Query().Get("db"),
		Precision:     r.URL.Query().Get("precision"),
		Authorization: r.Header.Get("Authorization"),
		Username:      user,
		Password:      pass,
		Lines:         splitLines(body),
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleWriteV2 accepts v2 writes: POST /api/v2/write?org=o&bucket=b
func (s *Server) handleWriteV2(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.takeFailure() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":"internal error","message":"simulated failure"}`)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}

	s.record(WriteRequest{
		Version:       2,
		Org:           r.URL.Query().Get("org"),
		Bucket:        r.URL.Query().Get("bucket"),
		Precision:     r.URL.Query().Get("precision"),
		Authorization: r.Header.Get("Authorization"),
		Lines:         splitLines(body),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) takeFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return true
	}
	return false
}

func (s *Server) record(req WriteRequest) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	fn := s.onWrite
	s.mu.Unlock()
	// Outside the lock so the callback may query the server.
	if fn != nil {
		fn(req)
	}
}

func splitLines(body []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(body), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
