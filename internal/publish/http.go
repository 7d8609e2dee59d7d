package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultTimeout = 10 * time.Second
	// maxErrorBodySize limits how much of an error response is read for the
	// message returned to the caller.
	maxErrorBodySize = 4096
)

// HTTPOptions configures an HTTP publisher. Version selects the write API:
// 1 uses /write with db and optional basic auth, 2 uses /api/v2/write with
// org, bucket and a token.
type HTTPOptions struct {
	URL      string
	Version  int
	Database string
	Username string
	Password string
	Org      string
	Bucket   string
	Token    string
	Timeout  time.Duration
	// Client overrides the HTTP client, mainly for tests. When nil a client
	// with Timeout is used.
	Client *http.Client
}

// HTTP publishes batches with POSTs to an InfluxDB write endpoint.
type HTTP struct {
	writeURL string
	username string
	password string
	token    string
	client   *http.Client
}

// NewHTTP builds a publisher for the configured write endpoint.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}

	q := url.Values{}
	q.Set("precision", "ns")
	path := "/write"
	if opts.Version == 2 {
		path = "/api/v2/write"
		q.Set("org", opts.Org)
		q.Set("bucket", opts.Bucket)
	} else {
		q.Set("db", opts.Database)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTP{
		writeURL: u.String(),
		username: opts.Username,
		password: opts.Password,
		token:    opts.Token,
		client:   client,
	}, nil
}

func (h *HTTP) Publish(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.writeURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building write request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("User-Agent", "telemetry-influxdb")
	if h.token != "" {
		req.Header.Set("Authorization", "Token "+h.token)
	}
	if h.username != "" {
		req.SetBasicAuth(h.username, h.password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("writing batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body) // drain errors are ignorable
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &ServerError{StatusCode: resp.StatusCode, Message: serverMessage(body)}
}

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

// serverMessage pulls the error text out of an InfluxDB error body. The v2
// API returns {"message": ...}, v1 {"error": ...}; anything else is returned
// as-is.
func serverMessage(body []byte) string {
	for _, key := range []string{"message", "error"} {
		if v := gjson.GetBytes(body, key); v.Exists() {
			return v.String()
		}
	}
	return strings.TrimSpace(string(body))
}
