// Package device is the HTTP client for the device's JSON API.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/esp32-tools/memharness/internal/config"
	"github.com/esp32-tools/memharness/internal/models"
)

// ErrNoIP is returned when a request is attempted before the device
// announced an address.
var ErrNoIP = errors.New("device ip unknown")

// EventJournal receives one HTTPEvent per request.
type EventJournal interface {
	AppendEvent(v interface{}) error
}

// Response is a completed HTTP exchange. Non-2xx statuses are data, not errors.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Duration time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// Client issues requests with a bounded retry and linear backoff on
// transport errors.
type Client struct {
	mu            sync.RWMutex
	host          string
	http          *http.Client
	user, pass    string
	auth          bool
	attempts      int
	backoff       time.Duration
	rebootTimeout time.Duration
	userAgent     string
	journal       EventJournal
	log           io.Writer
}

// NewClient creates a client for the device at host ("ip" or "ip:port").
func NewClient(host string, cfg config.HarnessConfig, version string) *Client {
	c := &Client{
		host:          normalizeHost(host),
		http:          &http.Client{Timeout: cfg.HTTP.RequestTimeout},
		attempts:      cfg.HTTP.Attempts,
		backoff:       cfg.HTTP.Backoff,
		rebootTimeout: cfg.HTTP.RebootTimeout,
		userAgent:     "memharness/" + version,
		log:           os.Stdout,
	}
	c.user, c.pass, c.auth = cfg.BasicAuth()
	if c.attempts < 1 {
		c.attempts = 1
	}
	return c
}

// SetJournal records every request as an http event.
func (c *Client) SetJournal(j EventJournal) {
	c.journal = j
}

// SetLogOutput redirects client diagnostics.
func (c *Client) SetLogOutput(w io.Writer) {
	c.log = w
}

// Host returns the device host the client targets.
func (c *Client) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}

// SetHost retargets the client, used when the device announces a new IP
// after a reboot. A bare IP keeps the current port.
func (c *Client) SetHost(host string) {
	host = normalizeHost(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, _, err := net.SplitHostPort(host); err != nil && host != "" {
		if _, port, err := net.SplitHostPort(c.host); err == nil {
			host = net.JoinHostPort(host, port)
		}
	}
	c.host = host
}

func normalizeHost(host string) string {
	host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "https://")
	return strings.TrimSuffix(host, "/")
}

// URL returns the absolute URL of path.
func (c *Client) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + c.Host() + path
}

// Do sends one request. Transport errors are retried; the last one is
// returned after all attempts fail.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, contentType string) (*Response, error) {
	if c.Host() == "" {
		return nil, ErrNoIP
	}
	url := c.URL(path)

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := c.once(ctx, method, url, body, contentType)
		if err == nil {
			c.record(method, url, resp, nil)
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == c.attempts {
			break
		}
		wait := time.Duration(attempt) * c.backoff
		fmt.Fprintf(c.log, "[http] %s %s attempt %d failed: %v (retrying in %s)\n", method, path, attempt, err, wait)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(wait):
			continue
		}
		break
	}
	c.record(method, url, nil, lastErr)
	return nil, fmt.Errorf("%s %s: %w", method, path, lastErr)
}

func (c *Client) once(ctx context.Context, method, url string, body []byte, contentType string) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &Response{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     data,
		Duration: time.Since(start),
	}, nil
}

func (c *Client) record(method, url string, resp *Response, err error) {
	if c.journal == nil {
		return
	}
	ev := models.HTTPEvent{
		TS:     time.Now().UTC(),
		Type:   models.EventHTTP,
		Method: method,
		URL:    url,
	}
	if resp != nil {
		ev.Status = resp.Status
		ev.ContentLength = len(resp.Body)
		ev.ContentType = resp.Header.Get("Content-Type")
		ev.ContentEncoding = resp.Header.Get("Content-Encoding")
		ev.DurationMs = resp.Duration.Milliseconds()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if jerr := c.journal.AppendEvent(ev); jerr != nil {
		fmt.Fprintf(c.log, "[http] journal write failed: %v\n", jerr)
	}
}

// Get issues a GET.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, "")
}

// GetJSON issues a GET and decodes a 2xx JSON body into v.
func (c *Client) GetJSON(ctx context.Context, path string, v interface{}) (*Response, error) {
	resp, err := c.Get(ctx, path)
	if err != nil || !resp.OK() {
		return resp, err
	}
	return resp, resp.DecodeJSON(v)
}

// SendJSON issues method with payload encoded as JSON.
func (c *Client) SendJSON(ctx context.Context, method, path string, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", path, err)
	}
	return c.Do(ctx, method, path, body, "application/json")
}

// Health fetches /api/health. A non-2xx or undecodable body yields a nil
// sample alongside the response.
func (c *Client) Health(ctx context.Context) (*models.HealthSample, *Response, error) {
	resp, err := c.Get(ctx, "/api/health")
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK() {
		return nil, resp, nil
	}
	sample, err := ParseHealth(resp.Body)
	if err != nil {
		return nil, resp, err
	}
	return sample, resp, nil
}

// ParseHealth decodes an /api/health body, keeping the raw map.
func ParseHealth(body []byte) (*models.HealthSample, error) {
	var sample models.HealthSample
	if err := json.Unmarshal(body, &sample); err != nil {
		return nil, fmt.Errorf("decoding health body: %w", err)
	}
	if err := json.Unmarshal(body, &sample.Raw); err != nil {
		return nil, fmt.Errorf("decoding health body: %w", err)
	}
	return &sample, nil
}
