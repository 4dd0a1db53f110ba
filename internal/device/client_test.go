package device

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esp32-tools/memharness/internal/config"
	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/testutil"
)

type eventLog struct {
	mu     sync.Mutex
	events []interface{}
}

func (l *eventLog) AppendEvent(v interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, v)
	return nil
}

func (l *eventLog) httpEvents() []models.HTTPEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.HTTPEvent
	for _, e := range l.events {
		if ev, ok := e.(models.HTTPEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() config.HarnessConfig {
	cfg := config.DefaultConfig()
	cfg.HTTP.Backoff = time.Millisecond
	cfg.HTTP.RequestTimeout = 2 * time.Second
	return cfg
}

func newTestClient(host string, cfg config.HarnessConfig) (*Client, *eventLog) {
	c := NewClient(host, cfg, "test")
	c.SetLogOutput(io.Discard)
	log := &eventLog{}
	c.SetJournal(log)
	return c, log
}

func TestGetJSONAndJournal(t *testing.T) {
	dev := testutil.NewFakeDevice("", "")
	defer dev.Close()
	c, log := newTestClient(dev.Host(), testConfig())

	var cfg map[string]interface{}
	resp, err := c.GetJSON(context.Background(), "/api/config", &cfg)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "test-panel", cfg["device_name"])

	events := log.httpEvents()
	require.Len(t, events, 1)
	assert.Equal(t, http.MethodGet, events[0].Method)
	assert.Equal(t, "http://"+dev.Host()+"/api/config", events[0].URL)
	assert.Equal(t, http.StatusOK, events[0].Status)
	assert.Contains(t, events[0].ContentType, "application/json")
}

func TestNon2xxIsData(t *testing.T) {
	dev := testutil.NewFakeDevice("", "")
	defer dev.Close()
	dev.SetStatus("/api/macros", http.StatusServiceUnavailable)
	c, _ := newTestClient(dev.Host(), testConfig())

	resp, err := c.Get(context.Background(), "/api/macros")
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	// Not retried: a busy answer is a valid answer.
	assert.Equal(t, 1, dev.Count(http.MethodGet, "/api/macros"))
}

func TestBasicAuth(t *testing.T) {
	dev := testutil.NewFakeDevice("admin", "pw")
	defer dev.Close()

	cfg := testConfig()
	resp, err := NewClient(dev.Host(), cfg, "test").Get(context.Background(), "/api/info")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	cfg.Auth = "admin:pw"
	resp, err = NewClient(dev.Host(), cfg, "test").Get(context.Background(), "/api/info")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestRetriesTransportErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host := ln.Addr().String()
	ln.Close()

	cfg := testConfig()
	cfg.HTTP.Attempts = 3
	c, log := newTestClient(host, cfg)

	start := time.Now()
	_, err = c.Get(context.Background(), "/api/health")
	assert.Error(t, err)
	// Two backoffs of 1ms and 2ms.
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)

	events := log.httpEvents()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].Error)
}

func TestNoIP(t *testing.T) {
	c, _ := newTestClient("", testConfig())
	_, err := c.Get(context.Background(), "/")
	assert.ErrorIs(t, err, ErrNoIP)
	assert.ErrorIs(t, c.Reboot(context.Background()), ErrNoIP)
}

func TestHealth(t *testing.T) {
	dev := testutil.NewFakeDevice("", "")
	defer dev.Close()
	dev.SetHealth(models.HealthSample{HeapInternalFree: 123456, PsramFree: 654321, HeapFragmentation: 7})
	c, _ := newTestClient(dev.Host(), testConfig())

	sample, resp, err := c.Health(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.True(t, resp.OK())
	assert.Equal(t, int64(123456), sample.HeapInternalFree)
	assert.Equal(t, int64(654321), sample.PsramFree)
	assert.Equal(t, float64(7), sample.Raw["heap_fragmentation"])

	dev.SetStatus("/api/health", http.StatusServiceUnavailable)
	sample, resp, err = c.Health(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sample)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
}

func TestParseHealthRejectsGarbage(t *testing.T) {
	_, err := ParseHealth([]byte("<html>"))
	assert.Error(t, err)
}

func TestRebootDoesNotWaitForResponse(t *testing.T) {
	dev := testutil.NewFakeDevice("", "")
	defer dev.Close()
	c, log := newTestClient(dev.Host(), testConfig())

	start := time.Now()
	require.NoError(t, c.Reboot(context.Background()))
	assert.Less(t, time.Since(start), time.Second)

	assert.Eventually(t, func() bool { return dev.Reboots() == 1 }, 2*time.Second, 10*time.Millisecond)

	events := log.httpEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "fire_and_forget", events[0].Mode)
	assert.Equal(t, http.MethodPost, events[0].Method)
	assert.Zero(t, events[0].Status)
}

func TestBurstKeepsOrder(t *testing.T) {
	dev := testutil.NewFakeDevice("", "")
	defer dev.Close()
	dev.SetStatus("/api/icons", http.StatusServiceUnavailable)
	c, log := newTestClient(dev.Host(), testConfig())

	paths := []string{"/api/mode", "/api/config", "/api/info", "/api/macros", "/api/icons", "/api/health", "/api/health"}
	results := c.Burst(context.Background(), paths, 3)

	require.Len(t, results, len(paths))
	for i, r := range results {
		assert.Equal(t, paths[i], r.Path)
		require.NoError(t, r.Err)
	}
	assert.Equal(t, http.StatusServiceUnavailable, results[4].Response.Status)
	assert.Equal(t, 2, dev.Count(http.MethodGet, "/api/health"))
	assert.Len(t, log.httpEvents(), len(paths))
}

func TestSetHostKeepsPort(t *testing.T) {
	c, _ := newTestClient("http://127.0.0.1:8080/", testConfig())
	assert.Equal(t, "127.0.0.1:8080", c.Host())

	c.SetHost("10.0.0.9")
	assert.Equal(t, "10.0.0.9:8080", c.Host())
	assert.Equal(t, "http://10.0.0.9:8080/api/health", c.URL("api/health"))

	c.SetHost("10.0.0.10:81")
	assert.Equal(t, "10.0.0.10:81", c.Host())

	plain, _ := newTestClient("192.168.1.5", testConfig())
	plain.SetHost("192.168.1.6")
	assert.Equal(t, "192.168.1.6", plain.Host())
}
