// fake_device.go - In-process stand-in for the device's HTTP API
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/esp32-tools/memharness/internal/models"
)

// RequestRecord is one request the fake device served.
type RequestRecord struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// FakeDevice serves the subset of the device API the harness drives.
type FakeDevice struct {
	Server *httptest.Server
	Echo   *echo.Echo

	mu        sync.Mutex
	requests  []RequestRecord
	health    []models.HealthSample
	healthIdx int
	config    map[string]interface{}
	macros    map[string]interface{}
	status    map[string]int
	screen    string
	reboots   int

	// OnReboot runs inside the reboot handler before it hangs.
	OnReboot func()
}

// NewFakeDevice starts the fake device. Basic auth is enforced when user is set.
func NewFakeDevice(user, pass string) *FakeDevice {
	d := &FakeDevice{
		config: map[string]interface{}{
			"device_name":   "test-panel",
			"wifi_ssid":     "lab",
			"wifi_password": "secret",
			"mqtt_host":     "",
		},
		macros: map[string]interface{}{
			"defaults": map[string]interface{}{"brightness": 50},
			"screens":  []interface{}{map[string]interface{}{"id": "test"}},
		},
		status: make(map[string]int),
		health: []models.HealthSample{{HeapInternalFree: 100000, PsramFree: 4000000}},
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(d.recordRequest)
	if user != "" {
		e.Use(middleware.BasicAuth(func(u, p string, c echo.Context) (bool, error) {
			return u == user && p == pass, nil
		}))
	}
	e.Use(d.statusOverride)

	e.GET("/api/health", d.handleHealth)
	e.GET("/api/config", d.handleGetConfig)
	e.POST("/api/config", d.handlePostConfig)
	e.GET("/api/macros", d.handleGetMacros)
	e.POST("/api/macros", d.handlePostMacros)
	e.PUT("/api/display/screen", d.handleScreen)
	e.POST("/api/reboot", d.handleReboot)
	e.POST("/api/icons/gc", d.ok)
	e.GET("/api/mode", d.ok)
	e.GET("/api/info", d.ok)
	e.GET("/api/icons", d.ok)
	for _, p := range []string{"/", "/network.html", "/firmware.html", "/portal.css", "/portal.js"} {
		e.GET(p, d.page)
	}

	d.Echo = e
	d.Server = httptest.NewServer(e)
	return d
}

// Host returns "127.0.0.1:port".
func (d *FakeDevice) Host() string {
	return strings.TrimPrefix(d.Server.URL, "http://")
}

func (d *FakeDevice) Close() {
	d.Server.CloseClientConnections()
	d.Server.Close()
}

// SetHealth replaces the sample sequence; the last sample repeats.
func (d *FakeDevice) SetHealth(samples ...models.HealthSample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = samples
	d.healthIdx = 0
}

// SetStatus forces every request to path to answer with status.
func (d *FakeDevice) SetStatus(path string, status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status[path] = status
}

// SetMethodStatus is SetStatus for one method only.
func (d *FakeDevice) SetMethodStatus(method, path string, status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status[method+" "+path] = status
}

// SetMacros replaces the macros document.
func (d *FakeDevice) SetMacros(m map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.macros = m
}

// SetConfig sets one config key.
func (d *FakeDevice) SetConfig(key string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config[key] = value
}

// Requests returns a copy of every served request.
func (d *FakeDevice) Requests() []RequestRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RequestRecord, len(d.requests))
	copy(out, d.requests)
	return out
}

// Count returns how many requests matched method and path.
func (d *FakeDevice) Count(method, path string) int {
	n := 0
	for _, r := range d.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (d *FakeDevice) Reboots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reboots
}

func (d *FakeDevice) Screen() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.screen
}

func (d *FakeDevice) recordRequest(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		var body []byte
		if req.Body != nil {
			body, _ = io.ReadAll(req.Body)
			req.Body = io.NopCloser(strings.NewReader(string(body)))
		}
		d.mu.Lock()
		d.requests = append(d.requests, RequestRecord{
			Method: req.Method,
			Path:   req.URL.Path,
			Query:  req.URL.RawQuery,
			Body:   string(body),
		})
		d.mu.Unlock()
		return next(c)
	}
}

func (d *FakeDevice) statusOverride(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		d.mu.Lock()
		status, ok := d.status[req.Method+" "+req.URL.Path]
		if !ok {
			status, ok = d.status[req.URL.Path]
		}
		d.mu.Unlock()
		if ok {
			return c.JSON(status, map[string]string{"error": "busy"})
		}
		return next(c)
	}
}

func (d *FakeDevice) handleHealth(c echo.Context) error {
	d.mu.Lock()
	s := d.health[d.healthIdx]
	if d.healthIdx < len(d.health)-1 {
		d.healthIdx++
	}
	d.mu.Unlock()
	return c.JSON(http.StatusOK, s)
}

func (d *FakeDevice) handleGetConfig(c echo.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return c.JSON(http.StatusOK, d.config)
}

func (d *FakeDevice) handlePostConfig(c echo.Context) error {
	var in map[string]interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	d.mu.Lock()
	for k, v := range in {
		d.config[k] = v
	}
	d.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (d *FakeDevice) handleGetMacros(c echo.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return c.JSON(http.StatusOK, d.macros)
}

func (d *FakeDevice) handlePostMacros(c echo.Context) error {
	var in map[string]interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	d.mu.Lock()
	d.macros = in
	d.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (d *FakeDevice) handleScreen(c echo.Context) error {
	var in struct {
		Screen string `json:"screen"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil || in.Screen == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "screen required"})
	}
	d.mu.Lock()
	d.screen = in.Screen
	d.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// handleReboot never answers, like a device that restarts mid-handler.
func (d *FakeDevice) handleReboot(c echo.Context) error {
	d.mu.Lock()
	d.reboots++
	hook := d.OnReboot
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	select {
	case <-c.Request().Context().Done():
	case <-time.After(5 * time.Second):
	}
	return nil
}

func (d *FakeDevice) ok(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (d *FakeDevice) page(c echo.Context) error {
	return c.HTML(http.StatusOK, "<html><body>portal</body></html>")
}
