package scenario

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/esp32-tools/memharness/internal/device"
	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/parser"
)

// Portal resources fetched by the page and browser scenarios.
var (
	PortalPages  = []string{"/", "/network.html", "/firmware.html"}
	PortalAssets = []string{"/portal.css", "/portal.js"}
	BurstAPIs    = []string{"/api/mode", "/api/config", "/api/info", "/api/macros", "/api/icons"}
	ReloadAPIs   = []string{"/api/mode", "/api/config", "/api/info"}
	TestScreens  = []string{"test", "info"}
)

// ConfigSaveFields are the only /api/config keys echoed back on save.
var ConfigSaveFields = []string{
	"wifi_ssid", "wifi_password", "device_name",
	"fixed_ip", "subnet_mask", "gateway", "dns1", "dns2",
	"dummy_setting",
	"mqtt_host", "mqtt_port", "mqtt_username", "mqtt_password", "mqtt_interval_seconds",
	"basic_auth_enabled", "basic_auth_username", "basic_auth_password",
	"backlight_brightness",
	"screen_saver_enabled", "screen_saver_timeout_seconds",
	"screen_saver_fade_out_ms", "screen_saver_fade_in_ms", "screen_saver_wake_on_touch",
}

// ConfigSecretFields are blanked so the device keeps its stored secrets.
var ConfigSecretFields = []string{"wifi_password", "mqtt_password", "basic_auth_password"}

const (
	pageGap        = time.Second
	assetGap       = 100 * time.Millisecond
	screenGap      = 500 * time.Millisecond
	phaseGap       = 500 * time.Millisecond
	settleInterval = 2 * time.Second
)

// health takes a stability-gated snapshot; nil when no reading was possible.
func (e *Engine) health(ctx context.Context, label string) *models.HealthSample {
	sample, stable := e.sampler.Sample(ctx, label)
	if sample == nil {
		fmt.Fprintf(e.log, "[harness] health %s: no reading\n", label)
		return nil
	}
	fmt.Fprintf(e.log, "[harness] health %s: internal_free=%d internal_min=%d psram_free=%d stable=%v\n",
		label, sample.HeapInternalFree, sample.HeapInternalMin, sample.PsramFree, stable)
	return sample
}

// heartbeat waits for the firmware's periodic [Mem] hb snapshot.
func (e *Engine) heartbeat(ctx context.Context) bool {
	_, ok := e.capture.Waiter.WaitFor(ctx, parser.HeartbeatPattern, e.cfg.HeartbeatWait, "[Mem] hb")
	if !ok {
		e.note(fmt.Sprintf("No [Mem] hb within %s", e.cfg.HeartbeatWait))
	}
	return ok
}

func (e *Engine) requireIP(step string) bool {
	if e.client.Host() != "" {
		return true
	}
	e.note(fmt.Sprintf("%s requires a device IP; none configured or seen on serial", step))
	return false
}

func (e *Engine) get(ctx context.Context, path string) *device.Response {
	resp, err := e.client.Get(ctx, path)
	e.logResponse(http.MethodGet, path, resp, err)
	return resp
}

func (e *Engine) logResponse(method, path string, resp *device.Response, err error) {
	if err != nil {
		fmt.Fprintf(e.log, "[http] %s %s failed: %v\n", method, path, err)
		return
	}
	fmt.Fprintf(e.log, "[http] %s %s -> %d (%d bytes, %s)\n",
		method, path, resp.Status, len(resp.Body), resp.Duration.Round(time.Millisecond))
}

// staticBundle fetches a page and its shared assets the way a browser would.
func (e *Engine) staticBundle(ctx context.Context, page string) {
	for i, p := range append([]string{page}, PortalAssets...) {
		if i > 0 {
			e.sleep(ctx, assetGap)
		}
		e.get(ctx, p)
	}
}

// burst GETs paths in parallel, bounded by the configured parallelism.
func (e *Engine) burst(ctx context.Context, paths []string) {
	fmt.Fprintf(e.log, "[harness] API burst: %d requests, parallel=%d\n", len(paths), e.cfg.BrowserParallel)
	for _, r := range e.client.Burst(ctx, paths, e.cfg.BrowserParallel) {
		e.logResponse(http.MethodGet, r.Path, r.Response, r.Err)
	}
}

func (e *Engine) switchScreens(ctx context.Context) {
	for i, id := range TestScreens {
		if i > 0 {
			e.sleep(ctx, screenGap)
		}
		resp, err := e.client.SendJSON(ctx, http.MethodPut, "/api/display/screen", map[string]string{"screen": id})
		e.logResponse(http.MethodPut, "/api/display/screen "+id, resp, err)
	}
}

// macrosPayload fetches /api/macros and builds the body to post back.
// On failure it returns a nil payload and the reason.
func (e *Engine) macrosPayload(ctx context.Context) (map[string]interface{}, string) {
	var doc map[string]interface{}
	resp, err := e.client.GetJSON(ctx, "/api/macros", &doc)
	e.logResponse(http.MethodGet, "/api/macros", resp, err)
	switch {
	case resp == nil:
		return nil, fmt.Sprintf("GET /api/macros failed: %v", err)
	case !resp.OK():
		return nil, fmt.Sprintf("GET /api/macros failed: HTTP %d", resp.Status)
	case err != nil:
		return nil, fmt.Sprintf("GET /api/macros returned invalid JSON: %v", err)
	}

	screens, ok := doc["screens"].([]interface{})
	if !ok {
		return nil, "GET /api/macros response missing screens[]"
	}
	payload := map[string]interface{}{"screens": screens}
	if defaults, ok := doc["defaults"].(map[string]interface{}); ok {
		payload["defaults"] = defaults
	}
	return payload, ""
}

func (e *Engine) postMacros(ctx context.Context, payload map[string]interface{}) bool {
	resp, err := e.client.SendJSON(ctx, http.MethodPost, "/api/macros", payload)
	e.logResponse(http.MethodPost, "/api/macros", resp, err)
	if err != nil {
		e.note(fmt.Sprintf("POST /api/macros failed: %v", err))
		return false
	}
	if !resp.OK() {
		e.note(fmt.Sprintf("POST /api/macros failed: HTTP %d", resp.Status))
		return false
	}
	return true
}

// applyMacros is the portal's "apply" action: round-trip the macros and
// let the device collect unused icons.
func (e *Engine) applyMacros(ctx context.Context) bool {
	payload, reason := e.macrosPayload(ctx)
	if payload == nil {
		e.note(reason)
		return false
	}
	ok := e.postMacros(ctx, payload)

	// Best effort, sent whether or not the POST was accepted.
	resp, err := e.client.Do(ctx, http.MethodPost, "/api/icons/gc", nil, "")
	e.logResponse(http.MethodPost, "/api/icons/gc", resp, err)
	return ok
}

// withHealthCalls appends the configured number of /api/health calls to a
// burst, as a browser tab polling health would.
func (e *Engine) withHealthCalls(paths []string) []string {
	out := append([]string{}, paths...)
	if e.cfg.Health {
		for i := 0; i < e.cfg.BrowserHealthCount; i++ {
			out = append(out, "/api/health")
		}
	}
	return out
}

// saveConfig posts back the allow-listed config fields without rebooting.
func (e *Engine) saveConfig(ctx context.Context) bool {
	var current map[string]interface{}
	resp, err := e.client.GetJSON(ctx, "/api/config", &current)
	e.logResponse(http.MethodGet, "/api/config", resp, err)
	if resp == nil || !resp.OK() || err != nil {
		e.note("GET /api/config failed; config save skipped")
		return false
	}

	payload := ConfigSavePayload(current)
	resp, err = e.client.SendJSON(ctx, http.MethodPost, "/api/config?no_reboot=1", payload)
	e.logResponse(http.MethodPost, "/api/config?no_reboot=1", resp, err)
	if err != nil || resp.Status != http.StatusOK {
		e.note("POST /api/config?no_reboot=1 failed")
		return false
	}
	return true
}

// ConfigSavePayload keeps ConfigSaveFields present in current and blanks
// ConfigSecretFields.
func ConfigSavePayload(current map[string]interface{}) map[string]interface{} {
	payload := make(map[string]interface{}, len(ConfigSaveFields))
	for _, k := range ConfigSaveFields {
		if v, ok := current[k]; ok {
			payload[k] = v
		}
	}
	for _, k := range ConfigSecretFields {
		if _, ok := payload[k]; ok {
			payload[k] = ""
		}
	}
	return payload
}
