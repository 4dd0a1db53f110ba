package scenario

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/esp32-tools/memharness/internal/config"
	"github.com/esp32-tools/memharness/internal/parser"
)

func runBaseline(ctx context.Context, e *Engine) (int, error) {
	e.health(ctx, "s1_after_ip")
	e.heartbeat(ctx)
	e.health(ctx, "s1_after_hb")
	return 0, nil
}

func runPortalLoad(ctx context.Context, e *Engine) (int, error) {
	e.health(ctx, "s2_before")
	if !e.requireIP("Portal page load") {
		return 1, nil
	}

	if e.cfg.Pages {
		for _, p := range PortalPages {
			e.get(ctx, p)
			e.sleep(ctx, pageGap)
			e.pause(ctx, config.PauseAfterGetPrefix+p, "Fetched "+p+".")
		}
	} else {
		e.note("Skipped page GETs (pages disabled)")
	}

	e.sleep(ctx, settleInterval)
	e.heartbeat(ctx)
	e.health(ctx, "s2_after")
	return 0, nil
}

func runBrowserLoad(ctx context.Context, e *Engine) (int, error) {
	e.health(ctx, "s6_before")
	if !e.requireIP("Browser-like portal load") {
		return 1, nil
	}

	e.note("Phase 1: static bundle + API burst")
	e.staticBundle(ctx, "/")
	e.burst(ctx, e.withHealthCalls(BurstAPIs))
	e.sleep(ctx, phaseGap)

	e.note("Phase 2: macros apply + config save")
	if !e.applyMacros(ctx) {
		return 1, nil
	}
	if !e.saveConfig(ctx) {
		return 1, nil
	}
	e.sleep(ctx, phaseGap)

	e.note("Phase 3: reload network page")
	e.staticBundle(ctx, "/network.html")
	e.burst(ctx, e.withHealthCalls(ReloadAPIs))

	e.sleep(ctx, settleInterval)
	e.heartbeat(ctx)
	e.health(ctx, "s6_after")
	return 0, nil
}

func runManual(ctx context.Context, e *Engine) (int, error) {
	e.prompt(ctx, "Perform the manual device interaction now.")
	return 0, nil
}

func runMacros(ctx context.Context, e *Engine) (int, error) {
	e.health(ctx, "s4_before")
	if !e.requireIP("Macros config POST/apply") {
		return 1, nil
	}

	payload, reason := e.macrosPayload(ctx)
	if payload == nil {
		e.note(reason)
		return 1, nil
	}
	if !e.postMacros(ctx, payload) {
		return 1, nil
	}

	e.switchScreens(ctx)
	e.heartbeat(ctx)
	e.health(ctx, "s4_after")
	return 0, nil
}

func runMQTT(ctx context.Context, e *Engine) (int, error) {
	e.health(ctx, "s5_before")
	if !e.requireIP("MQTT connect/publish") {
		return 1, nil
	}

	var cfg map[string]interface{}
	resp, err := e.client.GetJSON(ctx, "/api/config", &cfg)
	e.logResponse(http.MethodGet, "/api/config", resp, err)
	if host, _ := cfg["mqtt_host"].(string); strings.TrimSpace(host) == "" {
		e.note("MQTT host not configured (mqtt_* tags may not appear)")
	}

	e.switchScreens(ctx)
	if _, ok := e.capture.Waiter.WaitFor(ctx, parser.MQTTPattern, e.cfg.MQTTWait, "[Mem] mqtt_*"); !ok {
		e.note(fmt.Sprintf("No [Mem] mqtt_* snapshot within %s", e.cfg.MQTTWait))
	}
	e.heartbeat(ctx)
	e.health(ctx, "s5_after")
	return 0, nil
}
