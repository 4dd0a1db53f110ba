// Package scenario drives one harness run: it boots the device, waits for
// readiness, executes the selected scenario body and finalizes the run.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/esp32-tools/memharness/internal/models"
)

// ErrUnknownScenario is returned by Lookup for a name with no registry entry.
var ErrUnknownScenario = errors.New("unknown scenario")

// BodyFunc executes a scenario body and returns the run's exit code.
// Expected device failures produce a non-zero code after a note; the
// error is reserved for conditions the body did not anticipate.
type BodyFunc func(ctx context.Context, e *Engine) (int, error)

// Scenario is one registry entry.
type Scenario struct {
	Key         string
	Title       string
	Description string
	Aliases     []string
	body        BodyFunc
}

// Info returns the summary metadata of s.
func (s Scenario) Info() models.ScenarioInfo {
	return models.ScenarioInfo{Key: s.Key, Title: s.Title, Description: s.Description}
}

var scenarios = []Scenario{
	{
		Key:         "s1",
		Title:       "Baseline boot + idle",
		Description: "Reboot, wait for IP + [Main] Setup complete, then capture first [Mem] hb.",
		Aliases:     []string{"boot", "s1_boot_idle"},
		body:        runBaseline,
	},
	{
		Key:         "s2",
		Title:       "Portal page load",
		Description: "Fetch portal pages sequentially and capture heap after each step.",
		Aliases:     []string{"portal", "s2_portal_load"},
		body:        runPortalLoad,
	},
	{
		Key:         "s6",
		Title:       "Browser-like portal load",
		Description: "Simulate a browser: static bundle plus parallel API burst, macros apply and config save.",
		Aliases:     []string{"browser", "s6_browser"},
		body:        runBrowserLoad,
	},
	{
		Key:         "prompt",
		Title:       "Manual interaction",
		Description: "Pause for a manual device interaction while serial capture runs.",
		Aliases:     []string{"manual"},
		body:        runManual,
	},
	{
		Key:         "s4",
		Title:       "Macros config POST/apply",
		Description: "Round-trip the macros config and switch screens.",
		Aliases:     []string{"macros", "s4_macros"},
		body:        runMacros,
	},
	{
		Key:         "s5",
		Title:       "MQTT connect/publish",
		Description: "Observe MQTT activity while switching screens.",
		Aliases:     []string{"mqtt", "s5_mqtt"},
		body:        runMQTT,
	},
}

// index maps every key and alias to its position in scenarios. It is
// built once and never mutated.
var index = buildIndex()

func buildIndex() map[string]int {
	m := make(map[string]int)
	for i, s := range scenarios {
		for _, name := range append([]string{s.Key}, s.Aliases...) {
			if _, dup := m[name]; dup {
				panic(fmt.Sprintf("scenario: duplicate name %q", name))
			}
			m[name] = i
		}
	}
	return m
}

// Lookup resolves a key or alias, ignoring case and surrounding space.
func Lookup(name string) (Scenario, error) {
	i, ok := index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownScenario, name, strings.Join(Names(), ", "))
	}
	return scenarios[i], nil
}

// All returns the registry in display order.
func All() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

// Names returns every key and alias, sorted.
func Names() []string {
	names := make([]string, 0, len(index))
	for n := range index {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
