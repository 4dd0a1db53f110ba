package scenario

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/esp32-tools/memharness/internal/config"
	"github.com/esp32-tools/memharness/internal/device"
	"github.com/esp32-tools/memharness/internal/health"
	"github.com/esp32-tools/memharness/internal/metrics"
	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/parser"
	"github.com/esp32-tools/memharness/internal/report"
	"github.com/esp32-tools/memharness/internal/session"
	"github.com/esp32-tools/memharness/internal/storage"
)

// State is a step of the run state machine.
type State string

const (
	StateNotStarted          State = "not_started"
	StateSerialConnected     State = "serial_connected"
	StateRebooted            State = "rebooted"
	StateSkippedReboot       State = "skipped_reboot"
	StateAwaitingReadiness   State = "awaiting_readiness"
	StateReady               State = "ready"
	StateRunningScenarioBody State = "running_scenario_body"
	StateFinalizing          State = "finalizing"
	StateDone                State = "done"
)

// Deps is everything one run needs. The capture must not be started yet;
// the engine starts it and always stops it.
type Deps struct {
	Config   config.HarnessConfig
	Scenario Scenario
	RunID    string
	Journal  *storage.RunJournal
	Capture  *session.Capture
	Client   *device.Client
	Sampler  *health.Sampler
	Prompter Prompter
	Git      models.GitInfo
	Log      io.Writer
}

// Engine executes exactly one run.
type Engine struct {
	cfg      config.HarnessConfig
	scenario Scenario
	journal  *storage.RunJournal
	capture  *session.Capture
	client   *device.Client
	sampler  *health.Sampler
	prompter Prompter
	log      io.Writer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	state      State
	rebootSeen bool
	summary    *models.RunSummary
}

func NewEngine(d Deps) *Engine {
	log := d.Log
	if log == nil {
		log = os.Stdout
	}
	e := &Engine{
		cfg:      d.Config,
		scenario: d.Scenario,
		journal:  d.Journal,
		capture:  d.Capture,
		client:   d.Client,
		sampler:  d.Sampler,
		prompter: d.Prompter,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
		state:    StateNotStarted,
	}
	e.summary = &models.RunSummary{
		ID:        d.RunID,
		Scenario:  d.Scenario.Info(),
		Port:      d.Config.Port,
		Baud:      d.Config.Baud,
		InitialIP: d.Config.IP,
		Git:       d.Git,
		Artifacts: d.Journal.Artifacts,
		States:    []models.StateTransition{},
	}
	return e
}

// SetClock replaces the time source and the pacing sleep, for tests.
func (e *Engine) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) {
	e.now = now
	e.sleep = sleep
}

// State returns the current state. Only meaningful from the orchestrator.
func (e *Engine) State() State {
	return e.state
}

// Run executes the scenario and always finalizes. The returned summary
// carries the exit code.
func (e *Engine) Run(ctx context.Context) *models.RunSummary {
	e.summary.StartedAt = e.now().UTC()
	fmt.Fprintf(e.log, "[harness] Run %s: %s (%s)\n", e.summary.ID, e.scenario.Title, e.scenario.Key)
	fmt.Fprintf(e.log, "[harness] Artifacts: %s\n", e.summary.Artifacts.Dir)

	code := e.execute(ctx)
	e.finalize(code)
	return e.summary
}

func (e *Engine) execute(ctx context.Context) (code int) {
	defer func() {
		if r := recover(); r != nil {
			e.summary.BodyError = fmt.Sprintf("panic during %s: %v", e.state, r)
			fmt.Fprintf(e.log, "[harness] ERROR: %s\n", e.summary.BodyError)
			code = 1
		}
	}()

	e.capture.Start()
	e.transition(StateSerialConnected)
	e.pause(ctx, config.PauseSerialConnected, "Serial connected.")

	e.bootDevice(ctx)
	e.pause(ctx, config.PauseAfterReboot, "Reboot phase complete.")

	e.awaitReadiness(ctx)
	e.pause(ctx, config.PauseAfterIP, "Device has an IP.")

	if ctx.Err() != nil {
		return e.interrupted()
	}

	if ip := e.currentIP(); ip != "" {
		e.client.SetHost(ip)
	}

	e.transition(StateRunningScenarioBody)
	code, err := e.scenario.body(ctx, e)
	if err != nil {
		e.summary.BodyError = err.Error()
		fmt.Fprintf(e.log, "[harness] ERROR: scenario %s failed: %v\n", e.scenario.Key, err)
		if code == 0 {
			code = 1
		}
	}
	if code == 0 && ctx.Err() != nil {
		return e.interrupted()
	}
	return code
}

// interrupted records an operator abort. The run still finalizes.
func (e *Engine) interrupted() int {
	e.summary.BodyError = "interrupted during " + string(e.state)
	fmt.Fprintf(e.log, "[harness] ERROR: %s\n", e.summary.BodyError)
	return 1
}

func (e *Engine) bootDevice(ctx context.Context) {
	if !e.cfg.Reboot || e.client.Host() == "" {
		e.transition(StateSkippedReboot)
		if e.client.Host() == "" {
			e.note("Reboot skipped: device IP unknown")
		}
		fmt.Fprintln(e.log, "[harness] Reboot not requested; press RESET on the device for a boot capture.")
		return
	}

	fmt.Fprintf(e.log, "[harness] Rebooting device via POST %s\n", e.client.URL("/api/reboot"))
	if err := e.client.Reboot(ctx); err != nil {
		// The device may reset before the request is fully written.
		fmt.Fprintf(e.log, "[harness] reboot request: %v\n", err)
	}
	e.transition(StateRebooted)

	if _, ok := e.capture.Waiter.WaitForAny(ctx, parser.BootMarkers, e.cfg.RebootMarkerTimeout(), "reboot marker"); ok {
		e.rebootSeen = true
		return
	}
	e.note("No reboot marker seen after reboot request")
	e.prompt(ctx, "No reboot marker seen. Press RESET on the device if it did not restart.")
}

func (e *Engine) awaitReadiness(ctx context.Context) {
	e.transition(StateAwaitingReadiness)
	w := e.capture.Waiter

	if !e.rebootSeen {
		w.WaitFor(ctx, parser.SystemBoot, e.cfg.Timeout, "System Boot")
	}
	if _, ok := w.WaitFor(ctx, parser.IPPattern, e.cfg.Timeout, "Got IP"); !ok {
		e.note("No IP line seen before timeout")
	}
	if _, ok := w.WaitFor(ctx, parser.ReadyPattern, e.cfg.ReadinessTimeout(), "[Main] Setup complete"); !ok {
		e.note("Setup complete marker not seen")
	}

	if ip := e.currentIP(); ip != "" {
		fmt.Fprintf(e.log, "[harness] Device IP: %s\n", ip)
	}
	e.transition(StateReady)
}

// finalize runs on every path out of execute.
func (e *Engine) finalize(code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(e.log, "[harness] ERROR: finalize panic: %v\n", r)
			if e.summary.ExitCode == 0 {
				e.summary.ExitCode = 1
			}
		}
	}()

	e.summary.ExitCode = code
	e.transition(StateFinalizing)
	if err := e.capture.Stop(); err != nil {
		fmt.Fprintf(e.log, "[harness] closing serial port: %v\n", err)
	}

	s := e.summary
	s.SerialLines, s.ClassifiedLines = e.capture.Decoder.Stats()
	s.EndedAt = e.now().UTC()
	s.FinalIP = e.currentIP()
	s.FirmwareVersion = e.capture.State.FirmwareVersion()
	s.Derived = metrics.Derive(s.Artifacts)
	e.transition(StateDone)

	if err := report.WriteSummary(s); err != nil {
		fmt.Fprintf(e.log, "[harness] writing summary: %v\n", err)
	}
	fmt.Fprintf(e.log, "[harness] Done (exit %d). Summary: %s\n", s.ExitCode, s.Artifacts.SummaryJSON)
}

func (e *Engine) transition(to State) {
	at := e.now().UTC()
	fmt.Fprintf(e.log, "[harness] state %s -> %s\n", e.state, to)
	e.state = to
	e.summary.States = append(e.summary.States, models.StateTransition{State: string(to), At: at})
	e.event(models.StateEvent{TS: at, Type: models.EventState, State: string(to)})
}

// currentIP prefers the last IP seen on serial over the configured one.
func (e *Engine) currentIP() string {
	if ip := e.capture.State.LastIP(); ip != "" {
		return ip
	}
	return e.cfg.IP
}

func (e *Engine) note(msg string) {
	fmt.Fprintf(e.log, "[harness] NOTE: %s\n", msg)
	e.event(models.NoteEvent{TS: e.now().UTC(), Type: models.EventNote, Message: msg})
}

func (e *Engine) event(v interface{}) {
	if err := e.journal.AppendEvent(v); err != nil {
		fmt.Fprintf(e.log, "[harness] journal write failed: %v\n", err)
	}
}

// pause suspends at a named checkpoint when it was requested.
func (e *Engine) pause(ctx context.Context, checkpoint, msg string) {
	if !e.cfg.PauseEnabled(checkpoint) {
		return
	}
	e.prompt(ctx, fmt.Sprintf("[pause:%s] %s", checkpoint, msg))
}

// prompt waits for the operator, or logs what it would have asked.
func (e *Engine) prompt(ctx context.Context, msg string) {
	if ctx.Err() != nil {
		fmt.Fprintf(e.log, "[harness] Skipped prompt (interrupted): %s\n", msg)
		return
	}
	if !e.cfg.Interactive || e.prompter == nil {
		fmt.Fprintf(e.log, "[harness] Would have prompted: %s\n", msg)
		return
	}
	done := make(chan error, 1)
	go func() { done <- e.prompter.Prompt(msg) }()
	select {
	case err := <-done:
		if err != nil {
			fmt.Fprintf(e.log, "[harness] prompt: %v\n", err)
		}
	case <-ctx.Done():
		fmt.Fprintf(e.log, "[harness] Prompt abandoned (interrupted): %s\n", msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
