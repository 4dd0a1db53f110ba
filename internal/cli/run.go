package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/esp32-tools/memharness/internal/config"
	"github.com/esp32-tools/memharness/internal/device"
	"github.com/esp32-tools/memharness/internal/health"
	"github.com/esp32-tools/memharness/internal/report"
	"github.com/esp32-tools/memharness/internal/scenario"
	"github.com/esp32-tools/memharness/internal/serial"
	"github.com/esp32-tools/memharness/internal/session"
	"github.com/esp32-tools/memharness/internal/storage"
)

// openTransport opens the serial console. Replaced in tests.
var openTransport = func(path string, baud int) (serial.Transport, error) {
	p, err := serial.Open(path, baud)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type runFlags struct {
	configPath     string
	port           string
	baud           int
	out            string
	noReboot       bool
	auth           string
	timeout        time.Duration
	pause          string
	nonInteractive bool
	noHealth       bool
	noPages        bool
	parallel       int
	healthCount    int
	echoSerial     bool
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run <scenario> [ip]",
	Short: "Run one scenario against the device",
	Long: `Run one scenario against the device.

The serial console is captured for the whole run. The device IP comes from
the optional argument, the config file, or the first "Got IP" line printed
on the console. Use "memharness scenarios" to list scenario names.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRun,
}

func init() {
	d := config.DefaultConfig()
	f := runCmd.Flags()
	f.StringVar(&runOpts.configPath, "config", "", "YAML config file")
	f.StringVar(&runOpts.port, "port", "auto", "Serial port path, or auto")
	f.IntVar(&runOpts.baud, "baud", d.Baud, "Serial baud rate")
	f.StringVar(&runOpts.out, "out", d.OutDir, "Artifacts root directory")
	f.BoolVar(&runOpts.noReboot, "no-reboot", false, "Do not request a reboot before the scenario")
	f.StringVar(&runOpts.auth, "auth", "", "Basic auth as user:pass")
	f.DurationVar(&runOpts.timeout, "timeout", d.Timeout, "Upper bound for boot and readiness waits")
	f.StringVar(&runOpts.pause, "pause", "", "Comma separated pause checkpoints (serial_connected, after_reboot, after_ip, after_get_<path>, all)")
	f.BoolVar(&runOpts.nonInteractive, "non-interactive", false, "Never prompt; log the prompts instead")
	f.BoolVar(&runOpts.noHealth, "no-health", false, "Skip /api/health probes")
	f.BoolVar(&runOpts.noPages, "no-pages", false, "Skip portal page GETs")
	f.IntVar(&runOpts.parallel, "browser-parallel", d.BrowserParallel, "Concurrent requests in the browser-like burst")
	f.IntVar(&runOpts.healthCount, "browser-health-count", d.BrowserHealthCount, "Extra /api/health calls per burst")
	f.BoolVar(&runOpts.echoSerial, "echo-serial", false, "Echo serial lines to stdout")
}

// resolveRunConfig layers changed flags and positional arguments over the
// config file and environment.
func resolveRunConfig(flags *pflag.FlagSet, opts runFlags, args []string) (config.HarnessConfig, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return cfg, err
	}

	cfg.Scenario = args[0]
	if len(args) > 1 {
		cfg.IP = strings.TrimSpace(args[1])
	}

	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("baud") {
		cfg.Baud = opts.baud
	}
	if flags.Changed("out") {
		cfg.OutDir = opts.out
	}
	if opts.noReboot {
		cfg.Reboot = false
	}
	if flags.Changed("auth") {
		cfg.Auth = opts.auth
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if flags.Changed("pause") {
		cfg.Pause = config.ParsePauses(opts.pause)
	}
	if opts.nonInteractive {
		cfg.Interactive = false
	}
	if opts.noHealth {
		cfg.Health = false
	}
	if opts.noPages {
		cfg.Pages = false
	}
	if flags.Changed("browser-parallel") {
		cfg.BrowserParallel = opts.parallel
	}
	if flags.Changed("browser-health-count") {
		cfg.BrowserHealthCount = opts.healthCount
	}
	if opts.echoSerial {
		cfg.EchoSerial = true
	}

	return cfg, cfg.Validate()
}

func runRun(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := resolveRunConfig(cmd.Flags(), runOpts, args)
	if err != nil {
		return withCode(ExitUsage, err)
	}

	sc, err := scenario.Lookup(cfg.Scenario)
	if err != nil {
		return withCode(ExitUsage, err)
	}

	if cfg.Port == "" || cfg.Port == "auto" {
		path, err := serial.AutoDetect()
		if err != nil {
			return withCode(ExitUsage, err)
		}
		cfg.Port = path
	}

	transport, err := openTransport(cfg.Port, cfg.Baud)
	if err != nil {
		return withCode(ExitUsage, fmt.Errorf("opening serial port: %w", err))
	}
	fmt.Fprintf(out, "[harness] Serial %s @ %d\n", cfg.Port, cfg.Baud)

	if cfg.Interactive && !scenario.StdinIsTerminal() {
		fmt.Fprintln(out, "[harness] stdin is not a terminal; running non-interactive")
		cfg.Interactive = false
	}

	journal, err := storage.CreateRun(cfg.OutDir, sc.Key, time.Now())
	if err != nil {
		transport.Close()
		return withCode(ExitUsage, err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			fmt.Fprintf(out, "[harness] closing journals: %v\n", err)
		}
	}()

	opts := session.CaptureOptions{Log: out}
	if cfg.EchoSerial {
		opts.Echo = out
	}
	capture := session.NewCapture(transport, journal, opts)

	client := device.NewClient(cfg.IP, cfg, Version)
	client.SetJournal(journal)
	client.SetLogOutput(out)

	sampler := health.NewSampler(client, journal, cfg.Sampler, cfg.Health)
	sampler.SetLogOutput(out)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := scenario.NewEngine(scenario.Deps{
		Config:   cfg,
		Scenario: sc,
		RunID:    uuid.NewString(),
		Journal:  journal,
		Capture:  capture,
		Client:   client,
		Sampler:  sampler,
		Prompter: scenario.NewLinePrompter(cmd.InOrStdin(), out),
		Git:      report.GitInfo(ctx, "."),
		Log:      out,
	})

	sum := engine.Run(ctx)
	if sum.ExitCode != ExitOK {
		return withCode(sum.ExitCode, bodyError(sum.BodyError))
	}
	return nil
}

func bodyError(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
