// Package health decides when the device's memory has settled by polling
// its /api/health endpoint.
package health

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/esp32-tools/memharness/internal/config"
	"github.com/esp32-tools/memharness/internal/device"
	"github.com/esp32-tools/memharness/internal/models"
)

// Prober fetches one health sample.
type Prober interface {
	Health(ctx context.Context) (*models.HealthSample, *device.Response, error)
	Host() string
	URL(path string) string
}

// Journal records every probe, including skipped ones.
type Journal interface {
	AppendHealth(p models.HealthProbe) error
}

// Sampler takes stability-gated health snapshots.
type Sampler struct {
	prober  Prober
	journal Journal
	cfg     config.SamplerConfig
	enabled bool
	log     io.Writer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewSampler creates a sampler. When enabled is false every call journals a
// skipped probe and returns no reading.
func NewSampler(prober Prober, journal Journal, cfg config.SamplerConfig, enabled bool) *Sampler {
	return &Sampler{
		prober:  prober,
		journal: journal,
		cfg:     cfg,
		enabled: enabled,
		log:     os.Stdout,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetLogOutput redirects sampler diagnostics.
func (s *Sampler) SetLogOutput(w io.Writer) {
	s.log = w
}

// SetClock replaces the time source and the settle sleep, for tests.
func (s *Sampler) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) {
	s.now = now
	s.sleep = sleep
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Sample probes A, waits the settle interval, probes B, and accepts B when
// both internal-heap-free and PSRAM-free moved by no more than their
// tolerances. Otherwise B becomes the new baseline. Once the max-wait budget
// is spent the last sample is returned with stable=false. A failed probe
// yields (nil, false).
func (s *Sampler) Sample(ctx context.Context, label string) (sample *models.HealthSample, stable bool) {
	if !s.enabled {
		s.skip(label, "health probes disabled")
		return nil, false
	}
	if s.prober.Host() == "" {
		s.skip(label, "device ip unknown")
		return nil, false
	}

	deadline := s.now().Add(s.cfg.MaxWait)
	a := s.probe(ctx, label+"_a")
	if a == nil {
		return nil, false
	}

	for round := 1; ; round++ {
		s.sleep(ctx, s.cfg.Settle)
		b := s.probe(ctx, label+"_b")
		if b == nil {
			return nil, false
		}

		dInternal := abs(b.HeapInternalFree - a.HeapInternalFree)
		dPsram := abs(b.PsramFree - a.PsramFree)
		if dInternal <= s.cfg.TolInternal && dPsram <= s.cfg.TolPsram {
			fmt.Fprintf(s.log, "[health] %s stable after %d round(s): internal_free=%d psram_free=%d\n",
				label, round, b.HeapInternalFree, b.PsramFree)
			return b, true
		}
		if !s.now().Before(deadline) || ctx.Err() != nil {
			fmt.Fprintf(s.log, "[health] %s not stable within %s (last delta internal=%d psram=%d), using last sample\n",
				label, s.cfg.MaxWait, dInternal, dPsram)
			return b, false
		}
		a = b
	}
}

func (s *Sampler) probe(ctx context.Context, label string) *models.HealthSample {
	rec := models.HealthProbe{
		TS:    s.now().UTC(),
		Type:  "health",
		Label: label,
		IP:    s.prober.Host(),
		URL:   s.prober.URL("/api/health"),
	}

	sample, resp, err := s.prober.Health(ctx)
	if resp != nil {
		rec.HTTPStatus = resp.Status
		rec.Body = string(resp.Body)
		rec.Headers = flattenHeaders(resp)
	}
	switch {
	case err != nil && resp == nil:
		rec.Error = err.Error()
		fmt.Fprintf(s.log, "[health] %s probe failed: %v\n", label, err)
	case err != nil:
		rec.ParseError = err.Error()
	case sample != nil:
		rec.JSON = sample.Raw
	}
	if sample == nil && err == nil {
		fmt.Fprintf(s.log, "[health] %s probe returned HTTP %d\n", label, rec.HTTPStatus)
	}

	s.record(rec)
	return sample
}

func (s *Sampler) skip(label, reason string) {
	fmt.Fprintf(s.log, "[health] %s skipped: %s\n", label, reason)
	s.record(models.HealthProbe{
		TS:      s.now().UTC(),
		Type:    "health",
		Label:   label,
		IP:      s.prober.Host(),
		Skipped: true,
		Reason:  reason,
	})
}

func (s *Sampler) record(p models.HealthProbe) {
	if s.journal == nil {
		return
	}
	if err := s.journal.AppendHealth(p); err != nil {
		fmt.Fprintf(s.log, "[health] journal write failed: %v\n", err)
	}
}

func flattenHeaders(resp *device.Response) map[string]string {
	if len(resp.Header) == 0 {
		return nil
	}
	out := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
