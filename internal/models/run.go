package models

import "time"

// RunArtifacts names the files of one run directory.
type RunArtifacts struct {
	Dir         string `json:"dir"`
	SerialLog   string `json:"serial_log"`
	Events      string `json:"events"`
	Mem         string `json:"mem"`
	Tasks       string `json:"tasks"`
	Health      string `json:"health"`
	SummaryJSON string `json:"summary_json"`
	SummaryMD   string `json:"summary_md"`
}

// ScenarioInfo describes the scenario a run executed.
type ScenarioInfo struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GitInfo captures the working tree the firmware was built from.
type GitInfo struct {
	Commit string `json:"commit,omitempty"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty"`
	Status string `json:"status_porcelain,omitempty"`
}

// StateTransition is one step of the scenario state machine.
type StateTransition struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// RunSummary is written to summary.json at the end of every run.
type RunSummary struct {
	ID              string            `json:"id"`
	Scenario        ScenarioInfo      `json:"scenario"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         time.Time         `json:"ended_at"`
	Port            string            `json:"port"`
	Baud            int               `json:"baud"`
	InitialIP       string            `json:"initial_ip,omitempty"`
	FinalIP         string            `json:"final_ip,omitempty"`
	FirmwareVersion string            `json:"firmware_version,omitempty"`
	Git             GitInfo           `json:"git"`
	Artifacts       RunArtifacts      `json:"artifacts"`
	Derived         *DerivedMetrics   `json:"derived,omitempty"`
	States          []StateTransition `json:"states"`
	ExitCode        int               `json:"exit_code"`
	BodyError       string            `json:"body_error,omitempty"`
	SerialLines     int               `json:"serial_lines"`
	ClassifiedLines int               `json:"classified_lines"`
}

// MemStats aggregates every mem snapshot of a run.
type MemStats struct {
	Samples int      `json:"samples"`
	HinMin  uint64   `json:"hin_min"`
	HmMin   uint64   `json:"hm_min"`
	PfMin   uint64   `json:"pf_min"`
	PmMin   uint64   `json:"pm_min"`
	FragMax int      `json:"frag_max"`
	Tags    []string `json:"tags"`
}

type TripwireFinding struct {
	Fired       bool           `json:"fired"`
	TS          *time.Time     `json:"ts,omitempty"`
	Tag         string         `json:"tag,omitempty"`
	Hin         uint64         `json:"hin,omitempty"`
	Threshold   uint64         `json:"threshold,omitempty"`
	WorstStacks []TaskSnapshot `json:"worst_stacks,omitempty"`
}

type PanicFinding struct {
	Detected bool   `json:"detected"`
	Kind     string `json:"kind,omitempty"`
	Line     string `json:"line,omitempty"`
	LineNo   int    `json:"line_no,omitempty"`
}

// DerivedMetrics is the post-run analysis of a run's journals.
// Mem is nil when mem.jsonl is missing or empty.
type DerivedMetrics struct {
	Mem      *MemStats       `json:"mem"`
	Tripwire TripwireFinding `json:"tripwire"`
	Panic    PanicFinding    `json:"panic"`
}

// TagDelta holds B-A deltas for one tag. Deltas are nil when the tag is
// missing from one of the runs.
type TagDelta struct {
	Tag  string `json:"tag"`
	InA  bool   `json:"in_a"`
	InB  bool   `json:"in_b"`
	Hin  *int64 `json:"hin_delta"`
	Hm   *int64 `json:"hm_delta"`
	Frag *int64 `json:"frag_delta"`
	Pf   *int64 `json:"pf_delta"`
}

// Comparison is the result of diffing the mem journals of two runs.
type Comparison struct {
	RunA        string     `json:"run_a"`
	RunB        string     `json:"run_b"`
	Tags        []TagDelta `json:"tags"`
	HinMinA     *uint64    `json:"hin_min_a"`
	HinMinB     *uint64    `json:"hin_min_b"`
	HinMinDelta *int64     `json:"hin_min_delta"`
}
