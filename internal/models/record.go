// Package models contains domain types for the memory test harness.
package models

import (
	"fmt"
	"time"
)

// RecordKind identifies which grammar classified a serial line.
type RecordKind string

const (
	KindMem            RecordKind = "mem"
	KindTripwire       RecordKind = "tripwire"
	KindTask           RecordKind = "task"
	KindStackWatermark RecordKind = "stack_watermark"
	KindNetwork        RecordKind = "network"
	KindFirmware       RecordKind = "firmware"
	KindReady          RecordKind = "ready"
	KindPanic          RecordKind = "panic"
	KindRaw            RecordKind = "raw"
)

// Record is one decoded serial line. Exactly one payload pointer is set
// unless Kind is KindRaw, in which case only Line is meaningful.
type Record struct {
	Kind RecordKind
	TS   time.Time
	Line string

	Mem       *MemSnapshot
	Tripwire  *TripwireEvent
	Task      *TaskSnapshot
	Watermark *StackWatermark
	Network   *NetworkEvent
	Firmware  *FirmwareEvent
	Ready     *ReadyMarker
	Panic     *PanicMarker
}

// Classified reports whether the line matched a structured grammar.
func (r *Record) Classified() bool {
	return r.Kind != KindRaw
}

// MemSnapshot is a "[Mem] <tag> hf=.. hm=.. ..." line from the device.
type MemSnapshot struct {
	Tag  string `json:"tag"`
	HF   uint64 `json:"hf"`   // heap free
	HM   uint64 `json:"hm"`   // heap min ever
	HL   uint64 `json:"hl"`   // heap largest free block
	HI   uint64 `json:"hi"`   // internal heap free
	HIN  uint64 `json:"hin"`  // internal heap min ever
	Frag int    `json:"frag"` // fragmentation percent, 0-100
	PF   uint64 `json:"pf"`   // psram free
	PM   uint64 `json:"pm"`   // psram min ever
	PL   uint64 `json:"pl"`   // psram largest free block
}

// Line renders the snapshot in the device's wire grammar.
func (m MemSnapshot) Line() string {
	return fmt.Sprintf("[Mem] %s hf=%d hm=%d hl=%d hi=%d hin=%d frag=%d pf=%d pm=%d pl=%d",
		m.Tag, m.HF, m.HM, m.HL, m.HI, m.HIN, m.Frag, m.PF, m.PM, m.PL)
}

// TaskSnapshot is a "[Task] name=.. prio=.. core=.. stack_rem=..B" line.
type TaskSnapshot struct {
	Name     string `json:"name"`
	Prio     int    `json:"prio"`
	Core     int    `json:"core"` // -1 when unpinned
	StackRem uint64 `json:"stack_rem"`
}

// TripwireEvent fires when internal heap free drops below Threshold.
type TripwireEvent struct {
	Tag       string `json:"tag"`
	HIN       uint64 `json:"hin"`
	Threshold uint64 `json:"threshold"`
}

// StackWatermark reports the remaining stack of a networking task.
type StackWatermark struct {
	Subsystem string `json:"subsystem"`
	Task      string `json:"task"`
	RemUnits  uint64 `json:"rem_units"`
	RemBytes  uint64 `json:"rem_bytes"`
	UnitBytes uint64 `json:"unit_bytes"`
	CfgBytes  uint64 `json:"cfg_bytes"`
}

type NetworkEvent struct {
	IP string `json:"ip"`
}

type FirmwareEvent struct {
	Version string `json:"version"`
}

type ReadyMarker struct {
	Marker string `json:"marker"`
}

// PanicMarker records the first crash-marker category a line matched.
type PanicMarker struct {
	Kind string `json:"kind"`
}
