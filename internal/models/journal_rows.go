package models

import "time"

// Journal rows share one flat JSON shape: {"ts":..., "type":..., ...payload}.

// EventHeader is decoded first when scanning a mixed journal.
type EventHeader struct {
	TS   time.Time  `json:"ts"`
	Type RecordKind `json:"type"`
}

type MemRow struct {
	TS   time.Time  `json:"ts"`
	Type RecordKind `json:"type"`
	MemSnapshot
}

type TaskRow struct {
	TS   time.Time  `json:"ts"`
	Type RecordKind `json:"type"`
	TaskSnapshot
}

type TripwireRow struct {
	TS   time.Time  `json:"ts"`
	Type RecordKind `json:"type"`
	TripwireEvent
}

type WatermarkRow struct {
	TS   time.Time  `json:"ts"`
	Type RecordKind `json:"type"`
	StackWatermark
}

type NetworkRow struct {
	TS   time.Time  `json:"ts"`
	Type RecordKind `json:"type"`
	NetworkEvent
}

type FirmwareRow struct {
	TS   time.Time  `json:"ts"`
	Type RecordKind `json:"type"`
	FirmwareEvent
}

type ReadyRow struct {
	TS   time.Time  `json:"ts"`
	Type RecordKind `json:"type"`
	ReadyMarker
}

type PanicRow struct {
	TS   time.Time  `json:"ts"`
	Type RecordKind `json:"type"`
	PanicMarker
	Line string `json:"line"`
}

// Row returns the journal row for a classified record, or nil for raw lines.
func (r *Record) Row() interface{} {
	switch r.Kind {
	case KindMem:
		return MemRow{TS: r.TS, Type: r.Kind, MemSnapshot: *r.Mem}
	case KindTripwire:
		return TripwireRow{TS: r.TS, Type: r.Kind, TripwireEvent: *r.Tripwire}
	case KindTask:
		return TaskRow{TS: r.TS, Type: r.Kind, TaskSnapshot: *r.Task}
	case KindStackWatermark:
		return WatermarkRow{TS: r.TS, Type: r.Kind, StackWatermark: *r.Watermark}
	case KindNetwork:
		return NetworkRow{TS: r.TS, Type: r.Kind, NetworkEvent: *r.Network}
	case KindFirmware:
		return FirmwareRow{TS: r.TS, Type: r.Kind, FirmwareEvent: *r.Firmware}
	case KindReady:
		return ReadyRow{TS: r.TS, Type: r.Kind, ReadyMarker: *r.Ready}
	case KindPanic:
		return PanicRow{TS: r.TS, Type: r.Kind, PanicMarker: *r.Panic, Line: r.Line}
	}
	return nil
}

// Orchestrator-side event kinds written to events.jsonl.
const (
	EventHTTP  RecordKind = "http"
	EventNote  RecordKind = "note"
	EventState RecordKind = "state"
)

// HTTPEvent records one scripted request against the device.
type HTTPEvent struct {
	TS              time.Time  `json:"ts"`
	Type            RecordKind `json:"type"`
	Method          string     `json:"method"`
	URL             string     `json:"url"`
	Mode            string     `json:"mode,omitempty"`
	Status          int        `json:"http_status,omitempty"`
	ContentLength   int        `json:"content_length,omitempty"`
	ContentType     string     `json:"content_type,omitempty"`
	ContentEncoding string     `json:"content_encoding,omitempty"`
	DurationMs      int64      `json:"duration_ms,omitempty"`
	Error           string     `json:"error,omitempty"`
}

type NoteEvent struct {
	TS      time.Time  `json:"ts"`
	Type    RecordKind `json:"type"`
	Message string     `json:"message"`
}

type StateEvent struct {
	TS    time.Time  `json:"ts"`
	Type  RecordKind `json:"type"`
	State string     `json:"state"`
}
