package models

import "time"

// HealthSample is the decoded body of the device's GET /api/health.
type HealthSample struct {
	HeapFree            int64 `json:"heap_free"`
	HeapMin             int64 `json:"heap_min"`
	HeapLargest         int64 `json:"heap_largest"`
	HeapInternalFree    int64 `json:"heap_internal_free"`
	HeapInternalMin     int64 `json:"heap_internal_min"`
	HeapInternalLargest int64 `json:"heap_internal_largest"`
	PsramFree           int64 `json:"psram_free"`
	PsramMin            int64 `json:"psram_min"`
	PsramLargest        int64 `json:"psram_largest"`
	HeapFragmentation   int   `json:"heap_fragmentation"`
	PsramFragmentation  int   `json:"psram_fragmentation"`

	Raw map[string]interface{} `json:"-"`
}

// HealthProbe is one entry in health.jsonl.
type HealthProbe struct {
	TS         time.Time              `json:"ts"`
	Type       string                 `json:"type"`
	Label      string                 `json:"label"`
	IP         string                 `json:"ip,omitempty"`
	URL        string                 `json:"url,omitempty"`
	Skipped    bool                   `json:"skipped,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	HTTPStatus int                    `json:"http_status,omitempty"`
	Headers    map[string]string      `json:"headers,omitempty"`
	Body       string                 `json:"body,omitempty"`
	JSON       map[string]interface{} `json:"json,omitempty"`
	ParseError string                 `json:"parse_error,omitempty"`
	Error      string                 `json:"error,omitempty"`
}
