package parser

import (
	"time"

	"github.com/esp32-tools/memharness/internal/models"
)

// Registry holds the line matchers in classification precedence order.
type Registry struct {
	matchers []Matcher
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry returns the fixed precedence list:
// Mem > Tripwire > Task > StackWatermark > Network > Firmware > Ready > Panic.
// Lines matching none of them are classified raw.
func NewRegistry() *Registry {
	return &Registry{
		matchers: []Matcher{
			memMatcher{},
			tripwireMatcher{},
			taskMatcher{},
			watermarkMatcher{},
			networkMatcher{},
			firmwareMatcher{},
			readyMatcher{},
			panicMatcher{},
		},
	}
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Kinds lists the matcher kinds in precedence order.
func (r *Registry) Kinds() []models.RecordKind {
	kinds := make([]models.RecordKind, len(r.matchers))
	for i, m := range r.matchers {
		kinds[i] = m.Kind()
	}
	return kinds
}

// Classify returns a record from the first matcher that accepts line.
func (r *Registry) Classify(line string, ts time.Time) *models.Record {
	for _, m := range r.matchers {
		rec := &models.Record{Kind: m.Kind(), TS: ts, Line: line}
		if m.Match(line, rec) {
			return rec
		}
	}
	return &models.Record{Kind: models.KindRaw, TS: ts, Line: line}
}
