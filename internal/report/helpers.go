package report

import "time"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "None"
	}
	return t.UTC().Format(time.RFC3339)
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
