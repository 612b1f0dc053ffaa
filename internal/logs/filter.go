package logs

import (
	"encoding/json"
	"strings"

	"omzet/internal/logging"
)

// Filter selects log records by their structured fields. Empty fields match anything.
type Filter struct {
	JobID   string
	Library string
	Task    string
}

// Empty reports whether the filter matches every line.
func (f Filter) Empty() bool {
	return f.JobID == "" && f.Library == "" && f.Task == ""
}

// Match reports whether a JSON log line carries the requested fields. Lines
// that are not JSON objects only match an empty filter.
func (f Filter) Match(line string) bool {
	if f.Empty() {
		return true
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return false
	}
	return fieldMatches(record, logging.FieldJobID, f.JobID) &&
		fieldMatches(record, logging.FieldLibrary, f.Library) &&
		fieldMatches(record, logging.FieldTask, f.Task)
}

func fieldMatches(record map[string]any, key, want string) bool {
	if want == "" {
		return true
	}
	got, ok := record[key].(string)
	if !ok {
		return false
	}
	if key == logging.FieldJobID {
		// Job IDs are long; a prefix is enough to pick one out.
		return strings.HasPrefix(got, want)
	}
	return got == want
}
