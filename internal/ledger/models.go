package ledger

import (
	"strings"
	"time"
)

// Status is the state of the latest job for a file.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
	StatusComplete Status = "complete"
)

// InterruptedReason is recorded for jobs that never reached a terminal state.
const InterruptedReason = "interrupted"

// ParseStatus normalizes a user supplied status name.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusRunning:
		return StatusRunning, true
	case StatusFailed:
		return StatusFailed, true
	case StatusComplete, "completed", "done":
		return StatusComplete, true
	}
	return "", false
}

// Key identifies a file within a library.
type Key struct {
	Library string
	Path    string
}

func (k Key) String() string {
	return k.Library + ":" + k.Path
}

// TaskOutcome classifies one task of one job.
type TaskOutcome string

const (
	TaskRan        TaskOutcome = "ran"
	TaskSkipped    TaskOutcome = "skipped"
	TaskFailed     TaskOutcome = "failed"
	TaskProbeError TaskOutcome = "probe_error"
)

// Advances reports whether the outcome moves the pipeline past the task.
func (o TaskOutcome) Advances() bool {
	return o == TaskRan || o == TaskSkipped
}

// TaskRecord is the persisted result of one task evaluation. ExitCode is -1
// when no script exit status applies.
type TaskRecord struct {
	JobID      string
	TaskID     string
	Index      int
	Outcome    TaskOutcome
	ExitCode   int
	Duration   time.Duration
	Message    string
	RecordedAt time.Time
}

// Entry is the ledger row for one file.
type Entry struct {
	Key
	Fingerprint   string
	Status        Status
	Workflow      string
	LastTaskIndex int
	JobID         string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Library  string
	Statuses []Status
	Limit    int
}

// Stats counts entries by status.
type Stats map[Status]int

// Total returns the number of entries.
func (s Stats) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}
