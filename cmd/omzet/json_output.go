package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"omzet/internal/engine"
	"omzet/internal/ledger"
	"omzet/internal/pipeline"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type taskView struct {
	TaskID     string `json:"task"`
	Index      int    `json:"index"`
	Outcome    string `json:"outcome"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Message    string `json:"message,omitempty"`
}

type resultView struct {
	JobID      string     `json:"job_id,omitempty"`
	Library    string     `json:"library"`
	Path       string     `json:"path"`
	Outcome    string     `json:"outcome"`
	FailedTask string     `json:"failed_task,omitempty"`
	ExitCode   int        `json:"exit_code"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	Tasks      []taskView `json:"tasks,omitempty"`
}

type reportView struct {
	CorrelationID   string       `json:"correlation_id"`
	Completed       int          `json:"completed"`
	Skipped         int          `json:"skipped"`
	Failed          int          `json:"failed"`
	Interrupted     int          `json:"interrupted"`
	AlreadyComplete int          `json:"already_complete"`
	Busy            int          `json:"busy"`
	ScanErrors      int          `json:"scan_errors"`
	DurationMS      int64        `json:"duration_ms"`
	Results         []resultView `json:"results"`
}

type entryView struct {
	Library       string     `json:"library"`
	Path          string     `json:"path"`
	Status        string     `json:"status"`
	Workflow      string     `json:"workflow,omitempty"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
	LastTaskIndex int        `json:"last_task_index"`
	JobID         string     `json:"job_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Tasks         []taskView `json:"tasks,omitempty"`
}

func newTaskViews(records []ledger.TaskRecord) []taskView {
	out := make([]taskView, 0, len(records))
	for _, rec := range records {
		out = append(out, taskView{
			TaskID:     rec.TaskID,
			Index:      rec.Index,
			Outcome:    string(rec.Outcome),
			ExitCode:   rec.ExitCode,
			DurationMS: rec.Duration.Milliseconds(),
			Message:    rec.Message,
		})
	}
	return out
}

func newResultView(res pipeline.Result) resultView {
	view := resultView{
		JobID:      res.JobID,
		Library:    res.Library,
		Path:       res.Path,
		Outcome:    string(res.Outcome),
		FailedTask: res.FailedTask,
		ExitCode:   res.ExitCode,
		DurationMS: res.Duration.Milliseconds(),
		Tasks:      newTaskViews(res.Tasks),
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	return view
}

func newReportView(report engine.Report) reportView {
	view := reportView{
		CorrelationID:   report.CorrelationID,
		Completed:       report.Completed,
		Skipped:         report.Skipped,
		Failed:          report.Failed,
		Interrupted:     report.Interrupted,
		AlreadyComplete: report.AlreadyComplete,
		Busy:            report.Busy,
		ScanErrors:      report.ScanErrors,
		DurationMS:      report.Duration.Milliseconds(),
		Results:         make([]resultView, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		view.Results = append(view.Results, newResultView(res))
	}
	return view
}

func newEntryView(entry ledger.Entry, tasks []ledger.TaskRecord) entryView {
	view := entryView{
		Library:       entry.Library,
		Path:          entry.Path,
		Status:        string(entry.Status),
		Workflow:      entry.Workflow,
		Fingerprint:   entry.Fingerprint,
		LastTaskIndex: entry.LastTaskIndex,
		JobID:         entry.JobID,
		Error:         entry.Error,
		UpdatedAt:     entry.UpdatedAt,
		Tasks:         newTaskViews(tasks),
	}
	if !entry.CompletedAt.IsZero() {
		completed := entry.CompletedAt
		view.CompletedAt = &completed
	}
	return view
}
