package engine

import (
	"sync"
	"time"

	"omzet/internal/pipeline"
)

// Report summarizes one engine run.
type Report struct {
	CorrelationID   string
	Results         []pipeline.Result
	Completed       int
	Skipped         int
	Failed          int
	Interrupted     int
	AlreadyComplete int
	Busy            int
	ScanErrors      int
	Duration        time.Duration
}

// Processed counts files a pipeline actually ran on.
func (r Report) Processed() int {
	return r.Completed + r.Skipped + r.Failed + r.Interrupted
}

// HasFailures reports whether any file failed or the scan hit errors.
func (r Report) HasFailures() bool {
	return r.Failed > 0 || r.ScanErrors > 0
}

type collector struct {
	mu     sync.Mutex
	report Report
}

func (c *collector) add(res pipeline.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Results = append(c.report.Results, res)
	switch res.Outcome {
	case pipeline.OutcomeCompleted:
		c.report.Completed++
	case pipeline.OutcomeSkippedEntirely:
		c.report.Skipped++
	case pipeline.OutcomeFailed, pipeline.OutcomeProbeFailed:
		c.report.Failed++
	case pipeline.OutcomeInterrupted:
		c.report.Interrupted++
	case pipeline.OutcomeAlreadyComplete:
		c.report.AlreadyComplete++
	case pipeline.OutcomeBusy:
		c.report.Busy++
	}
}

func (c *collector) scanError() {
	c.mu.Lock()
	c.report.ScanErrors++
	c.mu.Unlock()
}

func (c *collector) snapshot() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.report
	out.Results = append([]pipeline.Result(nil), c.report.Results...)
	return out
}
