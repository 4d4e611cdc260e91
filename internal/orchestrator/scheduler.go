package orchestrator

import (
	"context"
	"sync"
	"time"
)

// Status is a snapshot of the scheduler state.
type Status struct {
	Running       bool       `json:"running"`
	Runs          int        `json:"runs"`
	Failures      int        `json:"failures"`
	SkippedTicks  int        `json:"skipped_ticks"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastDuration  string     `json:"last_duration,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// Status returns the current scheduler state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Run executes RunOnce immediately and then every interval until ctx is done.
// A tick that fires while the previous run is still in progress is skipped.
// Run failures are logged and recorded in Status; they do not stop the loop.
// Run waits for an in-flight run to finish before returning ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.tick(ctx)
		}()
	}

	start()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start()
		}
	}
}

// tick runs the pipeline unless a run is already in progress. Reports whether it ran.
func (o *Orchestrator) tick(ctx context.Context) bool {
	o.mu.Lock()
	if o.status.Running {
		o.status.SkippedTicks++
		o.mu.Unlock()
		o.logger.Printf("scheduler: previous run still in progress, tick skipped")
		return false
	}
	o.status.Running = true
	o.mu.Unlock()

	report, err := o.RunOnce(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	started := report.StartedAt
	o.status.Running = false
	o.status.Runs++
	o.status.LastRunAt = &started
	o.status.LastDuration = report.Duration.Round(time.Millisecond).String()
	if err != nil {
		o.status.Failures++
		o.status.LastError = err.Error()
		o.logger.Printf("scheduler: run failed: %v", err)
	} else {
		o.status.LastError = ""
		o.status.LastSuccessAt = &started
	}
	return true
}
