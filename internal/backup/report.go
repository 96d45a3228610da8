package backup

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Status is the result of one backup task
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is what a task reports back to the scheduler
type Outcome struct {
	Host     string
	Database string
	Status   Status
	Err      error
	Artifact *Artifact
	Duration time.Duration
}

// Unit names the work an outcome belongs to
func (o Outcome) Unit() string {
	return o.Host + "/" + o.Database
}

// Failure is one failed unit of work: a task, a host ping or an upload
type Failure struct {
	Unit string
	Err  error
}

// Report accumulates the results of one run. The scheduler's coordinating
// goroutine is the only writer while tasks are in flight.
type Report struct {
	mu        sync.Mutex
	RunID     string
	StartedAt time.Time
	Outcomes  []Outcome
	failures  []Failure
	errs      *multierror.Error
}

// NewReport starts an empty report
func NewReport(runID string) *Report {
	return &Report{
		RunID:     runID,
		StartedAt: time.Now(),
		errs:      &multierror.Error{ErrorFormat: formatErrors},
	}
}

// Record folds a task outcome into the report
func (r *Report) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Outcomes = append(r.Outcomes, o)
	if o.Status == StatusFailed {
		r.addFailure(o.Unit(), o.Err)
	}
}

// RecordFailure records a failure that is not tied to a task outcome
func (r *Report) RecordFailure(unit string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addFailure(unit, err)
}

func (r *Report) addFailure(unit string, err error) {
	if err == nil {
		err = fmt.Errorf("failed without detail")
	}
	r.failures = append(r.failures, Failure{Unit: unit, Err: err})
	r.errs = multierror.Append(r.errs, fmt.Errorf("%s: %w", unit, err))
}

// Failed reports whether any unit failed. Skipped tasks never count.
func (r *Report) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures) > 0
}

// Failures returns the catalog of failed units
func (r *Report) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Failure, len(r.failures))
	copy(out, r.failures)
	return out
}

// Err returns every recorded failure as one error, or nil
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs.ErrorOrNil()
}

// Counts returns the number of task outcomes per status
func (r *Report) Counts() map[Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := map[Status]int{StatusSuccess: 0, StatusSkipped: 0, StatusFailed: 0}
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// ArtifactBytes sums the size of the artifacts produced by successful tasks
func (r *Report) ArtifactBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, o := range r.Outcomes {
		if o.Status == StatusSuccess && o.Artifact != nil {
			total += o.Artifact.SizeBytes
		}
	}
	return total
}

func formatErrors(errs []error) string {
	lines := make([]string, 0, len(errs))
	for _, err := range errs {
		lines = append(lines, "  * "+err.Error())
	}
	return fmt.Sprintf("%d unit(s) failed:\n%s", len(errs), strings.Join(lines, "\n"))
}
