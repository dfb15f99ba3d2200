package pkg

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// TaskStatus is the outcome class of one task on one host.
type TaskStatus string

const (
	StatusOK      TaskStatus = "ok"
	StatusChanged TaskStatus = "changed"
	StatusFailed  TaskStatus = "failed"
	StatusSkipped TaskStatus = "skipped"
)

// TaskOutcome records the result of one task invocation.
type TaskOutcome struct {
	Task     string
	Module   string
	Status   TaskStatus
	Handler  bool
	Duration time.Duration
	Output   string
	Err      error
}

// RunReport is the ordered sequence of per-task outcomes for one host. It
// is owned by the execution engine for the duration of the run and never
// mutated afterwards.
type RunReport struct {
	Host     string
	Outcomes []TaskOutcome
}

func (r *RunReport) record(outcome TaskOutcome) {
	r.Outcomes = append(r.Outcomes, outcome)
}

// Failed reports whether any outcome on this host failed.
func (r *RunReport) Failed() bool {
	for _, outcome := range r.Outcomes {
		if outcome.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Stats tallies outcomes by status.
func (r *RunReport) Stats() map[TaskStatus]int {
	stats := map[TaskStatus]int{}
	for _, outcome := range r.Outcomes {
		stats[outcome.Status]++
	}
	return stats
}

// RunResult maps host name to that host's report.
type RunResult map[string]*RunReport

// Failed reports whether any host's report contains a failed outcome.
func (rr RunResult) Failed() bool {
	for _, report := range rr {
		if report.Failed() {
			return true
		}
	}
	return false
}

// WriteRecap prints the play recap in the familiar plain format.
func (rr RunResult) WriteRecap(w io.Writer) {
	fmt.Fprintf(w, "\nPLAY RECAP *********************************************************\n")
	hosts := make([]string, 0, len(rr))
	for host := range rr {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		stats := rr[host].Stats()
		fmt.Fprintf(w, "%-24s : ok=%d    changed=%d    failed=%d    skipped=%d\n",
			host,
			stats[StatusOK]+stats[StatusChanged],
			stats[StatusChanged],
			stats[StatusFailed],
			stats[StatusSkipped],
		)
	}
}
