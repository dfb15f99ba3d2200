package pkg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunReportStats(t *testing.T) {
	report := &RunReport{Host: "web1"}
	report.record(TaskOutcome{Task: "a", Status: StatusOK})
	report.record(TaskOutcome{Task: "b", Status: StatusChanged})
	report.record(TaskOutcome{Task: "c", Status: StatusFailed})
	report.record(TaskOutcome{Task: "d", Status: StatusSkipped})

	stats := report.Stats()
	assert.Equal(t, 1, stats[StatusOK])
	assert.Equal(t, 1, stats[StatusChanged])
	assert.Equal(t, 1, stats[StatusFailed])
	assert.Equal(t, 1, stats[StatusSkipped])
	assert.True(t, report.Failed())
}

func TestRunResultFailed(t *testing.T) {
	clean := &RunReport{Host: "a"}
	clean.record(TaskOutcome{Status: StatusOK})
	broken := &RunReport{Host: "b"}
	broken.record(TaskOutcome{Status: StatusFailed})

	assert.False(t, RunResult{"a": clean}.Failed())
	assert.True(t, RunResult{"a": clean, "b": broken}.Failed())
}

func TestWriteRecapCountsChangedAsOK(t *testing.T) {
	report := &RunReport{Host: "web1"}
	report.record(TaskOutcome{Status: StatusOK})
	report.record(TaskOutcome{Status: StatusChanged})

	var buf bytes.Buffer
	RunResult{"web1": report}.WriteRecap(&buf)

	assert.Contains(t, buf.String(), "PLAY RECAP")
	assert.Contains(t, buf.String(), "ok=2")
	assert.Contains(t, buf.String(), "changed=1")
	assert.Contains(t, buf.String(), "failed=0")
}
