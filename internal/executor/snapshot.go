package executor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CLIAIMONITOR/internal/alan"
)

// Snapshot is the structured result returned by Execute and Poll (spec.md
// §6 "Task snapshot").
type Snapshot struct {
	TaskID         string
	Status         Status
	ElapsedSeconds float64
	Output         string
	Truncated      bool
	ExitCode       *int
	Pipestatus     []int
	Error          string
	StdinAvailable bool
	Warnings       []alan.Insight
}

// buildSnapshot computes the delta since the task's output_read_pos,
// advances it, and attaches pre-insights (only on the initial snapshot) and
// post-insights (once the task reaches a terminal status); an initial
// snapshot of an already-terminal task carries both.
func (e *Executor) buildSnapshot(t *Task, initial bool) Snapshot {
	t.mu.Lock()
	full := t.outputBuf.String()
	delta := full[t.outputReadPos:]
	t.outputReadPos = len(full)
	status := t.Status
	exitCode := t.ExitCode
	pipestatus := append([]int(nil), t.Pipestatus...)
	taskErr := t.Err
	elapsed := time.Since(t.StartedAt).Seconds()
	t.mu.Unlock()

	truncated := false
	if e.cfg.TruncateOutputAt > 0 && len(delta) > e.cfg.TruncateOutputAt {
		delta = delta[:e.cfg.TruncateOutputAt] + "\n...[truncated]"
		truncated = true
	}

	var warnings []alan.Insight
	if initial {
		warnings = append(warnings, t.preInsights...)
	}
	if status != StatusRunning {
		warnings = append(warnings, e.alan.GetPostInsights(t.Command, exitCode, pipestatus, full)...)
	}

	errStr := ""
	if taskErr != nil {
		errStr = taskErr.Error()
	}

	var exitPtr *int
	if status == StatusCompleted {
		ec := exitCode
		exitPtr = &ec
	}

	return Snapshot{
		TaskID:         t.ID,
		Status:         status,
		ElapsedSeconds: elapsed,
		Output:         delta,
		Truncated:      truncated,
		ExitCode:       exitPtr,
		Pipestatus:     pipestatus,
		Error:          errStr,
		StdinAvailable: status == StatusRunning,
		Warnings:       warnings,
	}
}

func formatPipestatus(pipestatus []int) string {
	parts := make([]string, len(pipestatus))
	for i, v := range pipestatus {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// displayStatus maps the internal Status to the text format's status word;
// COMPLETED becomes FAILED when the final pipestatus segment is non-zero
// (spec.md §6).
func (s Snapshot) displayStatus() string {
	if s.Status == StatusCompleted && len(s.Pipestatus) > 0 && s.Pipestatus[len(s.Pipestatus)-1] != 0 {
		return "FAILED"
	}
	return string(s.Status)
}

// FormatText renders the snapshot as the task snapshot text format
// (spec.md §6).
func (s Snapshot) FormatText() string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(s.Output, "\n"))

	if s.Error != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[error] " + s.Error)
	}

	extras := ""
	switch s.Status {
	case StatusCompleted:
		if s.ExitCode != nil {
			if len(s.Pipestatus) > 1 {
				extras = fmt.Sprintf(" exit=%d pipestatus=%s", *s.ExitCode, formatPipestatus(s.Pipestatus))
			} else {
				extras = fmt.Sprintf(" exit=%d", *s.ExitCode)
			}
		}
	case StatusRunning:
		stdin := "no"
		if s.StdinAvailable {
			stdin = "yes"
		}
		extras = fmt.Sprintf(" stdin=%s", stdin)
	}

	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("[%s task_id=%s elapsed=%.1fs%s]", s.displayStatus(), s.TaskID, s.ElapsedSeconds, extras))

	for _, ins := range s.Warnings {
		b.WriteString(fmt.Sprintf("\n[%s: A.L.A.N.: %s]", ins.Level, ins.Message))
	}

	return b.String()
}
