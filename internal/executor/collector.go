package executor

import (
	"fmt"
	"time"

	"github.com/CLIAIMONITOR/internal/bus"
	"github.com/CLIAIMONITOR/internal/fingerprint"
)

// runCollector is the per-task background loop (spec.md §4.6 "Collector
// loop"): bounded reads, timeout detection, exit detection, all on one
// goroutine per task so collector actions for a single task_id stay totally
// ordered, matching §5's ordering guarantee.
func (e *Executor) runCollector(t *Task) {
	const pollInterval = 100 * time.Millisecond

	for {
		t.mu.Lock()
		killRequested := t.killRequested
		t.mu.Unlock()
		if killRequested {
			return
		}

		data, err := t.child.Read(pollInterval)
		if len(data) > 0 {
			t.mu.Lock()
			t.outputBuf.Write(data)
			t.mu.Unlock()
		}

		if time.Since(t.StartedAt).Seconds() >= t.TimeoutS {
			t.child.Kill()
			<-t.child.Exited()
			e.finishTask(t, StatusTimeout, -1, nil, nil)
			return
		}

		select {
		case <-t.child.Exited():
			// The process has exited, but the pipe/PTY read side may still
			// hold buffered output (including the pipestatus marker) that
			// this iteration's single bounded Read hasn't drained yet. Keep
			// reading until the read side itself reports EOF before treating
			// the task as finished.
			e.drainToEOF(t)
			e.finishTask(t, StatusCompleted, t.child.ExitCode(), nil, nil)
			return
		default:
		}

		if err != nil && err != ErrReadTimeout {
			// Output side closed (EOF) or a read error; the child has either
			// exited or is about to. Wait for the authoritative exit status.
			<-t.child.Exited()
			e.finishTask(t, StatusCompleted, t.child.ExitCode(), nil, nil)
			return
		}
	}
}

// drainToEOF reads everything left in t.child's output after the process has
// already exited, so a tail sitting in the pipe/PTY buffer (including the
// pipestatus marker) isn't lost. Bounded so a child that somehow never
// closes its output (e.g. a lingering grandchild holding the write end)
// can't hang the collector forever.
func (e *Executor) drainToEOF(t *Task) {
	const maxIdleReads = 20
	idle := 0
	for idle < maxIdleReads {
		data, err := t.child.Read(10 * time.Millisecond)
		if len(data) > 0 {
			t.mu.Lock()
			t.outputBuf.Write(data)
			t.mu.Unlock()
			idle = 0
			continue
		}
		if err != nil && err != ErrReadTimeout {
			// True EOF (or a read error): nothing more will arrive.
			return
		}
		idle++
	}
}

// finishTask performs the single terminal transition for t: pipestatus
// extraction, NEVERHANG notification, A.L.A.N. recording, resource release.
// Guarded by finishOnce so a racing explicit Kill and collector-detected
// completion can't double-finish the task.
func (e *Executor) finishTask(t *Task, status Status, exitCode int, pipestatus []int, taskErr error) {
	t.finishOnce.Do(func() {
		t.mu.Lock()
		cleanOutput, extracted, found := stripPipestatusMarker(t.outputBuf.String())
		t.outputBuf.Reset()
		t.outputBuf.WriteString(cleanOutput)

		if found && status == StatusCompleted {
			pipestatus = extracted
			if len(pipestatus) > 0 {
				exitCode = pipestatus[len(pipestatus)-1]
			}
		}
		if len(pipestatus) == 0 {
			pipestatus = []int{exitCode}
		}

		t.Status = status
		t.Pipestatus = pipestatus
		t.ExitCode = exitCode
		t.Err = taskErr
		durationMS := time.Since(t.StartedAt).Milliseconds()
		cmd := t.Command
		t.mu.Unlock()

		fp := fingerprint.Fingerprint(cmd)
		switch status {
		case StatusTimeout:
			e.breaker.RecordTimeout(fp)
			e.notify.TaskTimeout(t.ID, previewCommand(cmd, 50))
			e.bus.Publish(bus.SubjectTaskTimeout, map[string]any{"task_id": t.ID, "command": cmd})
		case StatusCompleted:
			e.breaker.RecordSuccess()
			e.bus.Publish(bus.SubjectTaskCompleted, map[string]any{"task_id": t.ID, "exit_code": exitCode, "pipestatus": pipestatus})
		case StatusKilled:
			e.bus.Publish(bus.SubjectTaskKilled, map[string]any{"task_id": t.ID})
		case StatusError:
			e.bus.Publish(bus.SubjectTaskError, map[string]any{"task_id": t.ID, "error": fmt.Sprint(taskErr)})
		}

		errSnippet := ""
		if taskErr != nil {
			errSnippet = taskErr.Error()
		}
		// Recording is part of the observability path; a Store failure must
		// never surface as a command failure (spec.md §7 policy).
		_ = e.alan.Record(cmd, exitCode, durationMS, status == StatusTimeout, cleanOutput, errSnippet, pipestatus)

		t.child.Close()
		close(t.doneCh)
	})
}

func previewCommand(cmd string, n int) string {
	if len(cmd) <= n {
		return cmd
	}
	return cmd[:n]
}
