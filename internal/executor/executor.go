// Package executor implements the live-task execution supervisor (spec.md
// §4.6): PIPE-mode and PTY-mode spawning, a background output collector
// shared by both modes, and the poll/send/kill/list_tasks operations. It
// consults A.L.A.N. for pre-execution insights and NEVERHANG for the
// submission gate, and records the terminal observation back to A.L.A.N.
package executor

import (
	"strings"
	"sync"
	"time"

	"github.com/CLIAIMONITOR/internal/alan"
	"github.com/CLIAIMONITOR/internal/apierr"
	"github.com/CLIAIMONITOR/internal/bus"
	"github.com/CLIAIMONITOR/internal/neverhang"
	"github.com/CLIAIMONITOR/internal/notify"
	"github.com/google/uuid"
)

// Mode is the spawn strategy for a task.
type Mode string

const (
	ModePipe Mode = "PIPE"
	ModePTY  Mode = "PTY"
)

// Status is a task's lifecycle state (spec.md §3).
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusTimeout   Status = "TIMEOUT"
	StatusKilled    Status = "KILLED"
	StatusError     Status = "ERROR"
)

// Config bundles the subset of service configuration the executor needs.
type Config struct {
	TimeoutDefault   time.Duration
	TimeoutMax       time.Duration
	YieldAfterDefault time.Duration
	TruncateOutputAt int
}

// Task is one live (or just-terminated, pending its final snapshot) command
// execution (spec.md §3 "Live task").
type Task struct {
	ID        string
	Command   string
	Mode      Mode
	StartedAt time.Time
	TimeoutS  float64

	child child

	mu            sync.Mutex
	outputBuf     strings.Builder
	outputReadPos int
	Status        Status
	Pipestatus    []int
	ExitCode      int
	Err           error
	killRequested bool

	preInsights []alan.Insight
	finishOnce  sync.Once
	doneCh      chan struct{}
}

// Executor owns the live-task registry and wires A.L.A.N., NEVERHANG, the
// Bus, and the desktop notifier into the spawn/collect control flow.
type Executor struct {
	alan    *alan.Alan
	breaker *neverhang.Breaker
	bus     *bus.Bus
	notify  *notify.Notifier
	cfg     Config

	mu    sync.Mutex
	tasks map[string]*Task
}

// New constructs an Executor.
func New(a *alan.Alan, breaker *neverhang.Breaker, b *bus.Bus, n *notify.Notifier, cfg Config) *Executor {
	return &Executor{
		alan:    a,
		breaker: breaker,
		bus:     b,
		notify:  n,
		cfg:     cfg,
		tasks:   make(map[string]*Task),
	}
}

func newTaskID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

func (e *Executor) register(t *Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks[t.ID] = t
}

func (e *Executor) lookup(taskID string) *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks[taskID]
}

func (e *Executor) remove(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tasks, taskID)
}

func clampTimeout(requested, def, max time.Duration) time.Duration {
	t := requested
	if t <= 0 {
		t = def
	}
	if t > max {
		t = max
	}
	return t
}

// Execute implements both execute_zsh_yielding (PIPE) and execute_zsh_pty
// (PTY) per spec.md §4.6's common control flow: clamp timeout, gather
// A.L.A.N. pre-insights, consult NEVERHANG, spawn, yield, snapshot.
func (e *Executor) Execute(command string, timeout time.Duration, yieldAfter time.Duration, pty bool) (Snapshot, error) {
	if strings.TrimSpace(command) == "" {
		return Snapshot{}, apierr.New(apierr.KindValidation, "command must not be empty")
	}

	effectiveTimeout := clampTimeout(timeout, e.cfg.TimeoutDefault, e.cfg.TimeoutMax)
	if yieldAfter <= 0 {
		yieldAfter = e.cfg.YieldAfterDefault
	}

	preInsights, _ := e.alan.GetInsights(command, effectiveTimeout.Seconds())

	if allowed, msg := e.breaker.ShouldAllow(); !allowed {
		return Snapshot{}, apierr.New(apierr.KindCircuitOpen, msg)
	}

	wrapped := wrapWithPipestatusMarker(command)
	mode := ModePipe
	var c child
	var err error
	if pty {
		mode = ModePTY
		c, err = newPTYChild(wrapped)
	} else {
		c, err = newPipeChild(wrapped)
	}
	if err != nil {
		return Snapshot{}, apierr.Wrap(apierr.KindSpawnFailure, "spawn child", err)
	}

	t := &Task{
		ID:          newTaskID(),
		Command:     command,
		Mode:        mode,
		StartedAt:   time.Now(),
		TimeoutS:    effectiveTimeout.Seconds(),
		child:       c,
		Status:      StatusRunning,
		preInsights: preInsights,
		doneCh:      make(chan struct{}),
	}
	e.register(t)
	go e.runCollector(t)

	e.bus.Publish(bus.SubjectTaskStarted, map[string]any{
		"task_id": t.ID,
		"command": previewCommand(command, 50),
		"mode":    string(mode),
	})

	time.Sleep(yieldAfter)
	return e.buildSnapshot(t, true), nil
}

// Poll returns the current snapshot for taskID, consuming the delta. On a
// terminal snapshot the task is removed from the registry (spec.md §4.6
// "Snapshot (poll)").
func (e *Executor) Poll(taskID string) (Snapshot, error) {
	t := e.lookup(taskID)
	if t == nil {
		return Snapshot{}, apierr.New(apierr.KindUnknownTask, taskID)
	}
	snap := e.buildSnapshot(t, false)
	if snap.Status != StatusRunning {
		e.remove(taskID)
	}
	return snap, nil
}

// Send writes text to task_id's stdin (PIPE) or master PTY fd (PTY),
// appending a trailing newline if missing.
func (e *Executor) Send(taskID, text string) error {
	t := e.lookup(taskID)
	if t == nil {
		return apierr.New(apierr.KindUnknownTask, taskID)
	}
	t.mu.Lock()
	status := t.Status
	t.mu.Unlock()
	if status != StatusRunning {
		return apierr.New(apierr.KindNotRunning, taskID)
	}

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := t.child.Write([]byte(text)); err != nil {
		return apierr.Wrap(apierr.KindIOFailure, "write to task", err)
	}
	return nil
}

// Kill sends a forceful kill to task_id and reaps it: bounded to 2s for
// PIPE mode, non-blocking for PTY mode (spec.md §4.6 "kill").
func (e *Executor) Kill(taskID string) error {
	t := e.lookup(taskID)
	if t == nil {
		return apierr.New(apierr.KindUnknownTask, taskID)
	}
	t.mu.Lock()
	if t.Status != StatusRunning {
		t.mu.Unlock()
		return apierr.New(apierr.KindNotRunning, taskID)
	}
	t.killRequested = true
	t.mu.Unlock()

	if err := t.child.Kill(); err != nil {
		return apierr.Wrap(apierr.KindIOFailure, "kill task", err)
	}

	go func() {
		if t.Mode == ModePipe {
			select {
			case <-t.child.Exited():
			case <-time.After(2 * time.Second):
			}
		} else {
			select {
			case <-t.child.Exited():
			default:
			}
		}
		e.finishTask(t, StatusKilled, t.child.ExitCode(), nil, nil)
	}()
	return nil
}

// TaskSummary is one row of ListTasks's output.
type TaskSummary struct {
	TaskID         string
	CommandPreview string
	Status         Status
	ElapsedSeconds float64
	OutputBytes    int
}

// ListTasks returns a summary of every live task (spec.md §4.6 "list_tasks").
func (e *Executor) ListTasks() []TaskSummary {
	e.mu.Lock()
	tasks := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	e.mu.Unlock()

	summaries := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		summaries = append(summaries, TaskSummary{
			TaskID:         t.ID,
			CommandPreview: previewCommand(t.Command, 50),
			Status:         t.Status,
			ElapsedSeconds: time.Since(t.StartedAt).Seconds(),
			OutputBytes:    t.outputBuf.Len(),
		})
		t.mu.Unlock()
	}
	return summaries
}
