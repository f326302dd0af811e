package tools

import (
	"encoding/json"
	"time"

	"github.com/CLIAIMONITOR/internal/alan"
	"github.com/CLIAIMONITOR/internal/apierr"
	"github.com/CLIAIMONITOR/internal/executor"
	"github.com/CLIAIMONITOR/internal/neverhang"
	"github.com/CLIAIMONITOR/internal/store"
)

// Service wires the executor, A.L.A.N., and NEVERHANG into the ten tools
// named in spec.md §6.
type Service struct {
	Executor *executor.Executor
	Alan     *alan.Alan
	Breaker  *neverhang.Breaker
}

// BuildRegistry registers every tool this service exposes.
func (s *Service) BuildRegistry() *Registry {
	r := NewRegistry()

	r.Register(ToolDefinition{
		Name:        "zsh",
		Description: "Run a shell command under a supervised zsh, returning a task snapshot once it yields or completes.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":     map[string]any{"type": "string"},
				"timeout":     map[string]any{"type": "integer"},
				"yield_after": map[string]any{"type": "number"},
				"description": map[string]any{"type": "string"},
				"pty":         map[string]any{"type": "boolean"},
			},
			"required": []string{"command"},
		},
	}, s.handleZsh)

	r.Register(ToolDefinition{
		Name:        "zsh_poll",
		Description: "Poll a live task for output and status since the last poll.",
		InputSchema: objectSchema("task_id"),
	}, s.handleZshPoll)

	r.Register(ToolDefinition{
		Name:        "zsh_send",
		Description: "Send a line of input to a running task's stdin.",
		InputSchema: objectSchema("task_id", "input"),
	}, s.handleZshSend)

	r.Register(ToolDefinition{
		Name:        "zsh_kill",
		Description: "Forcefully terminate a running task.",
		InputSchema: objectSchema("task_id"),
	}, s.handleZshKill)

	r.Register(ToolDefinition{
		Name:        "zsh_tasks",
		Description: "List every live task.",
		InputSchema: objectSchema(),
	}, s.handleZshTasks)

	r.Register(ToolDefinition{
		Name:        "zsh_health",
		Description: "Report overall service health: NEVERHANG state, A.L.A.N. session summary, active task count.",
		InputSchema: objectSchema(),
	}, s.handleZshHealth)

	r.Register(ToolDefinition{
		Name:        "zsh_alan_stats",
		Description: "Report A.L.A.N.'s session-lifetime observation counts.",
		InputSchema: objectSchema(),
	}, s.handleZshAlanStats)

	r.Register(ToolDefinition{
		Name:        "zsh_alan_query",
		Description: "Query A.L.A.N.'s pattern statistics for a specific command.",
		InputSchema: objectSchema("command"),
	}, s.handleZshAlanQuery)

	r.Register(ToolDefinition{
		Name:        "zsh_neverhang_status",
		Description: "Report the NEVERHANG circuit breaker's current state.",
		InputSchema: objectSchema(),
	}, s.handleZshNeverhangStatus)

	r.Register(ToolDefinition{
		Name:        "zsh_neverhang_reset",
		Description: "Explicitly reset the NEVERHANG circuit breaker to CLOSED.",
		InputSchema: objectSchema(),
	}, s.handleZshNeverhangReset)

	return r
}

func objectSchema(required ...string) map[string]any {
	props := map[string]any{}
	for _, name := range required {
		props[name] = map[string]any{"type": "string"}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type zshArgs struct {
	Command     string   `json:"command"`
	Timeout     *int     `json:"timeout"`
	YieldAfter  *float64 `json:"yield_after"`
	Description string   `json:"description"`
	PTY         bool     `json:"pty"`
}

func (s *Service) handleZsh(raw json.RawMessage) (string, error) {
	var args zshArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", apierr.Wrap(apierr.KindValidation, "parse arguments", err)
	}
	if args.Command == "" {
		return "", apierr.New(apierr.KindValidation, "command is required")
	}

	var timeout time.Duration
	if args.Timeout != nil {
		timeout = time.Duration(*args.Timeout) * time.Second
	}
	var yieldAfter time.Duration
	if args.YieldAfter != nil {
		yieldAfter = time.Duration(*args.YieldAfter * float64(time.Second))
	}

	snap, err := s.Executor.Execute(args.Command, timeout, yieldAfter, args.PTY)
	if err != nil {
		return "", err
	}
	return snap.FormatText(), nil
}

type taskIDArgs struct {
	TaskID string `json:"task_id"`
}

func (s *Service) handleZshPoll(raw json.RawMessage) (string, error) {
	var args taskIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", apierr.Wrap(apierr.KindValidation, "parse arguments", err)
	}
	snap, err := s.Executor.Poll(args.TaskID)
	if err != nil {
		return "", err
	}
	return snap.FormatText(), nil
}

type sendArgs struct {
	TaskID string `json:"task_id"`
	Input  string `json:"input"`
}

type resultJSON struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func marshalResult(r resultJSON) string {
	data, _ := json.Marshal(r)
	return string(data)
}

func (s *Service) handleZshSend(raw json.RawMessage) (string, error) {
	var args sendArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", apierr.Wrap(apierr.KindValidation, "parse arguments", err)
	}
	if err := s.Executor.Send(args.TaskID, args.Input); err != nil {
		return marshalResult(resultJSON{Success: false, Error: err.Error()}), nil
	}
	return marshalResult(resultJSON{Success: true, Message: "input sent"}), nil
}

func (s *Service) handleZshKill(raw json.RawMessage) (string, error) {
	var args taskIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", apierr.Wrap(apierr.KindValidation, "parse arguments", err)
	}
	if err := s.Executor.Kill(args.TaskID); err != nil {
		return marshalResult(resultJSON{Success: false, Error: err.Error()}), nil
	}
	return marshalResult(resultJSON{Success: true, Message: "kill signal sent"}), nil
}

func (s *Service) handleZshTasks(json.RawMessage) (string, error) {
	summaries := s.Executor.ListTasks()
	type taskJSON struct {
		TaskID         string  `json:"task_id"`
		Command        string  `json:"command"`
		Status         string  `json:"status"`
		ElapsedSeconds float64 `json:"elapsed_seconds"`
		OutputBytes    int     `json:"output_bytes"`
	}
	tasks := make([]taskJSON, 0, len(summaries))
	for _, t := range summaries {
		tasks = append(tasks, taskJSON{
			TaskID:         t.TaskID,
			Command:        t.CommandPreview,
			Status:         string(t.Status),
			ElapsedSeconds: t.ElapsedSeconds,
			OutputBytes:    t.OutputBytes,
		})
	}
	data, _ := json.Marshal(map[string]any{"tasks": tasks, "count": len(tasks)})
	return string(data), nil
}

func (s *Service) handleZshHealth(json.RawMessage) (string, error) {
	status := s.Breaker.GetStatus()
	summary, err := s.Alan.GetSessionSummary()
	if err != nil {
		summary = store.SessionCounts{}
	}
	data, _ := json.Marshal(map[string]any{
		"status":       "ok",
		"neverhang":    status,
		"alan":         summary,
		"active_tasks": len(s.Executor.ListTasks()),
	})
	return string(data), nil
}

func (s *Service) handleZshAlanStats(json.RawMessage) (string, error) {
	summary, err := s.Alan.GetSessionSummary()
	if err != nil {
		return "", apierr.Wrap(apierr.KindStoreUnavailable, "session summary", err)
	}
	data, _ := json.Marshal(summary)
	return string(data), nil
}

type alanQueryArgs struct {
	Command string `json:"command"`
}

func (s *Service) handleZshAlanQuery(raw json.RawMessage) (string, error) {
	var args alanQueryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", apierr.Wrap(apierr.KindValidation, "parse arguments", err)
	}
	if args.Command == "" {
		return "", apierr.New(apierr.KindValidation, "command is required")
	}
	stats, err := s.Alan.GetPatternStats(args.Command)
	if err != nil {
		return "", apierr.Wrap(apierr.KindStoreUnavailable, "query pattern", err)
	}
	data, _ := json.Marshal(stats)
	return string(data), nil
}

func (s *Service) handleZshNeverhangStatus(json.RawMessage) (string, error) {
	data, _ := json.Marshal(s.Breaker.GetStatus())
	return string(data), nil
}

func (s *Service) handleZshNeverhangReset(json.RawMessage) (string, error) {
	s.Breaker.Reset()
	return marshalResult(resultJSON{Success: true, Message: "NEVERHANG reset to CLOSED"}), nil
}
