// Package notify fires an optional desktop toast when NEVERHANG opens or a
// task times out, adapted from the teacher's internal/notifications/toast.go
// (runtime.GOOS-gated, Windows-only; a silent no-op everywhere else).
package notify

import (
	"runtime"

	"github.com/go-toast/toast"
)

// Notifier wraps go-toast/toast with the service's enable/disable switch.
type Notifier struct {
	appID   string
	enabled bool
}

// New creates a Notifier. enabled mirrors the config's notify_enabled
// master switch; it is still a no-op off Windows regardless of enabled.
func New(enabled bool) *Notifier {
	return &Notifier{appID: "zsh-tool", enabled: enabled}
}

// IsSupported reports whether this platform can show toasts at all.
func (n *Notifier) IsSupported() bool {
	return runtime.GOOS == "windows"
}

// NeverhangOpened fires when the circuit breaker transitions to OPEN.
// Never returns an error: a failed notification must not fail a tool call.
func (n *Notifier) NeverhangOpened(reason string) {
	n.show("NEVERHANG circuit open", reason)
}

// TaskTimeout fires when a live task's collector transitions it to TIMEOUT.
func (n *Notifier) TaskTimeout(taskID, commandPreview string) {
	n.show("Command timed out", taskID+": "+commandPreview)
}

func (n *Notifier) show(title, message string) {
	if !n.enabled || runtime.GOOS != "windows" {
		return
	}
	notification := toast.Notification{
		AppID:   n.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
	}
	// Best-effort: a toast failure is part of the observability path and
	// must never propagate.
	_ = notification.Push()
}
