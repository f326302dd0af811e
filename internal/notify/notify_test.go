package notify

import (
	"runtime"
	"testing"
)

func TestIsSupported(t *testing.T) {
	n := New(true)
	if runtime.GOOS == "windows" {
		if !n.IsSupported() {
			t.Error("expected supported on Windows")
		}
	} else if n.IsSupported() {
		t.Error("expected unsupported off Windows")
	}
}

func TestNeverhangOpenedNeverPanics(t *testing.T) {
	n := New(true)
	n.NeverhangOpened("failure_threshold_reached")
}

func TestTaskTimeoutNeverPanics(t *testing.T) {
	n := New(true)
	n.TaskTimeout("abcd1234", "sleep 600")
}

func TestDisabledIsNoOp(t *testing.T) {
	n := New(false)
	n.NeverhangOpened("reason")
	n.TaskTimeout("id", "cmd")
}
