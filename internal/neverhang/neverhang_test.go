package neverhang

import (
	"testing"
	"time"
)

func TestCircuitMonotonicityOpensAtThreshold(t *testing.T) {
	b := New(3, 300*time.Second, 3600*time.Second)

	for i := 0; i < 2; i++ {
		b.RecordTimeout("fp1")
		if allowed, _ := b.ShouldAllow(); !allowed {
			t.Fatalf("expected CLOSED to allow before threshold, iteration %d", i)
		}
	}

	b.RecordTimeout("fp1")
	allowed, msg := b.ShouldAllow()
	if allowed {
		t.Fatal("expected circuit to be OPEN after 3 timeouts")
	}
	if msg == "" {
		t.Error("expected a block message")
	}
}

func TestHalfOpenSuccessReturnsToClosed(t *testing.T) {
	b := New(1, 10*time.Millisecond, 3600*time.Second)
	b.RecordTimeout("fp1")

	time.Sleep(20 * time.Millisecond)

	allowed, msg := b.ShouldAllow()
	if !allowed {
		t.Fatal("expected HALF_OPEN to allow a recovery test")
	}
	if msg != "testing recovery" {
		t.Errorf("message = %q, want 'testing recovery'", msg)
	}

	b.RecordSuccess()
	if b.GetStatus().State != Closed {
		t.Errorf("state = %v, want CLOSED", b.GetStatus().State)
	}
}

func TestHalfOpenTimeoutReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond, 3600*time.Second)
	b.RecordTimeout("fp1")
	time.Sleep(20 * time.Millisecond)
	b.ShouldAllow() // transitions to HALF_OPEN

	b.RecordTimeout("fp1")
	if b.GetStatus().State != Open {
		t.Errorf("state = %v, want OPEN", b.GetStatus().State)
	}
}

func TestSampleWindowForgetsOldFailures(t *testing.T) {
	b := New(2, 300*time.Second, 10*time.Millisecond)
	b.RecordTimeout("fp1")
	time.Sleep(20 * time.Millisecond)
	b.RecordTimeout("fp1")

	allowed, _ := b.ShouldAllow()
	if !allowed {
		t.Error("expected old failure outside sample window to be forgotten")
	}
}

func TestReset(t *testing.T) {
	b := New(1, 300*time.Second, 3600*time.Second)
	b.RecordTimeout("fp1")
	if b.GetStatus().State != Open {
		t.Fatal("expected OPEN before reset")
	}
	b.Reset()
	if b.GetStatus().State != Closed {
		t.Error("expected CLOSED after reset")
	}
	allowed, _ := b.ShouldAllow()
	if !allowed {
		t.Error("expected allow after reset")
	}
}

func TestOnTransitionFires(t *testing.T) {
	b := New(1, 300*time.Second, 3600*time.Second)
	transitions := make(chan Transition, 10)
	b.OnTransition(func(tr Transition) { transitions <- tr })

	b.RecordTimeout("fp1")

	select {
	case tr := <-transitions:
		if tr.To != Open {
			t.Errorf("transition.To = %v, want OPEN", tr.To)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a transition callback")
	}
}
