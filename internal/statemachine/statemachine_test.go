package statemachine

import (
	"errors"
	"testing"
	"time"
)

func TestNext_Table(t *testing.T) {
	tests := []struct {
		from    Status
		op      Op
		want    Status
		wantErr bool
	}{
		{Idle, OpStart, Recording, false},
		{Idle, OpPause, Idle, true},
		{Idle, OpResume, Idle, true},
		{Idle, OpStop, Idle, true},
		{Recording, OpStart, Recording, true},
		{Recording, OpPause, Paused, false},
		{Recording, OpResume, Recording, true},
		{Recording, OpStop, Finishing, false},
		{Paused, OpStart, Paused, true},
		{Paused, OpPause, Paused, true},
		{Paused, OpResume, Recording, false},
		{Paused, OpStop, Finishing, false},
		{Finishing, OpStart, Finishing, true},
		{Finishing, OpPause, Finishing, true},
		{Finishing, OpResume, Finishing, true},
		{Finishing, OpStop, Finishing, true},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+string(tt.op), func(t *testing.T) {
			got, err := Next(tt.from, tt.op)
			if tt.wantErr {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("err = %v, want ErrIllegalTransition", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Next(%s, %s) = %s, want %s", tt.from, tt.op, got, tt.want)
			}
		})
	}
}

func TestFromCode(t *testing.T) {
	for code, want := range map[int]Status{0: Idle, 1: Recording, 2: Paused, 3: Finishing} {
		got, ok := FromCode(code)
		if !ok || got != want {
			t.Errorf("FromCode(%d) = %s, %v; want %s, true", code, got, ok, want)
		}
	}
	if _, ok := FromCode(7); ok {
		t.Error("FromCode(7) should be unknown")
	}
	if _, ok := FromCode(-1); ok {
		t.Error("FromCode(-1) should be unknown")
	}
}

func TestStateMachine_Lifecycle(t *testing.T) {
	sm := NewStateMachine()
	if sm.Status() != Idle || sm.IsActive() {
		t.Fatal("new machine should be idle")
	}
	if sm.RecordingDuration() != 0 {
		t.Error("duration should be zero before start")
	}

	if _, err := sm.Apply(OpStart); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sm.Status() != Recording {
		t.Errorf("status = %s, want recording", sm.Status())
	}
	if sm.ConfirmedStatus() != Idle {
		t.Errorf("confirmed = %s, want idle until engine reports", sm.ConfirmedStatus())
	}
	if sm.RecordingStart().IsZero() {
		t.Error("recording start not set")
	}

	if changed := sm.Confirm(Recording); changed {
		t.Error("confirming the optimistic status should not report a change")
	}
	if sm.ConfirmedStatus() != Recording {
		t.Errorf("confirmed = %s, want recording", sm.ConfirmedStatus())
	}

	if _, err := sm.Apply(OpPause); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// Engine disagrees: it never paused.
	if changed := sm.Confirm(Recording); !changed {
		t.Error("engine status should override optimistic pause")
	}
	if sm.Status() != Recording {
		t.Errorf("status = %s, want recording after reconciliation", sm.Status())
	}

	if _, err := sm.Apply(OpStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sm.Check(OpStop); err == nil {
		t.Error("second stop should be illegal while finishing")
	}

	sm.Reset()
	if sm.Status() != Idle || sm.ConfirmedStatus() != Idle {
		t.Error("reset should return to idle")
	}
	if !sm.RecordingStart().IsZero() {
		t.Error("reset should clear recording start")
	}
}

func TestStateMachine_ApplyRejectedKeepsStatus(t *testing.T) {
	sm := NewStateMachine()
	before := sm.LastChange()

	got, err := sm.Apply(OpPause)
	if err == nil {
		t.Fatal("pause from idle should fail")
	}
	if got != Idle || sm.Status() != Idle {
		t.Errorf("status changed on rejected op: %s", sm.Status())
	}
	if !sm.LastChange().Equal(before) {
		t.Error("rejected op should not touch last change time")
	}
}

func TestStateMachine_RecordingDuration(t *testing.T) {
	sm := NewStateMachine()
	if _, err := sm.Apply(OpStart); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if d := sm.RecordingDuration(); d < 10*time.Millisecond {
		t.Errorf("duration = %v, want >= 10ms", d)
	}
}

func TestStateMachine_EngineIdleHeldUntilReset(t *testing.T) {
	sm := NewStateMachine()
	if _, err := sm.Apply(OpStart); err != nil {
		t.Fatalf("start: %v", err)
	}

	if changed := sm.Confirm(Idle); !changed {
		t.Error("engine idle should change the visible status")
	}
	if sm.Status() != Finishing {
		t.Errorf("status = %s, want finishing until reset", sm.Status())
	}
	if sm.ConfirmedStatus() != Idle {
		t.Errorf("confirmed = %s, want idle", sm.ConfirmedStatus())
	}
	if err := sm.Check(OpStart); err == nil {
		t.Error("start should stay illegal before the terminal notification")
	}

	sm.Reset()
	if err := sm.Check(OpStart); err != nil {
		t.Errorf("start after reset: %v", err)
	}
}
