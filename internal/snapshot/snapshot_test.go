package snapshot

import (
	"testing"

	"github.com/swival/swival/internal/errs"
)

func TestSave_TransitionsToActive(t *testing.T) {
	c := NewController()
	if err := c.Save("phase1", 5); err != nil {
		t.Fatalf("Save: %v", err)
	}
	state, cp := c.Status()
	if state != StateActive {
		t.Errorf("expected Active, got %v", state)
	}
	if cp == nil || cp.Label != "phase1" || cp.TurnAtSave != 5 {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}
}

func TestSave_AlreadyActiveFails(t *testing.T) {
	c := NewController()
	_ = c.Save("phase1", 1)
	err := c.Save("phase2", 2)
	if err == nil {
		t.Fatal("expected AlreadyActive error")
	}
	if kind, _ := errs.KindOf(err); kind != errs.AlreadyActive {
		t.Errorf("expected AlreadyActive, got %v", kind)
	}
}

func TestSaveCancelSave_EquivalentToSingleSave(t *testing.T) {
	// save(L); cancel(); save(L) must be equivalent to a single save(L).
	c1 := NewController()
	_ = c1.Save("L", 3)

	c2 := NewController()
	_ = c2.Save("L", 1)
	c2.Cancel()
	_ = c2.Save("L", 3)

	s1, cp1 := c1.Status()
	s2, cp2 := c2.Status()
	if s1 != s2 || cp1.Label != cp2.Label || cp1.TurnAtSave != cp2.TurnAtSave || cp1.Dirty != cp2.Dirty {
		t.Errorf("expected equivalent checkpoint state: %+v vs %+v", cp1, cp2)
	}
}

func TestRestore_DirtyRequiresForce(t *testing.T) {
	c := NewController()
	_ = c.Save("phase1", 1)
	c.MarkDirty()
	if err := c.Restore(10, false); err == nil {
		t.Fatal("expected error restoring a dirty checkpoint without force")
	}
	if err := c.Restore(10, true); err != nil {
		t.Fatalf("expected force restore to succeed: %v", err)
	}
	state, _ := c.Status()
	if state != StateIdle {
		t.Errorf("expected Idle after restore, got %v", state)
	}
}

func TestRestore_CleanDoesNotRequireForce(t *testing.T) {
	c := NewController()
	_ = c.Save("phase1", 1)
	if err := c.Restore(10, false); err != nil {
		t.Fatalf("expected clean restore to succeed without force: %v", err)
	}
}

func TestObserveTurn_NudgesOnFifthReadOnlyStreak(t *testing.T) {
	c := NewController()
	var nudge string
	for i := 0; i < 5; i++ {
		nudge = c.ObserveTurn(true)
	}
	if nudge == "" {
		t.Error("expected a nudge on the 5th consecutive read-only turn")
	}
}

func TestObserveTurn_DoesNotRenudgeUntilStreakResets(t *testing.T) {
	c := NewController()
	for i := 0; i < 5; i++ {
		c.ObserveTurn(true)
	}
	if n := c.ObserveTurn(true); n != "" {
		t.Error("expected no re-nudge while the streak continues uninterrupted")
	}
	c.ObserveTurn(false) // breaks the streak
	for i := 0; i < 4; i++ {
		if n := c.ObserveTurn(true); n != "" {
			t.Errorf("unexpected early nudge at streak position %d", i)
		}
	}
	if n := c.ObserveTurn(true); n == "" {
		t.Error("expected a fresh nudge once the streak reaches 5 again")
	}
}

func TestIsDirtying(t *testing.T) {
	for _, name := range []string{"write_file", "edit_file", "run_command"} {
		if !IsDirtying(name) {
			t.Errorf("expected %q to be dirtying", name)
		}
	}
	for _, name := range []string{"read_file", "list_dir", "grep", "think", "todo"} {
		if IsDirtying(name) {
			t.Errorf("expected %q to not be dirtying", name)
		}
	}
}
