package domain

import "testing"

func pi(v int) *int { return &v }

func pt(v int64) *int64 { return &v }

func TestAgeRoundsUpToDays(t *testing.T) {
	i := Issue{CreatedAt: 0}
	cases := []struct {
		now  int64
		want int
	}{
		{0, 0},
		{1, 1},
		{SecondsInDay, 1},
		{SecondsInDay + 1, 2},
		{3 * SecondsInDay, 3},
	}
	for _, c := range cases {
		if got := i.Age(c.now); got != c.want {
			t.Fatalf("Age(%d) = %d, want %d", c.now, got, c.want)
		}
	}

	// Closed issues stop aging at closed_at.
	closed := Issue{CreatedAt: 0, ClosedAt: pt(2 * SecondsInDay)}
	if got := closed.Age(100 * SecondsInDay); got != 2 {
		t.Fatalf("closed age = %d, want 2", got)
	}
}

func TestIsCritical(t *testing.T) {
	tpl := Template{CriticalAge: pi(1)}
	i := Issue{CreatedAt: 0}

	// One second past a full day the age rounds to 2, exceeding the limit.
	if i.IsCritical(tpl, SecondsInDay) {
		t.Fatal("critical at exactly one day")
	}
	if !i.IsCritical(tpl, SecondsInDay+1) {
		t.Fatal("not critical one second past a day")
	}
	// No limit, never critical.
	if i.IsCritical(Template{}, 100*SecondsInDay) {
		t.Fatal("critical without a limit")
	}
	// Closed issues are never critical.
	closed := Issue{CreatedAt: 0, ClosedAt: pt(10 * SecondsInDay)}
	if closed.IsCritical(tpl, 100*SecondsInDay) {
		t.Fatal("closed issue reported critical")
	}
}

func TestIsFrozen(t *testing.T) {
	tpl := Template{FrozenTime: pi(2)}
	open := Issue{CreatedAt: 0}
	if open.IsFrozen(tpl, 100*SecondsInDay) {
		t.Fatal("open issue reported frozen")
	}
	closed := Issue{CreatedAt: 0, ClosedAt: pt(0)}
	if closed.IsFrozen(tpl, 2*SecondsInDay) {
		t.Fatal("frozen within the grace period")
	}
	if !closed.IsFrozen(tpl, 2*SecondsInDay+1) {
		t.Fatal("not frozen past the grace period")
	}
	if closed.IsFrozen(Template{}, 100*SecondsInDay) {
		t.Fatal("frozen without a grace period configured")
	}
}

func TestIsSuspended(t *testing.T) {
	i := Issue{ResumesAt: pt(100)}
	if !i.IsSuspended(99) {
		t.Fatal("not suspended before the resume point")
	}
	if i.IsSuspended(100) {
		t.Fatal("suspended at the resume point")
	}
	if (Issue{}).IsSuspended(0) {
		t.Fatal("suspended without a resume point")
	}
}

func TestFinalStateNormalization(t *testing.T) {
	next := int64(7)
	s := State{Type: StateFinal, Responsible: ResponsibleAssign, NextStateID: &next}
	if s.EffectiveResponsible() != ResponsibleRemove {
		t.Fatalf("final responsible = %s, want remove", s.EffectiveResponsible())
	}
	if s.EffectiveNextState() != nil {
		t.Fatal("final state carries a continuation")
	}
	open := State{Type: StateIntermediate, Responsible: ResponsibleAssign, NextStateID: &next}
	if open.EffectiveResponsible() != ResponsibleAssign || open.EffectiveNextState() == nil {
		t.Fatal("intermediate state normalized away")
	}
}

func TestReference(t *testing.T) {
	i := Issue{ID: 42}
	if got := i.Reference("bug"); got != "bug-42" {
		t.Fatalf("reference = %q", got)
	}
	if got := i.Reference(""); got != "issue-42" {
		t.Fatalf("fallback reference = %q", got)
	}
}

func TestMaxAccess(t *testing.T) {
	if MaxAccess(AccessRead, AccessReadWrite) != AccessReadWrite {
		t.Fatal("read-write must outrank read")
	}
	if MaxAccess(AccessNone, AccessRead) != AccessRead {
		t.Fatal("read must outrank none")
	}
	if !AccessReadWrite.CanRead() || !AccessReadWrite.CanWrite() {
		t.Fatal("read-write capabilities")
	}
	if !AccessRead.CanRead() || AccessRead.CanWrite() {
		t.Fatal("read capabilities")
	}
	if AccessNone.CanRead() {
		t.Fatal("none must not read")
	}
}
