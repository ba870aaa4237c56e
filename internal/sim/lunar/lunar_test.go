package lunar

import (
	"testing"

	"somnia.ai/internal/sim/directory"
)

var night = Window{Start: 13000, End: 23000}

func TestPhaseOf_Deterministic(t *testing.T) {
	seen := map[Phase]bool{}
	for d := int64(-20); d < 100; d++ {
		p := PhaseOf(d)
		if p != PhaseOf(d+8) {
			t.Fatalf("phase(%d)=%v phase(%d)=%v", d, p, d+8, PhaseOf(d+8))
		}
		if int(p) >= Count {
			t.Fatalf("phase(%d) out of range: %d", d, p)
		}
		seen[p] = true
	}
	if len(seen) != Count {
		t.Fatalf("distinct phases: got %d want %d", len(seen), Count)
	}
	if PhaseOf(0) != Full || PhaseOf(4) != New || PhaseOf(-1) != WaxingGibbous {
		t.Fatalf("phase order broken: %v %v %v", PhaseOf(0), PhaseOf(4), PhaseOf(-1))
	}
}

func TestMultipliers(t *testing.T) {
	if Full.Multiplier() != 2.0 || New.Multiplier() != 0.5 {
		t.Fatalf("multipliers: full=%v new=%v", Full.Multiplier(), New.Multiplier())
	}
	for _, p := range Phases() {
		if p.String() == "unknown" || p.Multiplier() <= 0 {
			t.Fatalf("phase %d has no info", p)
		}
	}
}

func TestWindow_Wraps(t *testing.T) {
	w := Window{Start: 22000, End: 2000}
	for _, c := range []struct {
		t    int
		want bool
	}{{23000, true}, {1000, true}, {2000, false}, {12000, false}} {
		if got := w.Contains(c.t); got != c.want {
			t.Fatalf("contains(%d): got %v want %v", c.t, got, c.want)
		}
	}
}

func TestObserve_FirstSilentThenNightGated(t *testing.T) {
	tr := NewTracker(night)
	if _, changed := tr.Observe("w", 0, 18000); changed {
		t.Fatalf("first observation reported a change")
	}
	if _, changed := tr.Observe("w", 0, 19000); changed {
		t.Fatalf("same day reported a change")
	}
	c, changed := tr.Observe("w", 1, 6000)
	if !changed || c.Announced {
		t.Fatalf("daytime change: changed=%v announced=%v want true,false", changed, c.Announced)
	}
	if p, _ := tr.Phase("w"); p != WaningGibbous {
		t.Fatalf("state not updated silently: %v", p)
	}
	c, changed = tr.Observe("w", 2, 14000)
	if !changed || !c.Announced || c.From != WaningGibbous || c.To != LastQuarter {
		t.Fatalf("night change: %+v changed=%v", c, changed)
	}
	if _, changed := tr.Observe("w", 10, 14000); changed {
		t.Fatalf("day 10 is the same phase as day 2")
	}
}

func TestPoll_SkipsUnobservedEnvironments(t *testing.T) {
	dir := directory.NewMemory()
	dir.DefineEnv("quiet", "overworld")
	dir.SetClock("w", "overworld", 3, 15000, 0)
	tr := NewTracker(night)
	if got := tr.Poll(dir); len(got) != 0 {
		t.Fatalf("first poll: got %v", got)
	}
	dir.SetClock("w", "", 4, 15000, 20)
	got := tr.Poll(dir)
	if len(got) != 1 || got[0].Env != "w" || got[0].To != New {
		t.Fatalf("second poll: got %+v", got)
	}
	if _, ok := tr.Phase("quiet"); ok {
		t.Fatalf("environment without a clock was tracked")
	}
	if snap := tr.Snapshot(); len(snap) != 1 || snap[0].Day != 4 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestRestore_NextObservationAnnounces(t *testing.T) {
	tr := NewTracker(night)
	tr.Restore([]EnvState{{Env: "w", State: State{Day: 3}}})
	if p, ok := tr.Phase("w"); !ok || p != WaningCrescent {
		t.Fatalf("restored phase: got %v,%v", p, ok)
	}
	c, changed := tr.Observe("w", 4, 15000)
	if !changed || !c.Announced || c.To != New {
		t.Fatalf("after restore: %+v changed=%v", c, changed)
	}
}
