// Package lunar derives the moon phase of an environment from its day count.
package lunar

import (
	"sort"

	"somnia.ai/internal/sim/directory"
)

type Phase uint8

const (
	Full Phase = iota
	WaningGibbous
	LastQuarter
	WaningCrescent
	New
	WaxingCrescent
	FirstQuarter
	WaxingGibbous

	Count = 8
)

var phaseInfo = [Count]struct {
	name string
	mult float64
}{
	{"Full Moon", 2.0},
	{"Waning Gibbous", 1.5},
	{"Last Quarter", 1.25},
	{"Waning Crescent", 1.1},
	{"New Moon", 0.5},
	{"Waxing Crescent", 1.1},
	{"First Quarter", 1.25},
	{"Waxing Gibbous", 1.5},
}

// PhaseOf is day mod 8; negative days wrap.
func PhaseOf(day int64) Phase {
	m := day % Count
	if m < 0 {
		m += Count
	}
	return Phase(m)
}

func (p Phase) String() string {
	if int(p) >= Count {
		return "unknown"
	}
	return phaseInfo[p].name
}

// Multiplier is the reward multiplier collaborators apply during the phase.
func (p Phase) Multiplier() float64 {
	if int(p) >= Count {
		return 1
	}
	return phaseInfo[p].mult
}

// Phases lists all phases in cycle order.
func Phases() []Phase {
	out := make([]Phase, Count)
	for i := range out {
		out[i] = Phase(i)
	}
	return out
}

// Window is the night portion of a day in time-of-day units. Start > End
// wraps past midnight.
type Window struct {
	Start, End int
}

func (w Window) Contains(t int) bool {
	if w.Start <= w.End {
		return t >= w.Start && t < w.End
	}
	return t >= w.Start || t < w.End
}

type State struct {
	Phase Phase
	Day   int64
}

type Change struct {
	Env  directory.EnvID
	From Phase
	To   Phase
	Day  int64
	// Announced is false when the change happened outside the night window.
	Announced bool
}

// Tracker keeps the last observed phase per environment. The first observation
// of an environment records its phase without reporting a change.
type Tracker struct {
	night  Window
	states map[directory.EnvID]State
}

func NewTracker(night Window) *Tracker {
	return &Tracker{night: night, states: map[directory.EnvID]State{}}
}

func (t *Tracker) SetNight(w Window) { t.night = w }

func (t *Tracker) Night() Window { return t.night }

// Observe records day for env and reports a phase change, if any.
func (t *Tracker) Observe(env directory.EnvID, day int64, timeOfDay int) (Change, bool) {
	p := PhaseOf(day)
	prev, known := t.states[env]
	t.states[env] = State{Phase: p, Day: day}
	if !known || prev.Phase == p {
		return Change{}, false
	}
	return Change{Env: env, From: prev.Phase, To: p, Day: day, Announced: t.night.Contains(timeOfDay)}, true
}

// Poll observes every environment with a clock reading and returns the
// changes in environment order, silent ones included.
func (t *Tracker) Poll(dir directory.Directory) []Change {
	var out []Change
	for _, id := range dir.Environments() {
		e, ok := dir.Env(id)
		if !ok || !e.Observed {
			continue
		}
		if c, changed := t.Observe(id, e.Day, e.TimeOfDay); changed {
			out = append(out, c)
		}
	}
	return out
}

func (t *Tracker) Phase(env directory.EnvID) (Phase, bool) {
	s, ok := t.states[env]
	return s.Phase, ok
}

func (t *Tracker) Forget(env directory.EnvID) { delete(t.states, env) }

type EnvState struct {
	Env directory.EnvID
	State
}

// Snapshot returns the tracked state per environment, sorted by id.
func (t *Tracker) Snapshot() []EnvState {
	out := make([]EnvState, 0, len(t.states))
	for id, s := range t.states {
		out = append(out, EnvState{Env: id, State: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Env < out[j].Env })
	return out
}

// Restore seeds tracked state, e.g. from a snapshot taken before a restart.
// Restored environments count as observed, so the next poll may announce.
func (t *Tracker) Restore(states []EnvState) {
	for _, s := range states {
		t.states[s.Env] = State{Phase: PhaseOf(s.Day), Day: s.Day}
	}
}
