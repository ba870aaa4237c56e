package engine

import (
	"fmt"

	"somnia.ai/internal/persistence/snapshot"
	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/lunar"
	"somnia.ai/internal/sim/session"
)

// ExportSnapshot captures lunar state and counters. Loop goroutine only, or
// after Run has returned.
func (e *Engine) ExportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header:    snapshot.Header{Version: snapshot.Version, Tick: e.tick.Load(), CreatedMS: e.now().UnixMilli()},
		TickRate:  e.tuning.TickRateHz,
		DayLength: e.tuning.DayLength,
		Counters: snapshot.CountersV1{
			GroupsFormed:  e.stats.groupsFormed,
			LunarChanges:  e.stats.lunarChanges,
			SessionsEnded: map[string]uint64{},
		},
	}
	for r, n := range e.stats.sessionsEnded {
		snap.Counters.SessionsEnded[string(r)] = n
	}
	for _, st := range e.lunar.Snapshot() {
		snap.Lunar = append(snap.Lunar, snapshot.LunarV1{Env: string(st.Env), Phase: int(st.Phase), Day: st.Day})
	}
	return snap
}

// ImportSnapshot restores what ExportSnapshot captured. Call before Run.
func (e *Engine) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("engine: snapshot version %d", snap.Header.Version)
	}
	e.tick.Store(snap.Header.Tick)
	e.stats.groupsFormed = snap.Counters.GroupsFormed
	e.stats.lunarChanges = snap.Counters.LunarChanges
	for r, n := range snap.Counters.SessionsEnded {
		e.stats.sessionsEnded[session.EndReason(r)] = n
	}
	states := make([]lunar.EnvState, 0, len(snap.Lunar))
	for _, l := range snap.Lunar {
		states = append(states, lunar.EnvState{Env: directory.EnvID(l.Env), State: lunar.State{Day: l.Day}})
	}
	e.lunar.Restore(states)
	e.publishStatus()
	return nil
}
