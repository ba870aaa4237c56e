package engine

import (
	"somnia.ai/internal/sim/session"
)

type GroupStatus struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Variant     string   `json:"variant,omitempty"`
	Members     []string `json:"members"`
	Envs        []string `json:"envs"`
	CreatedTick uint64   `json:"created_tick"`
	TTL         uint64   `json:"ttl,omitempty"`
	Phase       string   `json:"phase,omitempty"`
}

type LunarStatus struct {
	Env        string  `json:"env_id"`
	Day        int64   `json:"day"`
	Phase      int     `json:"phase"`
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
}

// Status is a read-only view published by the loop for other goroutines.
type Status struct {
	Tick        uint64            `json:"tick"`
	TickRateHz  int               `json:"tick_rate_hz"`
	DayLength   int               `json:"day_length"`
	Actors      int               `json:"actors"`
	Online      int               `json:"online"`
	Qualifying  int               `json:"qualifying"`
	Sessions    map[string]int    `json:"sessions"`
	Groups      []GroupStatus     `json:"groups"`
	Lunar       []LunarStatus     `json:"lunar"`
	Accelerated []string          `json:"accelerated,omitempty"`
	Ended       map[string]uint64 `json:"sessions_ended"`
	Formed      uint64            `json:"groups_formed"`
	Warnings    int               `json:"warnings"`
	Update      string            `json:"update,omitempty"`
	InboxLen    int               `json:"inbox_len"`
}

func (s Status) GroupCount(kind session.Kind) int {
	n := 0
	for _, g := range s.Groups {
		if g.Kind == kind.String() {
			n++
		}
	}
	return n
}

// Status returns the most recently published view. Safe for any goroutine.
func (e *Engine) Status() Status {
	v, _ := e.status.Load().(Status)
	return v
}

func (e *Engine) publishStatus() {
	s := Status{
		Tick:       e.tick.Load(),
		TickRateHz: e.tuning.TickRateHz,
		DayLength:  e.tuning.DayLength,
		Sessions:   map[string]int{},
		Ended:      map[string]uint64{},
		Formed:     e.stats.groupsFormed,
		Warnings:   e.warn.Seen(),
		Update:     e.update.Version,
		InboxLen:   len(e.inbox),
	}
	for _, id := range e.dir.Actors() {
		s.Actors++
		if e.dir.IsOnline(id) {
			s.Online++
		}
		if e.oracle.Qualifies(id) {
			s.Qualifying++
		}
	}
	for k, n := range e.sessions.Counts() {
		s.Sessions[k.String()] = n
	}
	for r, n := range e.stats.sessionsEnded {
		s.Ended[string(r)] = n
	}
	for _, g := range e.groups.List() {
		gs := GroupStatus{
			ID:          string(g.ID),
			Kind:        g.Kind.String(),
			Variant:     g.Variant,
			CreatedTick: g.CreatedTick,
			TTL:         g.TTL,
			Phase:       e.sessions.PhaseName(g.Session),
		}
		for _, m := range g.MemberList() {
			gs.Members = append(gs.Members, string(m))
		}
		for _, env := range g.Envs {
			gs.Envs = append(gs.Envs, string(env))
		}
		s.Groups = append(s.Groups, gs)
	}
	for _, st := range e.lunar.Snapshot() {
		s.Lunar = append(s.Lunar, LunarStatus{
			Env:        string(st.Env),
			Day:        st.Day,
			Phase:      int(st.Phase),
			Name:       st.Phase.String(),
			Multiplier: st.Phase.Multiplier(),
		})
	}
	for _, env := range e.dir.Environments() {
		if e.accelerated[env] {
			s.Accelerated = append(s.Accelerated, string(env))
		}
	}
	e.status.Store(s)
}
