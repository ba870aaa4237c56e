package directory

import (
	"sort"
)

type ActorID string

type EnvID string

// Directory is the read side of the actor/environment state the engine consumes.
// Implementations are only read from the tick loop goroutine.
type Directory interface {
	Environments() []EnvID
	ActorsIn(env EnvID) []ActorID
	IsOnline(id ActorID) bool
	IsSleeping(id ActorID) bool
	Location(id ActorID) (EnvID, bool)
	Env(env EnvID) (Environment, bool)
}

type Actor struct {
	ID       ActorID
	Name     string
	Env      EnvID
	Online   bool
	Sleeping bool
	// AFK is the adapter-reported away flag. The oracle combines it with its own
	// inactivity timer.
	AFK bool
}

// Environment carries the clock values that drive night detection, time
// acceleration detection and the lunar tracker.
type Environment struct {
	ID        EnvID
	Kind      string
	Day       int64
	TimeOfDay int
	// ObservedTick is the engine tick at which the clock was last reported.
	ObservedTick uint64
	Observed     bool
}

// Memory is the in-process Directory. It is mutated by engine inputs applied at
// tick boundaries, so it carries no locks.
type Memory struct {
	actors map[ActorID]*Actor
	envs   map[EnvID]*Environment
	// members is the per-environment actor set; kept in step with Actor.Env.
	members map[EnvID]map[ActorID]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		actors:  map[ActorID]*Actor{},
		envs:    map[EnvID]*Environment{},
		members: map[EnvID]map[ActorID]struct{}{},
	}
}

func (m *Memory) Environments() []EnvID {
	out := make([]EnvID, 0, len(m.envs))
	for id := range m.envs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Memory) ActorsIn(env EnvID) []ActorID {
	set := m.members[env]
	out := make([]ActorID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Memory) IsOnline(id ActorID) bool {
	a := m.actors[id]
	return a != nil && a.Online
}

func (m *Memory) IsSleeping(id ActorID) bool {
	a := m.actors[id]
	return a != nil && a.Online && a.Sleeping
}

func (m *Memory) IsAFK(id ActorID) bool {
	a := m.actors[id]
	return a != nil && a.AFK
}

func (m *Memory) Location(id ActorID) (EnvID, bool) {
	a := m.actors[id]
	if a == nil || a.Env == "" {
		return "", false
	}
	return a.Env, true
}

func (m *Memory) Env(env EnvID) (Environment, bool) {
	e := m.envs[env]
	if e == nil {
		return Environment{}, false
	}
	return *e, true
}

func (m *Memory) Actor(id ActorID) (Actor, bool) {
	a := m.actors[id]
	if a == nil {
		return Actor{}, false
	}
	return *a, true
}

// Actors returns every known actor id, online or not, sorted.
func (m *Memory) Actors() []ActorID {
	out := make([]ActorID, 0, len(m.actors))
	for id := range m.actors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Join marks an actor online in env, creating the record and the environment if needed.
func (m *Memory) Join(id ActorID, name string, env EnvID) {
	a := m.actors[id]
	if a == nil {
		a = &Actor{ID: id}
		m.actors[id] = a
	}
	if name != "" {
		a.Name = name
	}
	a.Online = true
	a.Sleeping = false
	a.AFK = false
	m.move(a, env)
}

// Leave marks an actor offline and removes it from its environment. The record
// is dropped so a later Join starts clean.
func (m *Memory) Leave(id ActorID) {
	a := m.actors[id]
	if a == nil {
		return
	}
	a.Online = false
	a.Sleeping = false
	m.move(a, "")
	delete(m.actors, id)
}

func (m *Memory) Move(id ActorID, env EnvID) {
	a := m.actors[id]
	if a == nil {
		return
	}
	m.move(a, env)
}

func (m *Memory) SetSleeping(id ActorID, sleeping bool) {
	if a := m.actors[id]; a != nil {
		a.Sleeping = sleeping
	}
}

func (m *Memory) SetAFK(id ActorID, afk bool) {
	if a := m.actors[id]; a != nil {
		a.AFK = afk
	}
}

// SetClock records an environment clock observation and returns the previous
// value (ok=false on the first observation).
func (m *Memory) SetClock(env EnvID, kind string, day int64, timeOfDay int, tick uint64) (prev Environment, ok bool) {
	e := m.ensureEnv(env)
	prev, ok = *e, e.Observed
	if kind != "" {
		e.Kind = kind
	}
	e.Day = day
	e.TimeOfDay = timeOfDay
	e.ObservedTick = tick
	e.Observed = true
	return prev, ok
}

// DefineEnv registers an environment without a clock observation.
func (m *Memory) DefineEnv(env EnvID, kind string) {
	e := m.ensureEnv(env)
	if kind != "" {
		e.Kind = kind
	}
}

func (m *Memory) ensureEnv(env EnvID) *Environment {
	e := m.envs[env]
	if e == nil {
		e = &Environment{ID: env, Kind: string(env)}
		m.envs[env] = e
	}
	return e
}

func (m *Memory) move(a *Actor, env EnvID) {
	if a.Env != "" {
		if set := m.members[a.Env]; set != nil {
			delete(set, a.ID)
		}
	}
	a.Env = env
	if env == "" {
		return
	}
	m.ensureEnv(env)
	set := m.members[env]
	if set == nil {
		set = map[ActorID]struct{}{}
		m.members[env] = set
	}
	set[a.ID] = struct{}{}
}
