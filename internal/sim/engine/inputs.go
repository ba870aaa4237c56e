package engine

import (
	"somnia.ai/internal/sim/catalogs"
	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/session"
	"somnia.ai/internal/sim/tuning"
)

// Input is a state change handed to the tick loop. Inputs are buffered and
// applied in arrival order at the start of the next tick.
type Input interface {
	apply(e *Engine)
}

type ActorJoin struct {
	Actor directory.ActorID
	Name  string
	Env   directory.EnvID
}

func (in ActorJoin) apply(e *Engine) {
	if in.Actor == "" {
		return
	}
	e.dir.Join(in.Actor, in.Name, in.Env)
	e.oracle.Touch(in.Actor, e.tick.Load())
}

// ActorLeave removes an actor and ends everything it owns on the same tick.
type ActorLeave struct {
	Actor directory.ActorID
}

func (in ActorLeave) apply(e *Engine) {
	e.dir.Leave(in.Actor)
	e.oracle.Forget(in.Actor)
	e.sessions.CancelOwner(session.ActorOwner(in.Actor), session.EndOwnerGone)
	delete(e.qualified, in.Actor)
}

// ActorState carries partial updates; nil fields are left unchanged.
type ActorState struct {
	Actor    directory.ActorID
	Env      directory.EnvID
	Sleeping *bool
	AFK      *bool
}

func (in ActorState) apply(e *Engine) {
	if _, ok := e.dir.Actor(in.Actor); !ok {
		return
	}
	if in.Env != "" {
		e.dir.Move(in.Actor, in.Env)
	}
	if in.Sleeping != nil {
		e.dir.SetSleeping(in.Actor, *in.Sleeping)
	}
	if in.AFK != nil {
		e.dir.SetAFK(in.Actor, *in.AFK)
		if !*in.AFK {
			e.oracle.Touch(in.Actor, e.tick.Load())
		}
	}
}

// ActorActivity resets the inactivity timer of an actor.
type ActorActivity struct {
	Actor directory.ActorID
}

func (in ActorActivity) apply(e *Engine) {
	if _, ok := e.dir.Actor(in.Actor); ok {
		e.oracle.Touch(in.Actor, e.tick.Load())
	}
}

// EnvClock reports an environment clock reading.
type EnvClock struct {
	Env       directory.EnvID
	Kind      string
	Day       int64
	TimeOfDay int
}

func (in EnvClock) apply(e *Engine) {
	if in.Env == "" {
		return
	}
	now := e.tick.Load()
	prev, ok := e.dir.SetClock(in.Env, in.Kind, in.Day, in.TimeOfDay, now)
	if !ok {
		return
	}
	fast := accelerated(prev, in.Day, in.TimeOfDay, now, e.tuning.DayLength, e.tuning.AccelThreshold)
	was := e.accelerated[in.Env]
	if fast {
		e.accelerated[in.Env] = true
	} else {
		delete(e.accelerated, in.Env)
	}
	if fast && !was && e.tuning.Features.Animations && e.tuning.Features.TimeAcceleration {
		for _, id := range e.oracle.QualifyingIn(in.Env) {
			e.sessions.Start(session.ActorOwner(id), session.KindTimeAcceleration, "", now)
		}
	}
}

// accelerated reports whether the clock advanced by more than threshold time
// units per elapsed tick since prev.
func accelerated(prev directory.Environment, day int64, timeOfDay int, now uint64, dayLength, threshold int) bool {
	elapsed := int64(1)
	if now > prev.ObservedTick {
		elapsed = int64(now - prev.ObservedTick)
	}
	delta := (day-prev.Day)*int64(dayLength) + int64(timeOfDay-prev.TimeOfDay)
	if delta < 0 && day == prev.Day {
		// Same day counter but the clock wrapped.
		delta += int64(dayLength)
	}
	if delta < 0 {
		return false
	}
	return delta > int64(threshold)*elapsed
}

// ReloadTuning swaps tuning and catalogs at a tick boundary. The tuning must
// already be validated.
type ReloadTuning struct {
	Tuning   tuning.Tuning
	Catalogs *catalogs.Catalogs
}

func (in ReloadTuning) apply(e *Engine) {
	if err := e.configure(in.Tuning); err != nil {
		e.logf("reload rejected: %v", err)
		return
	}
	e.present.SetCatalogs(in.Catalogs)
	e.logf("tuning reloaded (tick_rate_hz=%d portal_ttl=%d)", in.Tuning.TickRateHz, in.Tuning.PortalTTLTicks)
}

// UpdateNotice is delivered by the update checker.
type UpdateNotice struct {
	Version string
	URL     string
}

func (in UpdateNotice) apply(e *Engine) {
	if in.Version == "" || in.Version == e.update.Version {
		return
	}
	e.update = in
	e.warn.Printf("update:"+in.Version, "update available: %s %s", in.Version, in.URL)
}
