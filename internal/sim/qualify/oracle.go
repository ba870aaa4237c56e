// Package qualify answers whether an actor currently takes part in sleep effects.
package qualify

import (
	"somnia.ai/internal/sim/directory"
)

// AFKReporter is implemented by directories that carry an adapter-reported away flag.
type AFKReporter interface {
	IsAFK(id directory.ActorID) bool
}

// Oracle combines directory state with an inactivity timer.
// An actor qualifies when it is online, sleeping and not idle.
type Oracle struct {
	dir directory.Directory
	afk AFKReporter

	// idleAfter is the inactivity window in ticks; 0 disables the timer and
	// leaves idleness to the adapter flag.
	idleAfter  uint64
	lastActive map[directory.ActorID]uint64
	now        uint64
}

func New(dir directory.Directory, idleAfterTicks uint64) *Oracle {
	o := &Oracle{
		dir:        dir,
		idleAfter:  idleAfterTicks,
		lastActive: map[directory.ActorID]uint64{},
	}
	if r, ok := dir.(AFKReporter); ok {
		o.afk = r
	}
	return o
}

func (o *Oracle) SetNow(tick uint64) { o.now = tick }

func (o *Oracle) SetIdleAfter(ticks uint64) { o.idleAfter = ticks }

// Touch records activity for id at tick.
func (o *Oracle) Touch(id directory.ActorID, tick uint64) {
	o.lastActive[id] = tick
}

func (o *Oracle) Forget(id directory.ActorID) {
	delete(o.lastActive, id)
}

func (o *Oracle) IsIdle(id directory.ActorID) bool {
	if o.afk != nil && o.afk.IsAFK(id) {
		return true
	}
	if o.idleAfter == 0 {
		return false
	}
	last, ok := o.lastActive[id]
	if !ok {
		return false
	}
	return o.now >= last && o.now-last >= o.idleAfter
}

func (o *Oracle) Qualifies(id directory.ActorID) bool {
	if !o.dir.IsOnline(id) || !o.dir.IsSleeping(id) {
		return false
	}
	return !o.IsIdle(id)
}

// QualifyingIn returns the qualifying actors of env in directory order.
func (o *Oracle) QualifyingIn(env directory.EnvID) []directory.ActorID {
	var out []directory.ActorID
	for _, id := range o.dir.ActorsIn(env) {
		if o.Qualifies(id) {
			out = append(out, id)
		}
	}
	return out
}

// Census counts online and sleeping (non-idle) actors in env.
func (o *Oracle) Census(env directory.EnvID) (online, qualifying int) {
	for _, id := range o.dir.ActorsIn(env) {
		if !o.dir.IsOnline(id) {
			continue
		}
		online++
		if o.Qualifies(id) {
			qualifying++
		}
	}
	return online, qualifying
}
