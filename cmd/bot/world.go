package main

import (
	"fmt"
	"math/rand"

	"somnia.ai/internal/protocol"
)

type envSpec struct {
	id   string
	kind string
}

type fakeEnv struct {
	envSpec
	day int64
	tod int
}

type fakeActor struct {
	id       string
	env      int
	sleeping bool
}

// world is the bot's pretend game state. It is only touched by one goroutine.
type world struct {
	envs      []*fakeEnv
	actors    []*fakeActor
	dayLength int
	rng       *rand.Rand
}

func newWorld(specs []envSpec, actors, startTOD, dayLength int, seed int64) *world {
	if dayLength <= 0 {
		dayLength = 24000
	}
	w := &world{dayLength: dayLength, rng: rand.New(rand.NewSource(seed))}
	for _, s := range specs {
		w.envs = append(w.envs, &fakeEnv{envSpec: s, tod: startTOD % dayLength})
	}
	for i := 0; i < actors; i++ {
		w.actors = append(w.actors, &fakeActor{id: fmt.Sprintf("bot-%02d", i+1), env: i % len(w.envs)})
	}
	return w
}

func isNight(tod int) bool { return tod >= 12541 && tod <= 23458 }

func (w *world) joins() []any {
	var out []any
	for _, a := range w.actors {
		out = append(out, protocol.ActorJoinMsg{
			Type:            protocol.TypeActorJoin,
			ProtocolVersion: protocol.Version,
			ActorID:         a.id,
			EnvID:           w.envs[a.env].id,
		})
	}
	return out
}

// advance moves every clock forward by units and returns the messages a game
// server would send for the elapsed second.
func (w *world) advance(units int) []any {
	var out []any
	for _, e := range w.envs {
		e.tod += units
		for e.tod >= w.dayLength {
			e.tod -= w.dayLength
			e.day++
		}
		out = append(out, protocol.EnvClockMsg{
			Type:            protocol.TypeEnvClock,
			ProtocolVersion: protocol.Version,
			EnvID:           e.id,
			EnvKind:         e.kind,
			Day:             e.day,
			TimeOfDay:       e.tod,
		})
	}
	for _, a := range w.actors {
		night := isNight(w.envs[a.env].tod)
		want := a.sleeping
		switch {
		case night && !a.sleeping && w.rng.Intn(4) == 0:
			want = true
		case !night && a.sleeping:
			want = false
		}
		if want != a.sleeping {
			a.sleeping = want
			s := want
			out = append(out, protocol.ActorStateMsg{
				Type:            protocol.TypeActorState,
				ProtocolVersion: protocol.Version,
				ActorID:         a.id,
				Sleeping:        &s,
			})
		}
		if !a.sleeping {
			out = append(out, protocol.ActorActivityMsg{
				Type:            protocol.TypeActorActivity,
				ProtocolVersion: protocol.Version,
				ActorID:         a.id,
			})
		}
	}
	return out
}
