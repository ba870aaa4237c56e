// Package events is the outward feed of engine lifecycle changes. Everything
// here runs on the tick goroutine; subscribers must not block.
package events

import (
	"time"

	"github.com/google/uuid"

	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/lunar"
	"somnia.ai/internal/sim/session"
)

type Type string

const (
	TypeGroupFormed       Type = "GROUP_FORMED"
	TypeGroupDissolved    Type = "GROUP_DISSOLVED"
	TypeLunarPhaseChanged Type = "LUNAR_PHASE_CHANGED"
	TypeSessionEnded      Type = "SESSION_ENDED"
)

// Listener is the typed callback set collaborators implement.
type Listener interface {
	GroupFormed(kind session.Kind, id string, members []directory.ActorID)
	GroupDissolved(kind session.Kind, id string, reason string)
	LunarPhaseChanged(env directory.EnvID, phase lunar.Phase)
	SessionEnded(s session.Session, reason session.EndReason)
}

// Nop can be embedded to implement only some callbacks.
type Nop struct{}

func (Nop) GroupFormed(session.Kind, string, []directory.ActorID) {}
func (Nop) GroupDissolved(session.Kind, string, string)            {}
func (Nop) LunarPhaseChanged(directory.EnvID, lunar.Phase)         {}
func (Nop) SessionEnded(session.Session, session.EndReason)        {}

type Lunar struct {
	Phase      int     `json:"phase"`
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
	Day        int64   `json:"day"`
}

// Event is the serialized form of a feed entry, used by the journal, the
// index and the observer stream.
type Event struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	Tick uint64 `json:"tick"`
	TS   int64  `json:"ts_ms"`

	Kind    string   `json:"kind,omitempty"`
	Variant string   `json:"variant,omitempty"`
	GroupID string   `json:"group_id,omitempty"`
	Members []string `json:"members,omitempty"`
	EnvID   string   `json:"env_id,omitempty"`
	ActorID string   `json:"actor_id,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Lunar   *Lunar   `json:"lunar,omitempty"`
	// Ticks is the session lifetime for SESSION_ENDED.
	Ticks uint64 `json:"ticks,omitempty"`
}

// Subscriber receives serialized events.
type Subscriber interface {
	Publish(e Event)
}

type SubscriberFunc func(e Event)

func (fn SubscriberFunc) Publish(e Event) { fn(e) }

// Feed fans typed callbacks out to listeners and serialized events out to
// subscribers, both in registration order.
type Feed struct {
	listeners   []Listener
	subscribers []Subscriber

	tick uint64
	day  map[directory.EnvID]int64
	now  func() time.Time
	// SessionEvents enables SESSION_ENDED records for subscribers.
	SessionEvents bool
}

func NewFeed() *Feed {
	return &Feed{day: map[directory.EnvID]int64{}, now: time.Now}
}

func (f *Feed) AddListener(l Listener) { f.listeners = append(f.listeners, l) }

func (f *Feed) Subscribe(s Subscriber) { f.subscribers = append(f.subscribers, s) }

// SetTick stamps subsequent events.
func (f *Feed) SetTick(tick uint64) { f.tick = tick }

// NoteDay records the day an upcoming lunar event refers to.
func (f *Feed) NoteDay(env directory.EnvID, day int64) { f.day[env] = day }

func (f *Feed) publish(e Event) {
	if len(f.subscribers) == 0 {
		return
	}
	e.ID = uuid.NewString()
	e.Tick = f.tick
	e.TS = f.now().UnixMilli()
	for _, s := range f.subscribers {
		s.Publish(e)
	}
}

func (f *Feed) GroupFormed(kind session.Kind, id string, members []directory.ActorID) {
	f.GroupFormedVariant(kind, "", id, members)
}

// GroupFormedVariant is GroupFormed with the ritual tier or other variant
// recorded on the serialized event.
func (f *Feed) GroupFormedVariant(kind session.Kind, variant, id string, members []directory.ActorID) {
	for _, l := range f.listeners {
		l.GroupFormed(kind, id, members)
	}
	ms := make([]string, len(members))
	for i, m := range members {
		ms[i] = string(m)
	}
	f.publish(Event{Type: TypeGroupFormed, Kind: kind.String(), Variant: variant, GroupID: id, Members: ms})
}

func (f *Feed) GroupDissolved(kind session.Kind, id string, reason string) {
	for _, l := range f.listeners {
		l.GroupDissolved(kind, id, reason)
	}
	f.publish(Event{Type: TypeGroupDissolved, Kind: kind.String(), GroupID: id, Reason: reason})
}

func (f *Feed) LunarPhaseChanged(env directory.EnvID, phase lunar.Phase) {
	for _, l := range f.listeners {
		l.LunarPhaseChanged(env, phase)
	}
	f.publish(Event{
		Type:  TypeLunarPhaseChanged,
		EnvID: string(env),
		Lunar: &Lunar{Phase: int(phase), Name: phase.String(), Multiplier: phase.Multiplier(), Day: f.day[env]},
	})
}

func (f *Feed) SessionEnded(s session.Session, reason session.EndReason) {
	for _, l := range f.listeners {
		l.SessionEnded(s, reason)
	}
	if !f.SessionEvents {
		return
	}
	e := Event{Type: TypeSessionEnded, Kind: s.Kind.String(), Variant: s.Variant, Reason: string(reason), Ticks: s.Ticks}
	if s.Owner.IsGroup() {
		e.GroupID = s.Owner.Group
	} else {
		e.ActorID = string(s.Owner.Actor)
	}
	f.publish(e)
}

var _ Listener = (*Feed)(nil)
