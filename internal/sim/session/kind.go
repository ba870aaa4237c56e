package session

import (
	"fmt"

	"somnia.ai/internal/sim/directory"
)

type Kind uint8

const (
	KindSleepAmbient Kind = iota + 1
	KindNightSkip
	KindDream
	KindRitual
	KindEntanglement
	KindPortal
	KindLunarBurst
	KindClockDisplay
	KindTimeAcceleration
)

var kindNames = [...]string{
	KindSleepAmbient:     "sleep-ambient",
	KindNightSkip:        "night-skip",
	KindDream:            "dream",
	KindRitual:           "ritual",
	KindEntanglement:     "entanglement",
	KindPortal:           "portal",
	KindLunarBurst:       "lunar-burst",
	KindClockDisplay:     "clock-display",
	KindTimeAcceleration: "time-acceleration",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Grouped reports whether sessions of this kind are owned by groups.
func (k Kind) Grouped() bool {
	switch k {
	case KindRitual, KindEntanglement, KindPortal:
		return true
	}
	return false
}

func (k Kind) Valid() bool {
	return k >= KindSleepAmbient && k <= KindTimeAcceleration
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames)-1)
	for k := KindSleepAmbient; k <= KindTimeAcceleration; k++ {
		out = append(out, k)
	}
	return out
}

func ParseKind(s string) (Kind, bool) {
	for k := KindSleepAmbient; k <= KindTimeAcceleration; k++ {
		if kindNames[k] == s {
			return k, true
		}
	}
	return 0, false
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("unknown session kind %q", string(b))
	}
	*k = v
	return nil
}

// Owner is either one actor or one group; exactly one field is set.
type Owner struct {
	Actor directory.ActorID
	Group string
}

func ActorOwner(id directory.ActorID) Owner { return Owner{Actor: id} }

func GroupOwner(id string) Owner { return Owner{Group: id} }

func (o Owner) IsGroup() bool { return o.Group != "" }

func (o Owner) String() string {
	if o.Group != "" {
		return "group:" + o.Group
	}
	return "actor:" + string(o.Actor)
}

// Rule selects how the engine decides whether a session owner is still reachable.
type Rule uint8

const (
	// RuleSleeping: the actor qualifies (online, sleeping, not idle).
	RuleSleeping Rule = iota
	// RuleOnline: the actor is online.
	RuleOnline
	// RuleAccelerating: the actor qualifies and its environment clock runs fast.
	RuleAccelerating
	// RuleGroup: the owning group still exists.
	RuleGroup
)

func (r Rule) String() string {
	switch r {
	case RuleSleeping:
		return "sleeping"
	case RuleOnline:
		return "online"
	case RuleAccelerating:
		return "accelerating"
	case RuleGroup:
		return "group"
	}
	return fmt.Sprintf("rule(%d)", uint8(r))
}
