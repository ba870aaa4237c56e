package groups

import (
	"sort"
	"strings"

	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/session"
)

// Oracle is the slice of the qualification oracle the former needs.
type Oracle interface {
	Qualifies(id directory.ActorID) bool
	QualifyingIn(env directory.EnvID) []directory.ActorID
}

type Rules struct {
	Rituals       bool
	Entanglements bool
	Portals       bool
	// RitualMin is the qualifying-actor threshold for a ritual; 2 when unset.
	RitualMin int
	// PortalTTL is the fixed lifetime of a portal in ticks.
	PortalTTL uint64
}

// Tier maps a qualifying count at creation time to a ritual variant.
func Tier(q int) string {
	switch {
	case q <= 2:
		return "A"
	case q == 3:
		return "B"
	case q == 4:
		return "C"
	case q == 5:
		return "D"
	default:
		return "E"
	}
}

const entanglementKey = "entanglement"

func RitualKey(env directory.EnvID) string { return "ritual:" + string(env) }

// PortalKey is the unordered pair key for two environment kinds.
func PortalKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "portal:" + a + "|" + b
}

// Report lists what one poll changed.
type Report struct {
	Formed    []ID
	Dissolved []ID
}

func (r Report) Empty() bool { return len(r.Formed) == 0 && len(r.Dissolved) == 0 }

// Former decides which groups should exist. It only sees state at poll
// boundaries; changes between polls are not observed.
type Former struct {
	reg    *Registry
	dir    directory.Directory
	oracle Oracle
	rules  Rules
}

func NewFormer(reg *Registry, dir directory.Directory, oracle Oracle, rules Rules) *Former {
	return &Former{reg: reg, dir: dir, oracle: oracle, rules: rules}
}

func (f *Former) SetRules(rules Rules) { f.rules = rules }

func (f *Former) Rules() Rules { return f.rules }

func (f *Former) Poll(now uint64) Report {
	var rep Report
	qualifiers := map[directory.EnvID][]directory.ActorID{}
	envs := f.dir.Environments()
	for _, env := range envs {
		if q := f.oracle.QualifyingIn(env); len(q) > 0 {
			qualifiers[env] = q
		}
	}
	f.pollRituals(now, envs, qualifiers, &rep)
	f.pollEntanglement(now, envs, qualifiers, &rep)
	f.pollPortals(now, envs, qualifiers, &rep)
	return rep
}

func (f *Former) pollRituals(now uint64, envs []directory.EnvID, qualifiers map[directory.EnvID][]directory.ActorID, rep *Report) {
	min := f.rules.RitualMin
	if min < 2 {
		min = 2
	}
	for _, env := range envs {
		key := RitualKey(env)
		q := qualifiers[env]
		existing, exists := f.reg.ByKey(key)
		switch {
		case exists && (!f.rules.Rituals || len(q) < min):
			f.reg.Dissolve(existing.ID, ReasonCondition)
			rep.Dissolved = append(rep.Dissolved, existing.ID)
		case exists:
			f.reg.SetMembers(existing.ID, q)
		case f.rules.Rituals && len(q) >= min:
			g, _ := f.reg.Create(Proposal{
				Kind:    session.KindRitual,
				Variant: Tier(len(q)),
				Key:     key,
				Members: q,
				Envs:    []directory.EnvID{env},
			}, now)
			rep.Formed = append(rep.Formed, g.ID)
		}
	}
}

func (f *Former) pollEntanglement(now uint64, envs []directory.EnvID, qualifiers map[directory.EnvID][]directory.ActorID, rep *Report) {
	var all []directory.ActorID
	var spanned []directory.EnvID
	for _, env := range envs {
		if q := qualifiers[env]; len(q) > 0 {
			all = append(all, q...)
			spanned = append(spanned, env)
		}
	}

	existing, exists := f.reg.ByKey(entanglementKey)
	if exists {
		stillQualifies := false
		for id := range existing.Members {
			if f.oracle.Qualifies(id) {
				stillQualifies = true
				break
			}
		}
		if !f.rules.Entanglements || !stillQualifies {
			f.reg.Dissolve(existing.ID, ReasonCondition)
			rep.Dissolved = append(rep.Dissolved, existing.ID)
			return
		}
		f.reg.SetMembers(existing.ID, all)
		return
	}
	if !f.rules.Entanglements || len(spanned) < 2 {
		return
	}
	seed := make([]string, len(all))
	for i, id := range all {
		seed[i] = string(id)
	}
	sort.Strings(seed)
	g, _ := f.reg.Create(Proposal{
		Kind:    session.KindEntanglement,
		Key:     entanglementKey,
		Seed:    entanglementKey + ":" + strings.Join(seed, ","),
		Members: all,
		Envs:    spanned,
	}, now)
	rep.Formed = append(rep.Formed, g.ID)
}

func (f *Former) pollPortals(now uint64, envs []directory.EnvID, qualifiers map[directory.EnvID][]directory.ActorID, rep *Report) {
	byKind := map[string][]directory.ActorID{}
	envsByKind := map[string][]directory.EnvID{}
	for _, env := range envs {
		q := qualifiers[env]
		if len(q) == 0 {
			continue
		}
		kind := string(env)
		if e, ok := f.dir.Env(env); ok && e.Kind != "" {
			kind = e.Kind
		}
		byKind[kind] = append(byKind[kind], q...)
		envsByKind[kind] = append(envsByKind[kind], env)
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	for i := 0; i < len(kinds); i++ {
		for j := i + 1; j < len(kinds); j++ {
			a, b := kinds[i], kinds[j]
			key := PortalKey(a, b)
			members := append(append([]directory.ActorID(nil), byKind[a]...), byKind[b]...)
			if existing, ok := f.reg.ByKey(key); ok {
				f.reg.SetMembers(existing.ID, members)
				continue
			}
			if !f.rules.Portals || f.reg.ExpiredAt(key, now) {
				continue
			}
			g, _ := f.reg.Create(Proposal{
				Kind:     session.KindPortal,
				Key:      key,
				Members:  members,
				Envs:     append(append([]directory.EnvID(nil), envsByKind[a]...), envsByKind[b]...),
				EnvKinds: []string{a, b},
				TTL:      f.rules.PortalTTL,
			}, now)
			rep.Formed = append(rep.Formed, g.ID)
		}
	}
}
