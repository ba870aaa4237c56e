package groups

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"time"

	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/session"
)

type ID string

type Reason string

const (
	ReasonCondition Reason = "condition"
	ReasonVacated   Reason = "vacated"
	ReasonExpired   Reason = "expired"
	ReasonSession   Reason = "session_ended"
	ReasonShutdown  Reason = "shutdown"
)

type Group struct {
	ID      ID
	Kind    session.Kind
	Variant string
	Key     string

	Envs     []directory.EnvID
	EnvKinds []string
	Members  map[directory.ActorID]struct{}

	CreatedTick uint64
	CreatedAt   time.Time
	// TTL in ticks; zero means the group lives until its condition fails.
	TTL uint64

	Session session.Handle
}

func (g *Group) MemberList() []directory.ActorID {
	out := make([]directory.ActorID, 0, len(g.Members))
	for id := range g.Members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Group) Has(id directory.ActorID) bool {
	_, ok := g.Members[id]
	return ok
}

// Expired reports whether a time-bounded group is past its TTL at now.
func (g *Group) Expired(now uint64) bool {
	return g.TTL > 0 && now > g.CreatedTick+g.TTL
}

func (g *Group) clone() Group {
	c := *g
	c.Members = make(map[directory.ActorID]struct{}, len(g.Members))
	for id := range g.Members {
		c.Members[id] = struct{}{}
	}
	c.Envs = append([]directory.EnvID(nil), g.Envs...)
	c.EnvKinds = append([]string(nil), g.EnvKinds...)
	return c
}

// Proposal describes a group to create.
type Proposal struct {
	Kind    session.Kind
	Variant string
	// Key deduplicates groups: at most one live group per key.
	Key string
	// Seed feeds the derived id; defaults to Key.
	Seed     string
	Members  []directory.ActorID
	Envs     []directory.EnvID
	EnvKinds []string
	TTL      uint64
}

// DeriveID hashes seed into a stable group id for kind.
func DeriveID(kind session.Kind, seed string) ID {
	sum := sha256.Sum256([]byte(seed))
	return ID(kind.String() + "-" + hex.EncodeToString(sum[:])[:12])
}

type Options struct {
	OnFormed    func(g Group)
	OnDissolved func(g Group, reason Reason)
	Now         func() time.Time
}

// Registry tracks live groups and owns their group-scoped sessions.
// Destroying a group cancels its session in the same call.
type Registry struct {
	sessions *session.Registry
	opts     Options

	groups map[ID]*Group
	byKey  map[string]ID

	// Keys dissolved by Expire on expiredTick; they may not re-form that tick.
	expiredTick uint64
	expiredKeys map[string]struct{}
}

func NewRegistry(sessions *session.Registry, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		sessions: sessions,
		opts:     opts,
		groups:   map[ID]*Group{},
		byKey:    map[string]ID{},
	}
}

func (r *Registry) Sessions() *session.Registry { return r.sessions }

// Create forms a group for p unless one already exists for p.Key, in
// which case the existing group is returned with created=false.
func (r *Registry) Create(p Proposal, now uint64) (g Group, created bool) {
	if id, ok := r.byKey[p.Key]; ok {
		return r.groups[id].clone(), false
	}
	seed := p.Seed
	if seed == "" {
		seed = p.Key
	}
	ng := &Group{
		ID:          DeriveID(p.Kind, seed),
		Kind:        p.Kind,
		Variant:     p.Variant,
		Key:         p.Key,
		Envs:        append([]directory.EnvID(nil), p.Envs...),
		EnvKinds:    append([]string(nil), p.EnvKinds...),
		Members:     map[directory.ActorID]struct{}{},
		CreatedTick: now,
		CreatedAt:   r.opts.Now(),
		TTL:         p.TTL,
	}
	for _, id := range p.Members {
		ng.Members[id] = struct{}{}
	}
	if _, clash := r.groups[ng.ID]; clash {
		// Same seed as a live group under another key; salt with the tick.
		ng.ID = DeriveID(p.Kind, seed+"#"+strconv.FormatUint(now, 10))
	}
	r.groups[ng.ID] = ng
	r.byKey[p.Key] = ng.ID
	ng.Session = r.sessions.Start(session.GroupOwner(string(ng.ID)), p.Kind, p.Variant, now)
	if r.opts.OnFormed != nil {
		r.opts.OnFormed(ng.clone())
	}
	return ng.clone(), true
}

// Dissolve tears a group down and cancels its session. Unknown ids are a no-op.
func (r *Registry) Dissolve(id ID, reason Reason) bool {
	g := r.groups[id]
	if g == nil {
		return false
	}
	delete(r.groups, id)
	if r.byKey[g.Key] == id {
		delete(r.byKey, g.Key)
	}
	r.sessions.CancelWith(session.GroupOwner(string(id)), g.Kind, session.EndOwnerGone)
	if r.opts.OnDissolved != nil {
		r.opts.OnDissolved(g.clone(), reason)
	}
	return true
}

// SessionEnded dissolves the group whose session ended on its own.
func (r *Registry) SessionEnded(s session.Session, reason session.EndReason) {
	if !s.Owner.IsGroup() || reason == session.EndOwnerGone || reason == session.EndReplaced {
		return
	}
	id := ID(s.Owner.Group)
	if g := r.groups[id]; g != nil && g.Session == s.Handle {
		r.Dissolve(id, ReasonSession)
	}
}

func (r *Registry) Get(id ID) (Group, bool) {
	g := r.groups[id]
	if g == nil {
		return Group{}, false
	}
	return g.clone(), true
}

// Members returns the member ids of a live group without copying the group.
func (r *Registry) Members(id ID) []directory.ActorID {
	g := r.groups[id]
	if g == nil {
		return nil
	}
	return g.MemberList()
}

func (r *Registry) Exists(id ID) bool { return r.groups[id] != nil }

func (r *Registry) ByKey(key string) (Group, bool) {
	id, ok := r.byKey[key]
	if !ok {
		return Group{}, false
	}
	return r.Get(id)
}

func (r *Registry) SetMembers(id ID, members []directory.ActorID) {
	g := r.groups[id]
	if g == nil {
		return
	}
	g.Members = make(map[directory.ActorID]struct{}, len(members))
	for _, m := range members {
		g.Members[m] = struct{}{}
	}
}

// Prune drops members for which keep is false. Condition-based groups left
// empty are dissolved; time-bounded groups stay until they expire.
func (r *Registry) Prune(keep func(directory.ActorID) bool) []ID {
	var dissolved []ID
	for _, id := range r.ids() {
		g := r.groups[id]
		for m := range g.Members {
			if !keep(m) {
				delete(g.Members, m)
			}
		}
		if len(g.Members) == 0 && g.TTL == 0 {
			dissolved = append(dissolved, id)
		}
	}
	for _, id := range dissolved {
		r.Dissolve(id, ReasonVacated)
	}
	return dissolved
}

// Expire dissolves groups whose TTL has elapsed.
func (r *Registry) Expire(now uint64) []ID {
	var out []ID
	for _, id := range r.ids() {
		if r.groups[id].Expired(now) {
			out = append(out, id)
		}
	}
	if r.expiredTick != now {
		r.expiredTick = now
		r.expiredKeys = nil
	}
	for _, id := range out {
		if r.expiredKeys == nil {
			r.expiredKeys = map[string]struct{}{}
		}
		r.expiredKeys[r.groups[id].Key] = struct{}{}
		r.Dissolve(id, ReasonExpired)
	}
	return out
}

// ExpiredAt reports whether a group under key was expired at tick now.
func (r *Registry) ExpiredAt(key string, now uint64) bool {
	if r.expiredTick != now {
		return false
	}
	_, ok := r.expiredKeys[key]
	return ok
}

// GroupsOf looks membership up; actors never hold group references.
func (r *Registry) GroupsOf(actor directory.ActorID) []ID {
	var out []ID
	for _, id := range r.ids() {
		if r.groups[id].Has(actor) {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) ActiveCount(kind session.Kind) int {
	n := 0
	for _, g := range r.groups {
		if g.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Registry) Len() int { return len(r.groups) }

// List returns copies of every live group ordered by id.
func (r *Registry) List() []Group {
	out := make([]Group, 0, len(r.groups))
	for _, id := range r.ids() {
		out = append(out, r.groups[id].clone())
	}
	return out
}

// DissolveAll tears every group down, e.g. at shutdown.
func (r *Registry) DissolveAll(reason Reason) {
	for _, id := range r.ids() {
		r.Dissolve(id, reason)
	}
}

func (r *Registry) ids() []ID {
	out := make([]ID, 0, len(r.groups))
	for id := range r.groups {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
