package session

import (
	"fmt"
	"time"

	"somnia.ai/internal/platform/logonce"
)

type State uint8

const (
	StateEntering State = iota
	StateActive
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateEntering:
		return "entering"
	case StateActive:
		return "active"
	case StateTerminal:
		return "terminal"
	}
	return "unknown"
}

type EndReason string

const (
	EndCompleted   EndReason = "completed"
	EndUnqualified EndReason = "unqualified"
	EndCancelled   EndReason = "cancelled"
	EndReplaced    EndReason = "replaced"
	EndOwnerGone   EndReason = "owner_gone"
)

// Handle identifies one session instance. It packs the arena slot and the
// slot generation, so a handle never resolves to a later session in the same slot.
type Handle uint64

func makeHandle(idx, gen uint32) Handle { return Handle(uint64(gen)<<32 | uint64(idx+1)) }

func (h Handle) slot() (idx uint32, gen uint32, ok bool) {
	lo := uint32(h)
	if lo == 0 {
		return 0, 0, false
	}
	return lo - 1, uint32(h >> 32), true
}

func (h Handle) String() string { return fmt.Sprintf("S%x", uint64(h)) }

type Session struct {
	Handle  Handle
	Kind    Kind
	Variant string
	Owner   Owner

	State       State
	Phase       int
	TickInPhase int
	// Loops counts completed passes for looping tables.
	Loops int
	Ticks uint64

	CreatedTick uint64
	CreatedAt   time.Time
}

// Frame is what the presentation callback receives on every tick.
type Frame struct {
	Session
	PhaseName  string
	PhaseTicks int
	Now        uint64
}

// PhaseStart reports whether this frame is the first tick of its phase.
func (f Frame) PhaseStart() bool { return f.TickInPhase == 0 }

type Presenter interface {
	Present(f Frame) error
}

type PresenterFunc func(f Frame) error

func (fn PresenterFunc) Present(f Frame) error { return fn(f) }

type Options struct {
	Present Presenter
	// Alive is consulted before every step; a false result ends the session as unqualified.
	Alive func(owner Owner, rule Rule) bool
	// OnEnd runs after a session is removed from the registry.
	OnEnd func(s Session, reason EndReason)
	Warn  *logonce.Logger
	Now   func() time.Time
}

type slot struct {
	gen     uint32
	used    bool
	born    uint64
	session Session
	table   Table
}

type key struct {
	owner Owner
	kind  Kind
}

type chainReq struct {
	owner   Owner
	kind    Kind
	variant string
}

// Registry owns at most one live session per (owner, kind). Sessions live in an
// arena of slots iterated once per Step. It is not safe for concurrent use; the
// engine calls it from the tick loop only.
type Registry struct {
	opts   Options
	tables Tables

	slots []slot
	free  []uint32
	byKey map[key]Handle

	steps    uint64
	stepping bool
}

func NewRegistry(tables Tables, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:   opts,
		tables: tables,
		byKey:  map[key]Handle{},
	}
}

// SetTables swaps the phase tables for sessions started from now on.
func (r *Registry) SetTables(tables Tables) { r.tables = tables }

func (r *Registry) SetPresenter(p Presenter) { r.opts.Present = p }

// Start cancels any live session for (owner, kind) and starts a fresh one.
func (r *Registry) Start(owner Owner, kind Kind, variant string, now uint64) Handle {
	if h, ok := r.byKey[key{owner, kind}]; ok {
		r.remove(h, EndReplaced)
	}
	t, ok := r.tables.Lookup(kind, variant)
	if !ok {
		r.opts.Warn.Printf("table:"+kind.String()+"/"+variant, "session: no phase table for %s/%s; using default", kind, variant)
		t = fallbackTable(kind, variant)
	}

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot{})
		idx = uint32(len(r.slots) - 1)
	}
	sl := &r.slots[idx]
	sl.gen++
	sl.used = true
	sl.table = t
	sl.born = 0
	if r.stepping {
		sl.born = r.steps
	}
	h := makeHandle(idx, sl.gen)
	sl.session = Session{
		Handle:      h,
		Kind:        kind,
		Variant:     variant,
		Owner:       owner,
		State:       StateEntering,
		CreatedTick: now,
		CreatedAt:   r.opts.Now(),
	}
	r.byKey[key{owner, kind}] = h
	return h
}

// Cancel ends the session for (owner, kind) if one exists.
func (r *Registry) Cancel(owner Owner, kind Kind) bool {
	return r.CancelWith(owner, kind, EndCancelled)
}

func (r *Registry) CancelWith(owner Owner, kind Kind, reason EndReason) bool {
	h, ok := r.byKey[key{owner, kind}]
	if !ok {
		return false
	}
	r.remove(h, reason)
	return true
}

// CancelOwner ends every session owned by owner and returns how many ended.
func (r *Registry) CancelOwner(owner Owner, reason EndReason) int {
	n := 0
	for _, k := range Kinds() {
		if h, ok := r.byKey[key{owner, k}]; ok {
			r.remove(h, reason)
			n++
		}
	}
	return n
}

func (r *Registry) IsActive(owner Owner, kind Kind) bool {
	_, ok := r.byKey[key{owner, kind}]
	return ok
}

func (r *Registry) Lookup(owner Owner, kind Kind) (Session, bool) {
	h, ok := r.byKey[key{owner, kind}]
	if !ok {
		return Session{}, false
	}
	return r.Get(h)
}

func (r *Registry) Get(h Handle) (Session, bool) {
	sl := r.resolve(h)
	if sl == nil {
		return Session{}, false
	}
	return sl.session, true
}

// PhaseName returns the current phase name of a live session.
func (r *Registry) PhaseName(h Handle) string {
	sl := r.resolve(h)
	if sl == nil {
		return ""
	}
	return sl.table.Phases[sl.session.Phase].Name
}

func (r *Registry) Len() int { return len(r.byKey) }

func (r *Registry) CountKind(kind Kind) int {
	n := 0
	for k := range r.byKey {
		if k.kind == kind {
			n++
		}
	}
	return n
}

// Counts returns live sessions per kind.
func (r *Registry) Counts() map[Kind]int {
	out := map[Kind]int{}
	for k := range r.byKey {
		out[k.kind]++
	}
	return out
}

// Owned lists live sessions of owner in kind order.
func (r *Registry) Owned(owner Owner) []Session {
	var out []Session
	for _, k := range Kinds() {
		if h, ok := r.byKey[key{owner, k}]; ok {
			if s, ok := r.Get(h); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Step advances every live session by one tick. Sessions started during the
// step (chained or from callbacks) first advance on the next step.
func (r *Registry) Step(now uint64) {
	r.steps++
	r.stepping = true
	var chain []chainReq

	for i := 0; i < len(r.slots); i++ {
		if !r.slots[i].used || (r.slots[i].born != 0 && r.slots[i].born == r.steps) {
			continue
		}
		h := r.slots[i].session.Handle
		owner, rule := r.slots[i].session.Owner, r.slots[i].table.Rule
		if r.opts.Alive != nil && !r.opts.Alive(owner, rule) {
			r.remove(h, EndUnqualified)
			continue
		}

		sl := &r.slots[i]
		if sl.session.State == StateEntering {
			sl.session.State = StateActive
		}
		phase := sl.table.Phases[sl.session.Phase]
		frame := Frame{Session: sl.session, PhaseName: phase.Name, PhaseTicks: phase.Ticks, Now: now}
		r.present(frame)

		// present may have started sessions and grown the arena.
		sl = &r.slots[i]
		if !sl.used || sl.session.Handle != h {
			continue
		}
		s := &sl.session
		s.TickInPhase++
		s.Ticks++
		if s.TickInPhase < phase.Ticks {
			continue
		}
		s.TickInPhase = 0
		s.Phase++
		if s.Phase < len(sl.table.Phases) {
			continue
		}
		if sl.table.Loops() {
			s.Phase = sl.table.LoopFrom
			s.Loops++
			continue
		}
		if next := sl.table.Next; next != 0 {
			chain = append(chain, chainReq{owner: s.Owner, kind: next, variant: s.Variant})
		}
		r.remove(h, EndCompleted)
	}

	for _, c := range chain {
		t, ok := r.tables.Lookup(c.kind, c.variant)
		rule := t.Rule
		if !ok {
			rule = fallbackTable(c.kind, c.variant).Rule
		}
		if r.opts.Alive != nil && !r.opts.Alive(c.owner, rule) {
			continue
		}
		r.Start(c.owner, c.kind, c.variant, now)
	}
	r.stepping = false
}

func (r *Registry) present(f Frame) {
	if r.opts.Present == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.opts.Warn.Printf(fmt.Sprintf("panic:%s:%v", f.Kind, v), "session: presentation for %s panicked: %v", f.Kind, v)
		}
	}()
	if err := r.opts.Present.Present(f); err != nil {
		r.opts.Warn.Printf("err:"+f.Kind.String()+":"+err.Error(), "session: presentation for %s failed: %v", f.Kind, err)
	}
}

func (r *Registry) resolve(h Handle) *slot {
	idx, gen, ok := h.slot()
	if !ok || int(idx) >= len(r.slots) {
		return nil
	}
	sl := &r.slots[idx]
	if !sl.used || sl.gen != gen {
		return nil
	}
	return sl
}

func (r *Registry) remove(h Handle, reason EndReason) {
	sl := r.resolve(h)
	if sl == nil {
		return
	}
	s := sl.session
	s.State = StateTerminal
	delete(r.byKey, key{s.Owner, s.Kind})
	sl.used = false
	sl.session = Session{}
	sl.table = Table{}
	idx, _, _ := h.slot()
	r.free = append(r.free, idx)
	if r.opts.OnEnd != nil {
		r.opts.OnEnd(s, reason)
	}
}
