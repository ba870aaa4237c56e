// Package engine runs the tick loop that owns every session, group and lunar
// state. All registries are mutated only from the loop goroutine.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"somnia.ai/internal/platform/logonce"
	"somnia.ai/internal/sim/catalogs"
	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/events"
	"somnia.ai/internal/sim/groups"
	"somnia.ai/internal/sim/lunar"
	"somnia.ai/internal/sim/present"
	"somnia.ai/internal/sim/qualify"
	"somnia.ai/internal/sim/session"
	"somnia.ai/internal/sim/tuning"
)

type Config struct {
	Tuning    tuning.Tuning
	Catalogs  *catalogs.Catalogs
	Sink      present.Sink
	Messenger present.Messenger
	// Logger may be nil.
	Logger *log.Logger
	Now    func() time.Time
	// InboxSize defaults to 4096.
	InboxSize int
}

type Engine struct {
	tuning tuning.Tuning
	log    *log.Logger
	warn   *logonce.Logger
	msg    present.Messenger
	tracer trace.Tracer
	now    func() time.Time

	tick   atomic.Uint64
	status atomic.Value

	dir      *directory.Memory
	oracle   *qualify.Oracle
	sessions *session.Registry
	groups   *groups.Registry
	former   *groups.Former
	lunar    *lunar.Tracker
	present  *present.Dispatcher
	feed     *events.Feed

	qualified   map[directory.ActorID]bool
	accelerated map[directory.EnvID]bool
	update      UpdateNotice
	stats       counters

	inbox chan Input
	stop  chan struct{}

	// Released actors leave at the next tick start; the list is unbounded.
	releaseMu sync.Mutex
	released  []directory.ActorID
}

type counters struct {
	sessionsEnded map[session.EndReason]uint64
	groupsFormed  uint64
	lunarChanges  uint64
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 4096
	}
	if cfg.Catalogs == nil {
		cfg.Catalogs = catalogs.Defaults()
	}
	e := &Engine{
		log:         cfg.Logger,
		warn:        logonce.New(cfg.Logger),
		msg:         cfg.Messenger,
		tracer:      otel.Tracer("somnia.ai/internal/sim/engine"),
		now:         cfg.Now,
		dir:         directory.NewMemory(),
		feed:        events.NewFeed(),
		qualified:   map[directory.ActorID]bool{},
		accelerated: map[directory.EnvID]bool{},
		stats:       counters{sessionsEnded: map[session.EndReason]uint64{}},
		inbox:       make(chan Input, cfg.InboxSize),
		stop:        make(chan struct{}),
	}
	e.oracle = qualify.New(e.dir, cfg.Tuning.IdleAfterTicks)
	e.sessions = session.NewRegistry(nil, session.Options{
		Alive: e.alive,
		OnEnd: e.sessionEnded,
		Warn:  e.warn,
		Now:   cfg.Now,
	})
	e.groups = groups.NewRegistry(e.sessions, groups.Options{
		OnFormed: func(g groups.Group) {
			e.stats.groupsFormed++
			e.feed.GroupFormedVariant(g.Kind, g.Variant, string(g.ID), g.MemberList())
		},
		OnDissolved: func(g groups.Group, why groups.Reason) {
			e.feed.GroupDissolved(g.Kind, string(g.ID), string(why))
		},
		Now: cfg.Now,
	})
	e.former = groups.NewFormer(e.groups, e.dir, e.oracle, groups.Rules{})
	e.lunar = lunar.NewTracker(cfg.Tuning.NightWindow())
	e.present = present.NewDispatcher(present.Options{
		Directory: e.dir,
		Groups:    present.GroupsFunc(func(id string) []directory.ActorID { return e.groups.Members(groups.ID(id)) }),
		Sink:      cfg.Sink,
		Messenger: cfg.Messenger,
		Catalogs:  cfg.Catalogs,
		Warn:      e.warn,
	})
	e.sessions.SetPresenter(e.present)
	if err := e.configure(cfg.Tuning); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.publishStatus()
	return e, nil
}

// configure applies t to every component. It is used at construction and on reload.
func (e *Engine) configure(t tuning.Tuning) error {
	tables, err := t.Tables()
	if err != nil {
		return err
	}
	if !t.Features.Dreams {
		for k, tbl := range tables {
			if tbl.Next == session.KindDream {
				tbl.Next = 0
				tables[k] = tbl
			}
		}
	}
	e.tuning = t
	e.sessions.SetTables(tables)
	e.oracle.SetIdleAfter(t.IdleAfterTicks)
	e.lunar.SetNight(t.NightWindow())
	e.present.SetSettings(t.Presentation())
	e.former.SetRules(groups.Rules{
		Rituals:       t.Features.Rituals,
		Entanglements: t.Features.Entanglements,
		Portals:       t.Features.Portals,
		RitualMin:     t.RitualMin,
		PortalTTL:     t.PortalTTLTicks,
	})
	return nil
}

func (e *Engine) logf(format string, args ...any) {
	if e.log != nil {
		e.log.Printf(format, args...)
	}
}

func (e *Engine) Feed() *events.Feed { return e.feed }

func (e *Engine) Inbox() chan<- Input { return e.inbox }

// Submit queues in without blocking and reports whether it was accepted.
func (e *Engine) Submit(in Input) bool {
	select {
	case e.inbox <- in:
		return true
	default:
		e.warn.Printf("inbox-full", "engine: inbox full; dropping inputs")
		return false
	}
}

// Release queues actors to leave at the start of the next tick. Unlike
// Submit it never drops, so disconnect cleanup survives a full inbox.
func (e *Engine) Release(actors ...directory.ActorID) {
	if len(actors) == 0 {
		return
	}
	e.releaseMu.Lock()
	e.released = append(e.released, actors...)
	e.releaseMu.Unlock()
}

func (e *Engine) takeReleased() []directory.ActorID {
	e.releaseMu.Lock()
	defer e.releaseMu.Unlock()
	out := e.released
	e.released = nil
	return out
}

func (e *Engine) CurrentTick() uint64 { return e.tick.Load() }

// Tuning is only safe to call from the loop goroutine or before Run.
func (e *Engine) Tuning() tuning.Tuning { return e.tuning }

func (e *Engine) Run(ctx context.Context) error {
	rate := e.tuning.TickRateHz
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	var pending []Input
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-e.stop:
			e.shutdown()
			return nil
		case in := <-e.inbox:
			pending = append(pending, in)
		case <-ticker.C:
			e.step(ctx, pending)
			pending = pending[:0]
			if e.tuning.TickRateHz != rate {
				rate = e.tuning.TickRateHz
				ticker.Reset(time.Second / time.Duration(rate))
			}
		}
	}
}

func (e *Engine) Stop() { close(e.stop) }

// StepOnce advances a single tick with the same ordering as Run. It is meant
// for tests and replays, and must not be mixed with a running loop.
func (e *Engine) StepOnce(inputs ...Input) uint64 {
	tick := e.tick.Load()
	e.step(context.Background(), inputs)
	return tick
}

func (e *Engine) shutdown() {
	e.groups.DissolveAll(groups.ReasonShutdown)
	e.publishStatus()
}

func (e *Engine) step(ctx context.Context, inputs []Input) {
	now := e.tick.Load()
	e.oracle.SetNow(now)
	e.feed.SetTick(now)

	for _, id := range e.takeReleased() {
		ActorLeave{Actor: id}.apply(e)
	}
	for _, in := range inputs {
		in.apply(e)
	}

	e.groups.Prune(e.oracle.Qualifies)
	e.groups.Expire(now)
	e.startQualifiers(now)
	e.sessions.Step(now)

	t := e.tuning
	if now%uint64(t.FormationPollTicks) == 0 {
		e.pollFormation(ctx, now)
	}
	if t.Features.Lunar && now%uint64(t.LunarPollTicks) == 0 {
		e.pollLunar(ctx, now)
	}
	if now%uint64(t.StatusEveryTicks) == 0 {
		e.publishStatus()
	}
	e.tick.Store(now + 1)
}

// startQualifiers starts the per-actor sessions for actors that began
// qualifying since the previous tick.
func (e *Engine) startQualifiers(now uint64) {
	seen := map[directory.ActorID]bool{}
	f := e.tuning.Features
	for _, id := range e.dir.Actors() {
		q := e.oracle.Qualifies(id)
		seen[id] = true
		if q && !e.qualified[id] && f.Animations {
			owner := session.ActorOwner(id)
			e.sessions.Start(owner, session.KindSleepAmbient, "", now)
			if f.ClockDisplay {
				e.sessions.Start(owner, session.KindClockDisplay, "", now)
			}
			if env, ok := e.dir.Location(id); ok && e.accelerated[env] && f.TimeAcceleration {
				e.sessions.Start(owner, session.KindTimeAcceleration, "", now)
			}
		}
		e.qualified[id] = q
	}
	for id := range e.qualified {
		if !seen[id] {
			delete(e.qualified, id)
		}
	}
}

func (e *Engine) pollFormation(ctx context.Context, now uint64) {
	_, span := e.tracer.Start(ctx, "formation.poll", trace.WithAttributes(attribute.Int64("tick", int64(now))))
	defer span.End()

	rep := e.former.Poll(now)
	span.SetAttributes(
		attribute.Int("groups.formed", len(rep.Formed)),
		attribute.Int("groups.dissolved", len(rep.Dissolved)),
		attribute.Int("groups.active", e.groups.Len()),
	)
	if e.tuning.Features.NightSkip && e.tuning.Features.Animations {
		e.pollNightSkip(now)
	}
}

// pollNightSkip starts night-skip for every qualifier of an environment where
// enough online actors sleep at night.
func (e *Engine) pollNightSkip(now uint64) {
	night := e.tuning.NightWindow()
	for _, env := range e.dir.Environments() {
		rec, ok := e.dir.Env(env)
		if !ok || !rec.Observed || !night.Contains(rec.TimeOfDay) {
			continue
		}
		online, qualifying := e.oracle.Census(env)
		if online == 0 || qualifying*100 < e.tuning.NightSkipPercent*online {
			continue
		}
		for _, id := range e.oracle.QualifyingIn(env) {
			if !e.sessions.IsActive(session.ActorOwner(id), session.KindNightSkip) {
				e.sessions.Start(session.ActorOwner(id), session.KindNightSkip, "", now)
			}
		}
	}
}

func (e *Engine) pollLunar(ctx context.Context, now uint64) {
	_, span := e.tracer.Start(ctx, "lunar.poll", trace.WithAttributes(attribute.Int64("tick", int64(now))))
	defer span.End()

	changes := e.lunar.Poll(e.dir)
	announced := 0
	for _, c := range changes {
		e.stats.lunarChanges++
		if !c.Announced {
			continue
		}
		announced++
		e.feed.NoteDay(c.Env, c.Day)
		e.feed.LunarPhaseChanged(c.Env, c.To)
		if e.tuning.Features.Animations {
			for _, id := range e.dir.ActorsIn(c.Env) {
				if e.dir.IsOnline(id) {
					e.sessions.Start(session.ActorOwner(id), session.KindLunarBurst, "", now)
				}
			}
		}
		if e.msg != nil {
			text := fmt.Sprintf("The moon is now %s (x%.2f).", c.To, c.To.Multiplier())
			if err := e.msg.BroadcastTo(c.Env, text); err != nil {
				e.warn.Printf("lunar-broadcast:"+err.Error(), "engine: lunar broadcast failed: %v", err)
			}
		}
	}
	span.SetAttributes(attribute.Int("lunar.changes", len(changes)), attribute.Int("lunar.announced", announced))
}

func (e *Engine) alive(owner session.Owner, rule session.Rule) bool {
	if owner.IsGroup() {
		return e.groups.Exists(groups.ID(owner.Group))
	}
	switch rule {
	case session.RuleOnline:
		return e.dir.IsOnline(owner.Actor)
	case session.RuleAccelerating:
		env, ok := e.dir.Location(owner.Actor)
		return ok && e.accelerated[env] && e.oracle.Qualifies(owner.Actor)
	case session.RuleGroup:
		return false
	}
	return e.oracle.Qualifies(owner.Actor)
}

func (e *Engine) sessionEnded(s session.Session, reason session.EndReason) {
	e.stats.sessionsEnded[reason]++
	e.groups.SessionEnded(s, reason)
	e.feed.SessionEnded(s, reason)
}

// IsActorInSession reports whether actor takes part in a session of kind,
// either its own or through a group. Loop goroutine only.
func (e *Engine) IsActorInSession(actor directory.ActorID, kind session.Kind) bool {
	if !kind.Grouped() {
		return e.sessions.IsActive(session.ActorOwner(actor), kind)
	}
	for _, id := range e.groups.GroupsOf(actor) {
		if g, ok := e.groups.Get(id); ok && g.Kind == kind {
			return true
		}
	}
	return false
}

// ActiveGroupCount is safe only from the loop goroutine; use Status elsewhere.
func (e *Engine) ActiveGroupCount(kind session.Kind) int { return e.groups.ActiveCount(kind) }

func (e *Engine) Directory() directory.Directory { return e.dir }

func (e *Engine) Sessions() *session.Registry { return e.sessions }

func (e *Engine) Groups() *groups.Registry { return e.groups }

func (e *Engine) Lunar() *lunar.Tracker { return e.lunar }
