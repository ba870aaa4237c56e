// Package present turns session frames into presentation calls on the game
// adapter. Content is picked from a per-kind strategy table.
package present

import (
	"errors"
	"fmt"
	"strconv"

	"somnia.ai/internal/platform/logonce"
	"somnia.ai/internal/sim/catalogs"
	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/session"
)

// Target is where a presentation call lands: an actor, or a whole environment
// when Actor is empty.
type Target struct {
	Env   directory.EnvID
	Actor directory.ActorID
}

// Sink receives cosmetic calls. Implementations must not block.
type Sink interface {
	Emit(at Target, effect string, intensity float64) error
	PlayCue(at Target, cue string, volume, pitch float64) error
}

// Messenger receives text for actors and environments. Implementations must not block.
type Messenger interface {
	SendTo(actor directory.ActorID, text string) error
	BroadcastTo(env directory.EnvID, text string) error
}

type Style struct {
	Effect string
	Cue    string
	// Every is the emit cadence in ticks.
	Every  int
	Volume float64
	Pitch  float64
}

type Settings struct {
	Enabled   bool
	Intensity float64
	DayLength int
	Themes    []string
	Styles    map[session.Kind]Style
}

const (
	MinIntensity = 0.1
	MaxIntensity = 3.0
)

// DefaultSettings matches the builtin catalogs.
func DefaultSettings() Settings {
	return Settings{
		Enabled:   true,
		Intensity: 1.0,
		DayLength: 24000,
		Themes:    []string{"a quiet sea", "falling stars", "an endless library", "a forest of glass"},
		Styles: map[session.Kind]Style{
			session.KindSleepAmbient:     {Effect: "mist", Cue: "hum", Every: 10, Volume: 0.4, Pitch: 0.8},
			session.KindDream:            {Effect: "shimmer", Cue: "choir", Every: 5, Volume: 0.5, Pitch: 1.0},
			session.KindClockDisplay:     {Effect: "glow", Every: 20, Volume: 0.3, Pitch: 1.2},
			session.KindNightSkip:        {Effect: "starfall", Cue: "whoosh", Every: 10, Volume: 0.6, Pitch: 1.0},
			session.KindTimeAcceleration: {Effect: "vortex", Cue: "whoosh", Every: 4, Volume: 0.5, Pitch: 1.5},
			session.KindLunarBurst:       {Effect: "aurora", Cue: "bell", Every: 10, Volume: 0.8, Pitch: 1.0},
			session.KindRitual:           {Effect: "ember", Cue: "heartbeat", Every: 2, Volume: 0.7, Pitch: 1.0},
			session.KindEntanglement:     {Effect: "thread", Cue: "drone", Every: 10, Volume: 0.5, Pitch: 0.6},
			session.KindPortal:           {Effect: "ripple", Cue: "drone", Every: 5, Volume: 0.9, Pitch: 0.5},
		},
	}
}

// Groups resolves group owners to their current members.
type Groups interface {
	Members(group string) []directory.ActorID
}

type GroupsFunc func(group string) []directory.ActorID

func (fn GroupsFunc) Members(group string) []directory.ActorID { return fn(group) }

// Dispatcher implements session.Presenter.
type Dispatcher struct {
	dir      directory.Directory
	groups   Groups
	sink     Sink
	msg      Messenger
	catalogs *catalogs.Catalogs
	warn     *logonce.Logger

	settings   Settings
	generators map[session.Kind]Generator
}

type Options struct {
	Directory directory.Directory
	Groups    Groups
	Sink      Sink
	Messenger Messenger
	Catalogs  *catalogs.Catalogs
	Warn      *logonce.Logger
	Settings  Settings
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Catalogs == nil {
		opts.Catalogs = catalogs.Defaults()
	}
	d := &Dispatcher{
		dir:        opts.Directory,
		groups:     opts.Groups,
		sink:       opts.Sink,
		msg:        opts.Messenger,
		catalogs:   opts.Catalogs,
		warn:       opts.Warn,
		settings:   opts.Settings,
		generators: map[session.Kind]Generator{},
	}
	for k, g := range defaultGenerators {
		d.generators[k] = g
	}
	return d
}

// Register installs or replaces the generator for kind.
func (d *Dispatcher) Register(kind session.Kind, g Generator) { d.generators[kind] = g }

func (d *Dispatcher) SetSettings(s Settings) { d.settings = s }

func (d *Dispatcher) SetCatalogs(c *catalogs.Catalogs) {
	if c != nil {
		d.catalogs = c
	}
}

func (d *Dispatcher) Settings() Settings { return d.settings }

// Present runs the generator for f's kind. Sink errors are returned joined so
// the session registry can log them; they never end the session.
func (d *Dispatcher) Present(f session.Frame) (err error) {
	if !d.settings.Enabled {
		return nil
	}
	gen := d.generators[f.Kind]
	if gen == nil {
		return nil
	}
	c := &Call{Frame: f, d: d, Style: d.style(f.Kind)}
	c.Targets = d.targets(f.Owner)
	if len(c.Targets) == 0 {
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("present: %s generator panicked: %v", f.Kind, v)
		}
	}()
	gen(c)
	return errors.Join(c.errs...)
}

func (d *Dispatcher) targets(owner session.Owner) []Target {
	if !owner.IsGroup() {
		env, _ := d.dir.Location(owner.Actor)
		return []Target{{Env: env, Actor: owner.Actor}}
	}
	if d.groups == nil {
		return nil
	}
	members := d.groups.Members(owner.Group)
	out := make([]Target, 0, len(members))
	for _, id := range members {
		env, _ := d.dir.Location(id)
		out = append(out, Target{Env: env, Actor: id})
	}
	return out
}

// style resolves configured identifiers against the catalogs, substituting
// defaults for unknown ones.
func (d *Dispatcher) style(kind session.Kind) Style {
	s := d.settings.Styles[kind]
	if s.Effect != "" {
		if id, ok := d.catalogs.Effects.Resolve(s.Effect); !ok {
			d.warn.Printf("effect:"+s.Effect, "present: unknown effect %q for %s; using %q", s.Effect, kind, id)
			s.Effect = id
		}
	}
	if s.Cue != "" {
		if id, ok := d.catalogs.Cues.Resolve(s.Cue); !ok {
			d.warn.Printf("cue:"+s.Cue, "present: unknown cue %q for %s; using %q", s.Cue, kind, id)
			s.Cue = id
		}
	}
	if s.Every <= 0 {
		s.Every = 10
	}
	if s.Volume < 0 || s.Volume > 1 {
		d.warn.Printf("volume:"+kind.String(), "present: volume %v for %s out of [0,1]; using 0.5", s.Volume, kind)
		s.Volume = 0.5
	}
	if s.Pitch <= 0 || s.Pitch > 2 {
		if s.Pitch != 0 {
			d.warn.Printf("pitch:"+kind.String(), "present: pitch %v for %s out of (0,2]; using 1", s.Pitch, kind)
		}
		s.Pitch = 1
	}
	return s
}

func (d *Dispatcher) intensity(effect string, scale float64) float64 {
	base := d.settings.Intensity
	if base < MinIntensity || base > MaxIntensity {
		d.warn.Printf("intensity:"+strconv.FormatFloat(base, 'g', -1, 64), "present: intensity %v out of [%v,%v]; using 1", base, MinIntensity, MaxIntensity)
		base = 1
	}
	v := base * scale
	if def, ok := d.catalogs.Effects.Defs[effect]; ok && def.MaxIntensity > 0 && v > def.MaxIntensity {
		v = def.MaxIntensity
	}
	return v
}

// Call is the per-frame context handed to a generator.
type Call struct {
	Frame   session.Frame
	Targets []Target
	Style   Style

	d    *Dispatcher
	errs []error
}

func (c *Call) fail(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

// Due reports whether the frame falls on the style's emit cadence.
func (c *Call) Due() bool { return c.Frame.TickInPhase%c.Style.Every == 0 }

// Emit sends the style effect to every target at scale times the base intensity.
func (c *Call) Emit(scale float64) {
	if c.d.sink == nil || c.Style.Effect == "" {
		return
	}
	v := c.d.intensity(c.Style.Effect, scale)
	for _, t := range c.Targets {
		c.fail(c.d.sink.Emit(t, c.Style.Effect, v))
	}
}

func (c *Call) Cue() {
	if c.d.sink == nil || c.Style.Cue == "" {
		return
	}
	for _, t := range c.Targets {
		c.fail(c.d.sink.PlayCue(t, c.Style.Cue, c.Style.Volume, c.Style.Pitch))
	}
}

// Tell sends text to every target actor.
func (c *Call) Tell(text string) {
	if c.d.msg == nil {
		return
	}
	for _, t := range c.Targets {
		c.fail(c.d.msg.SendTo(t.Actor, text))
	}
}

// Broadcast sends text once to each distinct environment among the targets.
func (c *Call) Broadcast(text string) {
	if c.d.msg == nil {
		return
	}
	seen := map[directory.EnvID]bool{}
	for _, t := range c.Targets {
		if t.Env == "" || seen[t.Env] {
			continue
		}
		seen[t.Env] = true
		c.fail(c.d.msg.BroadcastTo(t.Env, text))
	}
}

// Env returns the environment record of the first target.
func (c *Call) Env() (directory.Environment, bool) {
	if len(c.Targets) == 0 || c.Targets[0].Env == "" {
		return directory.Environment{}, false
	}
	return c.d.dir.Env(c.Targets[0].Env)
}

func (c *Call) Settings() Settings { return c.d.settings }
