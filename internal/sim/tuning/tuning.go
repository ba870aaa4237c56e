package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"somnia.ai/internal/sim/lunar"
	"somnia.ai/internal/sim/present"
	"somnia.ai/internal/sim/session"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	FormationPollTicks int `yaml:"formation_poll_ticks"`
	LunarPollTicks     int `yaml:"lunar_poll_ticks"`
	StatusEveryTicks   int `yaml:"status_every_ticks"`

	DayLength      int    `yaml:"day_length"`
	Night          Night  `yaml:"night"`
	AccelThreshold int    `yaml:"accel_threshold"`
	// IdleAfterTicks marks an actor idle after this many ticks without
	// ACTOR_ACTIVITY. 0 leaves idleness to the adapter's afk flag; sleeping
	// players send no activity, so adapters enabling this must report it.
	IdleAfterTicks uint64 `yaml:"idle_after_ticks"`
	// NightSkipPercent is the share of online actors that must be sleeping.
	NightSkipPercent int `yaml:"night_skip_percent"`

	Features Features `yaml:"features"`

	Intensity      float64 `yaml:"intensity"`
	RitualMin      int     `yaml:"ritual_min"`
	PortalTTLTicks uint64  `yaml:"portal_ttl_ticks"`

	DreamThemes []string         `yaml:"dream_themes"`
	Styles      map[string]Style `yaml:"styles"`
	Phases      map[string]Table `yaml:"phases"`
}

type Night struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

type Features struct {
	Animations       bool `yaml:"animations"`
	Dreams           bool `yaml:"dreams"`
	ClockDisplay     bool `yaml:"clock_display"`
	NightSkip        bool `yaml:"night_skip"`
	TimeAcceleration bool `yaml:"time_acceleration"`
	Lunar            bool `yaml:"lunar"`
	Rituals          bool `yaml:"rituals"`
	Entanglements    bool `yaml:"entanglements"`
	Portals          bool `yaml:"portals"`
}

type Style struct {
	Effect string  `yaml:"effect"`
	Cue    string  `yaml:"cue"`
	Every  int     `yaml:"every"`
	Volume float64 `yaml:"volume"`
	Pitch  float64 `yaml:"pitch"`
}

type Phase struct {
	Name  string `yaml:"name"`
	Ticks int    `yaml:"ticks"`
}

type Table struct {
	Phases   []Phase `yaml:"phases"`
	LoopFrom *int    `yaml:"loop_from"`
	Next     string  `yaml:"next"`
}

func loop(i int) *int { return &i }

func Defaults() Tuning {
	styles := map[string]Style{}
	for k, s := range present.DefaultSettings().Styles {
		styles[k.String()] = Style{Effect: s.Effect, Cue: s.Cue, Every: s.Every, Volume: s.Volume, Pitch: s.Pitch}
	}
	ritual := Table{Phases: []Phase{{"formation", 60}, {"convergence", 80}, {"climax", 40}, {"sustained", 100}}, LoopFrom: loop(3)}
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		FormationPollTicks: 20,
		LunarPollTicks:     100,
		StatusEveryTicks:   20,
		DayLength:          24000,
		Night:              Night{Start: 12542, End: 23460},
		AccelThreshold:     5,
		IdleAfterTicks:     0,
		NightSkipPercent:   50,
		Features: Features{
			Animations: true, Dreams: true, ClockDisplay: true, NightSkip: true,
			TimeAcceleration: true, Lunar: true, Rituals: true, Entanglements: true, Portals: true,
		},
		Intensity:      1.0,
		RitualMin:      2,
		PortalTTLTicks: 1200,
		DreamThemes:    present.DefaultSettings().Themes,
		Styles:         styles,
		Phases: map[string]Table{
			"sleep-ambient":     {Phases: []Phase{{"settle", 40}, {"drift", 100}, {"deep", 160}}, Next: "dream"},
			"dream":             {Phases: []Phase{{"drift", 60}, {"vision", 200}, {"fade", 60}}},
			"clock-display":     {Phases: []Phase{{"show", 20}}, LoopFrom: loop(0)},
			"night-skip":        {Phases: []Phase{{"gather", 40}, {"skip", 200}}, LoopFrom: loop(1)},
			"time-acceleration": {Phases: []Phase{{"spin", 20}}, LoopFrom: loop(0)},
			"lunar-burst":       {Phases: []Phase{{"flare", 30}, {"glow", 50}}},
			"ritual":            ritual,
			"entanglement":      {Phases: []Phase{{"link", 40}, {"resonance", 100}}, LoopFrom: loop(1)},
			"portal":            {Phases: []Phase{{"opening", 40}, {"stable", 200}}, LoopFrom: loop(1)},
		},
	}
}

// Load overlays the YAML file at path on Defaults and validates the result.
func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := checkSchema(raw); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

var compiled *jsonschema.Schema

func schema() (*jsonschema.Schema, error) {
	if compiled != nil {
		return compiled, nil
	}
	s, err := jsonschema.CompileString("https://somnia.ai/schemas/tuning.schema.json", schemaJSON)
	if err != nil {
		return nil, err
	}
	compiled = s
	return s, nil
}

// checkSchema validates the document structure before it is decoded.
func checkSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	s, err := schema()
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return s.Validate(v)
}

func (t Tuning) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %d", name, v))
		}
	}
	positive("tick_rate_hz", t.TickRateHz)
	positive("formation_poll_ticks", t.FormationPollTicks)
	positive("lunar_poll_ticks", t.LunarPollTicks)
	positive("status_every_ticks", t.StatusEveryTicks)
	positive("day_length", t.DayLength)
	positive("accel_threshold", t.AccelThreshold)
	if t.NightSkipPercent < 1 || t.NightSkipPercent > 100 {
		errs = append(errs, fmt.Errorf("night_skip_percent must be in [1,100], got %d", t.NightSkipPercent))
	}
	if t.Night.Start < 0 || t.Night.Start >= t.DayLength || t.Night.End < 0 || t.Night.End > t.DayLength {
		errs = append(errs, fmt.Errorf("night window [%d,%d) outside day_length %d", t.Night.Start, t.Night.End, t.DayLength))
	}
	if t.RitualMin < 2 {
		errs = append(errs, fmt.Errorf("ritual_min must be >= 2, got %d", t.RitualMin))
	}
	if t.Features.Portals && t.PortalTTLTicks == 0 {
		errs = append(errs, errors.New("portal_ttl_ticks must be > 0 when portals are enabled"))
	}
	for _, name := range sortedKeys(t.Styles) {
		if k, ok := session.ParseKind(name); !ok || !k.Valid() {
			errs = append(errs, fmt.Errorf("styles.%s: unknown session kind", name))
		}
	}
	if _, err := t.Tables(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Tables converts the phases section into session tables. Keys are a kind
// name, optionally followed by "/<variant>".
func (t Tuning) Tables() (session.Tables, error) {
	out := session.Tables{}
	var errs []error
	for _, name := range sortedKeys(t.Phases) {
		src := t.Phases[name]
		kindName, variant, _ := strings.Cut(name, "/")
		kind, ok := session.ParseKind(kindName)
		if !ok {
			errs = append(errs, fmt.Errorf("phases.%s: unknown session kind %q", name, kindName))
			continue
		}
		before := len(errs)
		tbl := session.Table{Kind: kind, Variant: variant, LoopFrom: -1, Rule: RuleFor(kind)}
		if src.LoopFrom != nil {
			tbl.LoopFrom = *src.LoopFrom
		}
		if src.Next != "" {
			next, ok := session.ParseKind(src.Next)
			if !ok {
				errs = append(errs, fmt.Errorf("phases.%s.next: unknown session kind %q", name, src.Next))
			}
			tbl.Next = next
		}
		for i, p := range src.Phases {
			if p.Ticks <= 0 {
				errs = append(errs, fmt.Errorf("phases.%s.phases[%d].ticks must be > 0, got %d", name, i, p.Ticks))
			}
			tbl.Phases = append(tbl.Phases, session.Phase{Name: p.Name, Ticks: p.Ticks})
		}
		if err := tbl.Validate(); err != nil && len(errs) == before {
			errs = append(errs, fmt.Errorf("phases.%s: %w", name, err))
		}
		out[session.TableKey{Kind: kind, Variant: variant}] = tbl
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// RuleFor is the qualification rule each kind is held to.
func RuleFor(k session.Kind) session.Rule {
	switch {
	case k.Grouped():
		return session.RuleGroup
	case k == session.KindLunarBurst:
		return session.RuleOnline
	case k == session.KindTimeAcceleration:
		return session.RuleAccelerating
	}
	return session.RuleSleeping
}

func (t Tuning) Presentation() present.Settings {
	s := present.Settings{
		Enabled:   t.Features.Animations,
		Intensity: t.Intensity,
		DayLength: t.DayLength,
		Themes:    append([]string(nil), t.DreamThemes...),
		Styles:    map[session.Kind]present.Style{},
	}
	for name, st := range t.Styles {
		if k, ok := session.ParseKind(name); ok {
			s.Styles[k] = present.Style{Effect: st.Effect, Cue: st.Cue, Every: st.Every, Volume: st.Volume, Pitch: st.Pitch}
		}
	}
	return s
}

func (t Tuning) NightWindow() lunar.Window {
	return lunar.Window{Start: t.Night.Start, End: t.Night.End}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
