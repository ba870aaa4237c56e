package present

import (
	"fmt"
	"hash/fnv"

	"somnia.ai/internal/sim/lunar"
	"somnia.ai/internal/sim/session"
)

// Generator produces the presentation calls for one frame.
type Generator func(c *Call)

var defaultGenerators = map[session.Kind]Generator{
	session.KindSleepAmbient:     sleepAmbient,
	session.KindDream:            dream,
	session.KindClockDisplay:     clockDisplay,
	session.KindNightSkip:        nightSkip,
	session.KindTimeAcceleration: timeAcceleration,
	session.KindLunarBurst:       lunarBurst,
	session.KindRitual:           ritual,
	session.KindEntanglement:     entanglement,
	session.KindPortal:           portal,
}

// phaseScale ramps from 0.5 on the first phase to 1.0 on the last.
func phaseScale(f session.Frame, phases int) float64 {
	if phases <= 1 {
		return 1
	}
	return 0.5 + 0.5*float64(f.Phase)/float64(phases-1)
}

func sleepAmbient(c *Call) {
	if c.Due() {
		c.Emit(phaseScale(c.Frame, 3))
	}
	if c.Frame.PhaseStart() && c.Frame.PhaseName == "deep" {
		c.Cue()
	}
}

func dream(c *Call) {
	f := c.Frame
	if f.PhaseStart() && f.PhaseName == "vision" {
		c.Cue()
		c.Tell("You dream of " + ThemeFor(c.Settings().Themes, string(f.Owner.Actor), f.CreatedTick) + ".")
	}
	if c.Due() && f.PhaseName != "fade" {
		c.Emit(1)
	}
}

func clockDisplay(c *Call) {
	if !c.Frame.PhaseStart() {
		return
	}
	e, ok := c.Env()
	if !ok || !e.Observed {
		return
	}
	c.Tell(FormatClock(e.TimeOfDay, c.Settings().DayLength))
}

func nightSkip(c *Call) {
	f := c.Frame
	if f.PhaseStart() && f.Phase == 0 && f.Loops == 0 {
		c.Broadcast("Enough sleepers are resting; the night begins to pass.")
		c.Cue()
	}
	if c.Due() {
		c.Emit(1)
	}
}

func timeAcceleration(c *Call) {
	if c.Frame.Ticks == 0 {
		c.Cue()
	}
	if c.Due() {
		c.Emit(1.5)
	}
}

func lunarBurst(c *Call) {
	f := c.Frame
	e, ok := c.Env()
	mult := 1.0
	if ok {
		mult = lunar.PhaseOf(e.Day).Multiplier()
	}
	if f.PhaseStart() {
		if f.Phase == 0 {
			c.Cue()
		}
		c.Emit(mult)
		return
	}
	if c.Due() {
		c.Emit(mult * 0.5)
	}
}

// TierScale grows the ritual intensity with its tier.
func TierScale(variant string) float64 {
	switch variant {
	case "B":
		return 1.25
	case "C":
		return 1.5
	case "D":
		return 1.75
	case "E":
		return 2.0
	}
	return 1
}

func ritual(c *Call) {
	f := c.Frame
	if f.PhaseStart() {
		switch f.PhaseName {
		case "formation":
			c.Tell(fmt.Sprintf("A tier %s dream ritual forms among %d sleepers.", f.Variant, len(c.Targets)))
		case "climax":
			c.Cue()
		}
	}
	if c.Due() {
		c.Emit(TierScale(f.Variant) * phaseScale(f, 4))
	}
}

func entanglement(c *Call) {
	f := c.Frame
	if f.PhaseStart() && f.PhaseName == "link" && f.Loops == 0 {
		envs := map[string]bool{}
		for _, t := range c.Targets {
			envs[string(t.Env)] = true
		}
		c.Tell(fmt.Sprintf("Your dream is entangled with %d sleepers across %d worlds.", len(c.Targets), len(envs)))
		c.Cue()
	}
	if c.Due() {
		c.Emit(1)
	}
}

func portal(c *Call) {
	f := c.Frame
	if f.PhaseStart() && f.PhaseName == "opening" {
		c.Broadcast("A dream portal opens between worlds.")
		c.Cue()
	}
	if c.Due() {
		c.Emit(phaseScale(f, 2) * 1.5)
	}
}

// FormatClock renders a time of day as HH:MM with time 0 at 06:00 and a
// 1000-unit hour at the default day length.
func FormatClock(timeOfDay, dayLength int) string {
	if dayLength <= 0 {
		dayLength = 24000
	}
	t := timeOfDay % dayLength
	if t < 0 {
		t += dayLength
	}
	perHour := dayLength / 24
	if perHour == 0 {
		perHour = 1
	}
	hours := (t/perHour + 6) % 24
	minutes := (t % perHour) * 60 / perHour
	return fmt.Sprintf("%02d:%02d", hours, minutes)
}

// ThemeFor picks a dream theme stable for one actor and session start.
func ThemeFor(themes []string, actor string, seed uint64) string {
	if len(themes) == 0 {
		return "nothing at all"
	}
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d", actor, seed)
	return themes[h.Sum32()%uint32(len(themes))]
}
