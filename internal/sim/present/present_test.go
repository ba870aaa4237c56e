package present

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"somnia.ai/internal/platform/logonce"
	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/session"
)

type emitCall struct {
	at        Target
	effect    string
	intensity float64
}

type fakeSink struct {
	emits []emitCall
	cues  []string
	texts []string
	casts []directory.EnvID
	err   error
}

func (s *fakeSink) Emit(at Target, effect string, intensity float64) error {
	s.emits = append(s.emits, emitCall{at, effect, intensity})
	return s.err
}

func (s *fakeSink) PlayCue(at Target, cue string, volume, pitch float64) error {
	s.cues = append(s.cues, cue)
	return s.err
}

func (s *fakeSink) SendTo(actor directory.ActorID, text string) error {
	s.texts = append(s.texts, string(actor)+":"+text)
	return s.err
}

func (s *fakeSink) BroadcastTo(env directory.EnvID, text string) error {
	s.casts = append(s.casts, env)
	return s.err
}

func newDispatcher(t *testing.T, settings Settings) (*Dispatcher, *fakeSink, *bytes.Buffer, *directory.Memory) {
	t.Helper()
	dir := directory.NewMemory()
	dir.Join("a", "a", "w1")
	dir.Join("b", "b", "w2")
	sink := &fakeSink{}
	var buf bytes.Buffer
	d := NewDispatcher(Options{
		Directory: dir,
		Groups:    GroupsFunc(func(string) []directory.ActorID { return []directory.ActorID{"a", "b"} }),
		Sink:      sink,
		Messenger: sink,
		Warn:      logonce.New(log.New(&buf, "", 0)),
		Settings:  settings,
	})
	return d, sink, &buf, dir
}

func frame(kind session.Kind, owner session.Owner, phase string, idx, tick int) session.Frame {
	return session.Frame{
		Session:   session.Session{Kind: kind, Owner: owner, Phase: idx, TickInPhase: tick, Variant: "A"},
		PhaseName: phase,
	}
}

func TestPresent_UnknownEffectFallsBackAndLogsOnce(t *testing.T) {
	s := DefaultSettings()
	st := s.Styles[session.KindSleepAmbient]
	st.Effect = "particle-that-does-not-exist"
	s.Styles[session.KindSleepAmbient] = st
	d, sink, buf, _ := newDispatcher(t, s)

	for i := 0; i < 3; i++ {
		if err := d.Present(frame(session.KindSleepAmbient, session.ActorOwner("a"), "settle", 0, 0)); err != nil {
			t.Fatalf("present: %v", err)
		}
	}
	if len(sink.emits) != 3 || sink.emits[0].effect != "mist" {
		t.Fatalf("emits: %+v", sink.emits)
	}
	if n := strings.Count(buf.String(), "unknown effect"); n != 1 {
		t.Fatalf("warnings: got %d want 1\n%s", n, buf.String())
	}
}

func TestPresent_IntensityOutOfRange(t *testing.T) {
	s := DefaultSettings()
	s.Intensity = 42
	d, sink, buf, _ := newDispatcher(t, s)
	d.Present(frame(session.KindDream, session.ActorOwner("a"), "drift", 0, 0))
	if len(sink.emits) != 1 || sink.emits[0].intensity != 1 {
		t.Fatalf("emits: %+v", sink.emits)
	}
	if !strings.Contains(buf.String(), "intensity 42") {
		t.Fatalf("missing warning: %q", buf.String())
	}
}

func TestPresent_GroupTargetsEveryMember(t *testing.T) {
	d, sink, _, _ := newDispatcher(t, DefaultSettings())
	d.Present(frame(session.KindPortal, session.GroupOwner("portal-x"), "opening", 0, 0))
	if len(sink.emits) != 2 {
		t.Fatalf("emits: got %d want 2", len(sink.emits))
	}
	if len(sink.casts) != 2 || sink.casts[0] != "w1" || sink.casts[1] != "w2" {
		t.Fatalf("broadcasts: %v", sink.casts)
	}
}

func TestPresent_SinkErrorsAreReturnedNotFatal(t *testing.T) {
	d, sink, _, _ := newDispatcher(t, DefaultSettings())
	sink.err = errors.New("rejected")
	err := d.Present(frame(session.KindRitual, session.GroupOwner("g"), "formation", 0, 0))
	if err == nil {
		t.Fatalf("expected joined sink errors")
	}
	if len(sink.emits) != 2 || len(sink.texts) != 2 {
		t.Fatalf("a failing call must not stop the others: emits=%d texts=%d", len(sink.emits), len(sink.texts))
	}
}

func TestPresent_GeneratorPanicRecovered(t *testing.T) {
	d, _, _, _ := newDispatcher(t, DefaultSettings())
	d.Register(session.KindDream, func(*Call) { panic("bad table") })
	if err := d.Present(frame(session.KindDream, session.ActorOwner("a"), "drift", 0, 0)); err == nil {
		t.Fatalf("panic should surface as an error")
	}
}

func TestPresent_Disabled(t *testing.T) {
	s := DefaultSettings()
	s.Enabled = false
	d, sink, _, _ := newDispatcher(t, s)
	d.Present(frame(session.KindDream, session.ActorOwner("a"), "drift", 0, 0))
	if len(sink.emits) != 0 {
		t.Fatalf("disabled dispatcher emitted %d calls", len(sink.emits))
	}
}

func TestClockDisplay_UsesEnvironmentTime(t *testing.T) {
	d, sink, _, dir := newDispatcher(t, DefaultSettings())
	dir.SetClock("w1", "", 1, 18000, 0)
	d.Present(frame(session.KindClockDisplay, session.ActorOwner("a"), "show", 0, 0))
	if len(sink.texts) != 1 || sink.texts[0] != "a:00:00" {
		t.Fatalf("texts: %v", sink.texts)
	}
}

func TestFormatClock(t *testing.T) {
	cases := []struct {
		t    int
		want string
	}{{0, "06:00"}, {6000, "12:00"}, {18000, "00:00"}, {23999, "05:59"}, {24500, "06:30"}}
	for _, c := range cases {
		if got := FormatClock(c.t, 24000); got != c.want {
			t.Fatalf("clock(%d): got %s want %s", c.t, got, c.want)
		}
	}
}

func TestThemeFor_Stable(t *testing.T) {
	themes := DefaultSettings().Themes
	a := ThemeFor(themes, "alice", 7)
	if a != ThemeFor(themes, "alice", 7) {
		t.Fatalf("theme not stable")
	}
	if ThemeFor(nil, "alice", 7) == "" {
		t.Fatalf("empty themes should still yield text")
	}
}
