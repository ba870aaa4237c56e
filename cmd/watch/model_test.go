package main

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"somnia.ai/internal/protocol"
	"somnia.ai/internal/sim/engine"
	"somnia.ai/internal/sim/events"
)

func TestModel_StatusAndEvents(t *testing.T) {
	in := make(chan tea.Msg)
	var m tea.Model = newModel("ws://test/v1/observe", in)
	if !strings.Contains(m.View(), "waiting for status") {
		t.Fatalf("initial view:\n%s", m.View())
	}

	m, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = m.Update(statusMsg{status: engine.Status{
		Tick:       1200,
		TickRateHz: 20,
		Online:     3,
		Groups:     []engine.GroupStatus{{ID: "ritual-0123456789ab", Kind: "ritual", Variant: "B", Phase: "climax", Members: []string{"a", "b", "c"}}},
		Lunar:      []engine.LunarStatus{{Env: "overworld", Day: 4, Name: "New Moon", Multiplier: 0.5}},
	}})
	m, _ = m.Update(eventMsg{event: events.Event{Type: events.TypeGroupFormed, Tick: 1180, Kind: "ritual", Variant: "B", GroupID: "ritual-0123456789ab", Members: []string{"a", "b", "c"}}})

	view := m.View()
	for _, want := range []string{"tick 1,200", "ritual/B", "climax", "New Moon", "+ ritual/B ritual-0123456789ab (3 members)"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	m, cmd := m.Update(streamClosed{err: errors.New("eof")})
	if cmd != nil || !strings.Contains(m.View(), "stream closed: eof") {
		t.Fatalf("closed view:\n%s", m.View())
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Fatal("q should quit")
	}
}

func TestDecodeFrame(t *testing.T) {
	st, _ := json.Marshal(engine.Status{Tick: 9})
	frame, _ := json.Marshal(protocol.StatusMsg{Type: protocol.TypeStatus, ProtocolVersion: protocol.Version, Status: st})
	m, ok := decodeFrame(frame)
	if sm, isStatus := m.(statusMsg); !ok || !isStatus || sm.status.Tick != 9 {
		t.Fatalf("status frame: got %#v %v", m, ok)
	}

	ev, _ := json.Marshal(events.Event{Type: events.TypeGroupDissolved, GroupID: "portal-x", Reason: "expired"})
	frame, _ = json.Marshal(protocol.EventMsg{Type: protocol.TypeEvent, ProtocolVersion: protocol.Version, Event: ev})
	m, ok = decodeFrame(frame)
	if em, isEvent := m.(eventMsg); !ok || !isEvent || em.event.Reason != "expired" {
		t.Fatalf("event frame: got %#v %v", m, ok)
	}

	if _, ok := decodeFrame([]byte(`{"type":"WELCOME"}`)); ok {
		t.Fatal("unexpected frame decoded")
	}
}
