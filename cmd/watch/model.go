package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"somnia.ai/internal/sim/engine"
	"somnia.ai/internal/sim/events"
)

const maxEventLines = 500

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C9A0FF"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5F5F87")).Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8787"))
)

type model struct {
	url string
	in  <-chan tea.Msg

	status     engine.Status
	haveStatus bool
	updated    time.Time
	lines      []string
	log        viewport.Model
	width      int
	closed     error
	done       bool
}

func newModel(url string, in <-chan tea.Msg) model {
	return model{url: url, in: in, log: viewport.New(80, 10)}
}

func (m model) Init() tea.Cmd { return waitFor(m.in) }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.log.Width = max(20, msg.Width-4)
		m.log.Height = max(3, msg.Height-16)
		return m, nil
	case statusMsg:
		m.status = msg.status
		m.haveStatus = true
		m.updated = time.Now()
		return m, waitFor(m.in)
	case eventMsg:
		m.lines = append(m.lines, eventLine(msg.event))
		if len(m.lines) > maxEventLines {
			m.lines = m.lines[len(m.lines)-maxEventLines:]
		}
		m.log.SetContent(strings.Join(m.lines, "\n"))
		m.log.GotoBottom()
		return m, waitFor(m.in)
	case streamClosed:
		m.done = true
		m.closed = msg.err
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("somnia watch") + dimStyle.Render("  "+m.url) + "\n")
	if !m.haveStatus {
		b.WriteString(dimStyle.Render("waiting for status...") + "\n")
	} else {
		b.WriteString(boxStyle.Render(m.summary()) + "\n")
	}
	b.WriteString(boxStyle.Render(m.log.View()) + "\n")
	if m.done {
		reason := "stream closed"
		if m.closed != nil {
			reason += ": " + m.closed.Error()
		}
		b.WriteString(warnStyle.Render(reason) + "\n")
	}
	b.WriteString(dimStyle.Render("q quit  ↑/↓ scroll"))
	return b.String()
}

func (m model) summary() string {
	st := m.status
	var b strings.Builder
	fmt.Fprintf(&b, "tick %s @%dHz  actors %d online %d qualifying %d  groups formed %s  updated %s\n",
		humanize.Comma(int64(st.Tick)), st.TickRateHz, st.Actors, st.Online, st.Qualifying,
		humanize.Comma(int64(st.Formed)), humanize.Time(m.updated))
	if st.Update != "" {
		b.WriteString(warnStyle.Render("update available: "+st.Update) + "\n")
	}
	if len(st.Groups) == 0 {
		b.WriteString(dimStyle.Render("no active groups") + "\n")
	}
	for _, g := range st.Groups {
		kind := g.Kind
		if g.Variant != "" {
			kind += "/" + g.Variant
		}
		fmt.Fprintf(&b, "%-26s %-16s %-12s %s\n", g.ID, kind, g.Phase, strings.Join(g.Members, ","))
	}
	for _, l := range st.Lunar {
		fmt.Fprintf(&b, "moon %-16s day %d %s x%.2f\n", l.Env, l.Day, l.Name, l.Multiplier)
	}
	if len(st.Accelerated) > 0 {
		fmt.Fprintf(&b, "accelerated: %s\n", strings.Join(st.Accelerated, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func eventLine(e events.Event) string {
	switch e.Type {
	case events.TypeGroupFormed:
		kind := e.Kind
		if e.Variant != "" {
			kind += "/" + e.Variant
		}
		return fmt.Sprintf("%8d + %s %s (%d members)", e.Tick, kind, e.GroupID, len(e.Members))
	case events.TypeGroupDissolved:
		return fmt.Sprintf("%8d - %s %s (%s)", e.Tick, e.Kind, e.GroupID, e.Reason)
	case events.TypeLunarPhaseChanged:
		if e.Lunar != nil {
			return fmt.Sprintf("%8d ☾ %s is now %s (x%.2f)", e.Tick, e.EnvID, e.Lunar.Name, e.Lunar.Multiplier)
		}
	case events.TypeSessionEnded:
		return fmt.Sprintf("%8d · %s %s %s", e.Tick, e.ActorID, e.Kind, e.Reason)
	}
	return fmt.Sprintf("%8d %s", e.Tick, e.Type)
}
