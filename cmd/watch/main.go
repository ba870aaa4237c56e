// Command watch is a terminal dashboard over the observer stream.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"somnia.ai/internal/protocol"
	"somnia.ai/internal/sim/engine"
	"somnia.ai/internal/sim/events"
)

func main() {
	url := flag.String("url", "ws://localhost:8090/v1/observe", "observer ws url")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	in := make(chan tea.Msg, 64)
	go readStream(conn, in)

	p := tea.NewProgram(newModel(*url, in), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "watch:", err)
		os.Exit(1)
	}
}

type statusMsg struct{ status engine.Status }

type eventMsg struct{ event events.Event }

type streamClosed struct{ err error }

// readStream decodes observer frames into dashboard messages until the
// connection closes.
func readStream(conn *websocket.Conn, out chan<- tea.Msg) {
	defer close(out)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			out <- streamClosed{err: err}
			return
		}
		if m, ok := decodeFrame(msg); ok {
			out <- m
		}
	}
}

func decodeFrame(msg []byte) (tea.Msg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return nil, false
	}
	switch base.Type {
	case protocol.TypeStatus:
		var sm protocol.StatusMsg
		var st engine.Status
		if json.Unmarshal(msg, &sm) != nil || json.Unmarshal(sm.Status, &st) != nil {
			return nil, false
		}
		return statusMsg{status: st}, true
	case protocol.TypeEvent:
		var em protocol.EventMsg
		var ev events.Event
		if json.Unmarshal(msg, &em) != nil || json.Unmarshal(em.Event, &ev) != nil {
			return nil, false
		}
		return eventMsg{event: ev}, true
	}
	return nil, false
}

func waitFor(in <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		m, ok := <-in
		if !ok {
			return streamClosed{}
		}
		return m
	}
}
