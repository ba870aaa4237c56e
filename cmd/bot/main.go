// Command bot is a fake game adapter. It joins a handful of actors, drives
// environment clocks and sends actors to bed at night.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"somnia.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8090/v1/adapter", "adapter ws url")
		name     = flag.String("name", "bot", "adapter name")
		token    = flag.String("token", os.Getenv("SOMNIA_ADAPTER_TOKEN"), "adapter token")
		actors   = flag.Int("actors", 6, "number of fake actors")
		envs     = flag.String("envs", "overworld:normal,nether:nether", "comma separated env_id:env_kind list")
		startTOD = flag.Int("start_tod", 12000, "initial time of day")
		speed    = flag.Int("speed", 20, "time-of-day units per second; raise it to trigger acceleration")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AdapterName:     *name,
	}
	if *token != "" {
		hello.Auth = &protocol.HelloAuth{Token: *token}
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	var w protocol.WelcomeMsg
	if err := conn.ReadJSON(&w); err != nil || w.Type != protocol.TypeWelcome {
		logger.Fatalf("handshake failed: type=%q err=%v", w.Type, err)
	}
	logger.Printf("WELCOME session=%s tick_rate=%d day_length=%d effects=%d cues=%d",
		w.SessionID, w.TickRateHz, w.DayLength, w.Catalogs.Effects.Count, w.Catalogs.Cues.Count)

	sim := newWorld(parseEnvs(*envs), *actors, *startTOD, w.DayLength, *seed)
	out := make(chan any, 256)
	for _, m := range sim.joins() {
		out <- m
	}

	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, m := range sim.advance(*speed) {
					select {
					case out <- m:
					default:
						logger.Printf("outbound backlog; dropping %T", m)
					}
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(m); err != nil {
					logger.Printf("write: %v", err)
					cancel()
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	counts := map[string]int{}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("connection closed; received %v", counts)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		counts[base.Type]++
		switch base.Type {
		case protocol.TypeBroadcast:
			var b protocol.BroadcastMsg
			if json.Unmarshal(msg, &b) == nil {
				logger.Printf("BROADCAST %s: %s", b.EnvID, b.Text)
			}
		case protocol.TypeMessage:
			var m protocol.MessageMsg
			if json.Unmarshal(msg, &m) == nil {
				logger.Printf("MESSAGE %s: %s", m.ActorID, m.Text)
			}
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if json.Unmarshal(msg, &e) == nil {
				logger.Printf("ERROR %s: %s", e.Code, e.Message)
			}
		}
	}
}

func parseEnvs(s string) []envSpec {
	var out []envSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, kind, ok := strings.Cut(part, ":")
		if !ok {
			kind = "normal"
		}
		out = append(out, envSpec{id: id, kind: kind})
	}
	if len(out) == 0 {
		out = []envSpec{{id: "overworld", kind: "normal"}}
	}
	return out
}
