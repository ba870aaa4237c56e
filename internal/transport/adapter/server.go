// Package adapter serves the websocket endpoint game adapters connect to.
// Inbound messages become engine inputs; presentation calls go back out
// through the Hub.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"somnia.ai/internal/protocol"
	"somnia.ai/internal/sim/catalogs"
	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/engine"
)

// Engine is what the server needs from the tick loop.
type Engine interface {
	Submit(in engine.Input) bool
	// Release hands actors of a dropped connection to the loop without loss.
	Release(actors ...directory.ActorID)
	Status() engine.Status
}

type Options struct {
	// Token, when set, must match HELLO auth.token.
	Token    string
	Catalogs *catalogs.Catalogs
	// QueueSize bounds each connection's outbound queue; default 1024.
	QueueSize int
	Logger    *log.Logger
}

type Server struct {
	eng      Engine
	hub      *Hub
	log      *log.Logger
	token    string
	queue    int
	catalogs atomic.Pointer[catalogs.Catalogs]

	upgrader websocket.Upgrader
}

func NewServer(eng Engine, hub *Hub, opts Options) *Server {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Catalogs == nil {
		opts.Catalogs = catalogs.Defaults()
	}
	s := &Server{
		eng:   eng,
		hub:   hub,
		log:   opts.Logger,
		token: opts.Token,
		queue: opts.QueueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.catalogs.Store(opts.Catalogs)
	return s
}

// SetCatalogs changes the digests announced to adapters that connect later.
func (s *Server) SetCatalogs(c *catalogs.Catalogs) {
	if c != nil {
		s.catalogs.Store(c)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.handshake(conn)
		if c == nil {
			return
		}
		s.hub.add(c)
		s.logf("adapter %s connected (%s)", c.id, c.name)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handle(c, msg)
		}
		cancel()

		// Actors owned by a dropped adapter leave on the next tick.
		owned := s.hub.remove(c.id)
		s.eng.Release(owned...)
		s.logf("adapter %s disconnected; %d actors released", c.id, len(owned))

		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handle(c *client, msg []byte) {
	d, err := decodeInput(msg)
	if err != nil {
		var pe *protoError
		if errors.As(err, &pe) {
			s.reply(c, pe.Code, pe.Msg)
		}
		return
	}
	if !s.eng.Submit(d.input) {
		s.reply(c, protocol.ErrBusy, "engine inbox full")
		return
	}
	switch {
	case d.leave:
		s.hub.releaseActor(c.id, d.actor)
	case d.actor != "":
		s.hub.claimActor(c.id, d.actor, d.env)
	case d.env != "":
		s.hub.claimEnv(c.id, d.env)
	}
}

func (s *Server) reply(c *client, code, text string) {
	b, err := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         text,
	})
	if err != nil {
		return
	}
	if !trySend(c.out, b) {
		s.hub.dropped.Add(1)
	}
}

func (s *Server) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return nil
	}
	if !protocol.Supported(hello.ProtocolVersion, hello.SupportedVersions) {
		_ = writeJSON(conn, protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrProtoVersion,
			Message:         "server speaks " + protocol.Version,
		})
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}
	if s.token != "" {
		got := ""
		if hello.Auth != nil {
			got = strings.TrimSpace(hello.Auth.Token)
		}
		if got != s.token {
			closeWith(conn, websocket.ClosePolicyViolation, "bad token")
			return nil
		}
	}
	if hello.AdapterName == "" {
		hello.AdapterName = "adapter"
	}

	c := &client{id: uuid.NewString(), name: hello.AdapterName, out: make(chan []byte, s.queue)}
	st := s.eng.Status()
	cat := s.catalogs.Load()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       c.id,
		TickRateHz:      st.TickRateHz,
		DayLength:       st.DayLength,
		Catalogs: protocol.CatalogDigests{
			Effects: protocol.DigestRef{Digest: cat.Effects.Digest, Count: len(cat.Effects.IDs)},
			Cues:    protocol.DigestRef{Digest: cat.Cues.Digest, Count: len(cat.Cues.IDs)},
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return c
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
