// Package observer serves a read-only stream of engine events and periodic
// status snapshots for dashboards.
package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"somnia.ai/internal/protocol"
	"somnia.ai/internal/sim/engine"
)

// Source publishes the engine status view.
type Source interface {
	Status() engine.Status
}

type Options struct {
	// StatusEvery is the STATUS push interval; default one second.
	StatusEvery time.Duration
	// LoopbackOnly rejects non-loopback clients.
	LoopbackOnly bool
	// QueueSize bounds each observer's event queue; default 256.
	QueueSize int
	Logger    *log.Logger
}

type Server struct {
	src  Source
	bc   *Broadcaster
	opts Options
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(src Source, bc *Broadcaster, opts Options) *Server {
	if opts.StatusEvery <= 0 {
		opts.StatusEvery = time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Server{
		src:  src,
		bc:   bc,
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// StatusHandler serves the latest status view as JSON.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.opts.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.src.Status())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.opts.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id := uuid.NewString()
		out := make(chan []byte, s.opts.QueueSize)
		s.bc.join(id, out)
		s.logf("observer %s connected from %s", id, r.RemoteAddr)
		defer func() {
			s.bc.leave(id)
			s.logf("observer %s left", id)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			ticker := time.NewTicker(s.opts.StatusEvery)
			defer ticker.Stop()
			if err := s.writeStatus(conn); err != nil {
				writeErr <- err
				return
			}
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				case <-ticker.C:
					if err := s.writeStatus(conn); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Observers send nothing; reading only detects the close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) writeStatus(conn *websocket.Conn) error {
	raw, err := json.Marshal(s.src.Status())
	if err != nil {
		return err
	}
	b, err := json.Marshal(protocol.StatusMsg{Type: protocol.TypeStatus, ProtocolVersion: protocol.Version, Status: raw})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
