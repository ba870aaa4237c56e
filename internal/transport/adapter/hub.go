package adapter

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"somnia.ai/internal/protocol"
	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/present"
)

var (
	ErrNoAdapter = errors.New("adapter: no adapter connected")
	ErrDropped   = errors.New("adapter: outbound queue full")
)

type client struct {
	id   string
	name string
	out  chan []byte
}

// Hub routes presentation calls from the tick loop to adapter connections.
// An actor or environment is routed to the connection that last reported it;
// unknown targets go to every connection.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	actors  map[directory.ActorID]string
	envs    map[directory.EnvID]string

	tick    atomic.Pointer[func() uint64]
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{
		clients: map[string]*client{},
		actors:  map[directory.ActorID]string{},
		envs:    map[directory.EnvID]string{},
	}
}

// SetClock sets the tick source stamped on EMIT and CUE messages.
func (h *Hub) SetClock(fn func() uint64) { h.tick.Store(&fn) }

func (h *Hub) now() uint64 {
	if fn := h.tick.Load(); fn != nil {
		return (*fn)()
	}
	return 0
}

// Dropped counts messages discarded because a connection queue was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Connections lists connected adapter ids.
func (h *Hub) Connections() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

// remove drops a connection and returns the actors it still owned.
func (h *Hub) remove(id string) []directory.ActorID {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
	var owned []directory.ActorID
	for a, c := range h.actors {
		if c == id {
			owned = append(owned, a)
			delete(h.actors, a)
		}
	}
	for e, c := range h.envs {
		if c == id {
			delete(h.envs, e)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i] < owned[j] })
	return owned
}

func (h *Hub) claimActor(conn string, actor directory.ActorID, env directory.EnvID) {
	h.mu.Lock()
	h.actors[actor] = conn
	if env != "" {
		h.envs[env] = conn
	}
	h.mu.Unlock()
}

func (h *Hub) releaseActor(conn string, actor directory.ActorID) {
	h.mu.Lock()
	if h.actors[actor] == conn {
		delete(h.actors, actor)
	}
	h.mu.Unlock()
}

func (h *Hub) claimEnv(conn string, env directory.EnvID) {
	h.mu.Lock()
	h.envs[env] = conn
	h.mu.Unlock()
}

func (h *Hub) route(actor directory.ActorID, env directory.EnvID, b []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return ErrNoAdapter
	}
	id := ""
	if actor != "" {
		id = h.actors[actor]
	}
	if id == "" && env != "" {
		id = h.envs[env]
	}
	if c := h.clients[id]; c != nil {
		return h.send(c, b)
	}
	var err error
	for _, c := range h.clients {
		if e := h.send(c, b); e != nil {
			err = e
		}
	}
	return err
}

func (h *Hub) send(c *client, b []byte) error {
	if trySend(c.out, b) {
		return nil
	}
	h.dropped.Add(1)
	if sendLatest(c.out, b) {
		return nil
	}
	return ErrDropped
}

func (h *Hub) Emit(at present.Target, effect string, intensity float64) error {
	msg := protocol.EmitMsg{
		Type:            protocol.TypeEmit,
		ProtocolVersion: protocol.Version,
		Tick:            h.now(),
		ActorID:         string(at.Actor),
		Effect:          effect,
		Intensity:       intensity,
	}
	if at.Actor == "" {
		msg.EnvID = string(at.Env)
	}
	return h.marshalRoute(at.Actor, at.Env, msg)
}

func (h *Hub) PlayCue(at present.Target, cue string, volume, pitch float64) error {
	msg := protocol.CueMsg{
		Type:            protocol.TypeCue,
		ProtocolVersion: protocol.Version,
		Tick:            h.now(),
		ActorID:         string(at.Actor),
		Cue:             cue,
		Volume:          volume,
		Pitch:           pitch,
	}
	if at.Actor == "" {
		msg.EnvID = string(at.Env)
	}
	return h.marshalRoute(at.Actor, at.Env, msg)
}

func (h *Hub) SendTo(actor directory.ActorID, text string) error {
	return h.marshalRoute(actor, "", protocol.MessageMsg{
		Type:            protocol.TypeMessage,
		ProtocolVersion: protocol.Version,
		ActorID:         string(actor),
		Text:            text,
	})
}

func (h *Hub) BroadcastTo(env directory.EnvID, text string) error {
	return h.marshalRoute("", env, protocol.BroadcastMsg{
		Type:            protocol.TypeBroadcast,
		ProtocolVersion: protocol.Version,
		EnvID:           string(env),
		Text:            text,
	})
}

func (h *Hub) marshalRoute(actor directory.ActorID, env directory.EnvID, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.route(actor, env, b)
}

// sendLatest makes room by discarding the oldest queued frame.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case <-ch:
	default:
	}
	return trySend(ch, b)
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}

var (
	_ present.Sink      = (*Hub)(nil)
	_ present.Messenger = (*Hub)(nil)
)
