package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// adapter -> core
	TypeHello         = "HELLO"
	TypeActorJoin     = "ACTOR_JOIN"
	TypeActorLeave    = "ACTOR_LEAVE"
	TypeActorState    = "ACTOR_STATE"
	TypeActorActivity = "ACTOR_ACTIVITY"
	TypeEnvClock      = "ENV_CLOCK"

	// core -> adapter
	TypeWelcome   = "WELCOME"
	TypeEmit      = "EMIT"
	TypeCue       = "CUE"
	TypeMessage   = "MESSAGE"
	TypeBroadcast = "BROADCAST"
	TypeError     = "ERROR"

	// core -> observer
	TypeEvent  = "EVENT"
	TypeStatus = "STATUS"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
