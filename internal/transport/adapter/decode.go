package adapter

import (
	"encoding/json"
	"fmt"

	"somnia.ai/internal/protocol"
	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/engine"
)

// protoError is a rejected inbound message; Code is a protocol error code.
type protoError struct {
	Code string
	Msg  string
}

func (e *protoError) Error() string { return e.Code + ": " + e.Msg }

func badRequest(format string, args ...any) error {
	return &protoError{Code: protocol.ErrBadRequest, Msg: fmt.Sprintf(format, args...)}
}

// decoded is an engine input plus the routing claims it implies.
type decoded struct {
	input engine.Input
	actor directory.ActorID
	env   directory.EnvID
	leave bool
}

func decodeInput(msg []byte) (decoded, error) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return decoded{}, &protoError{Code: protocol.ErrProtoBadRequest, Msg: "invalid json"}
	}
	if base.ProtocolVersion != protocol.Version {
		return decoded{}, &protoError{Code: protocol.ErrProtoVersion, Msg: fmt.Sprintf("unsupported protocol_version %q", base.ProtocolVersion)}
	}
	unmarshal := func(v any) error {
		if err := json.Unmarshal(msg, v); err != nil {
			return &protoError{Code: protocol.ErrProtoBadRequest, Msg: err.Error()}
		}
		return nil
	}

	switch base.Type {
	case protocol.TypeActorJoin:
		var m protocol.ActorJoinMsg
		if err := unmarshal(&m); err != nil {
			return decoded{}, err
		}
		if m.ActorID == "" || m.EnvID == "" {
			return decoded{}, badRequest("ACTOR_JOIN needs actor_id and env_id")
		}
		name := m.Name
		if name == "" {
			name = m.ActorID
		}
		a, env := directory.ActorID(m.ActorID), directory.EnvID(m.EnvID)
		return decoded{input: engine.ActorJoin{Actor: a, Name: name, Env: env}, actor: a, env: env}, nil

	case protocol.TypeActorLeave:
		var m protocol.ActorLeaveMsg
		if err := unmarshal(&m); err != nil {
			return decoded{}, err
		}
		if m.ActorID == "" {
			return decoded{}, badRequest("ACTOR_LEAVE needs actor_id")
		}
		a := directory.ActorID(m.ActorID)
		return decoded{input: engine.ActorLeave{Actor: a}, actor: a, leave: true}, nil

	case protocol.TypeActorState:
		var m protocol.ActorStateMsg
		if err := unmarshal(&m); err != nil {
			return decoded{}, err
		}
		if m.ActorID == "" {
			return decoded{}, badRequest("ACTOR_STATE needs actor_id")
		}
		a, env := directory.ActorID(m.ActorID), directory.EnvID(m.EnvID)
		return decoded{
			input: engine.ActorState{Actor: a, Env: env, Sleeping: m.Sleeping, AFK: m.AFK},
			actor: a,
			env:   env,
		}, nil

	case protocol.TypeActorActivity:
		var m protocol.ActorActivityMsg
		if err := unmarshal(&m); err != nil {
			return decoded{}, err
		}
		if m.ActorID == "" {
			return decoded{}, badRequest("ACTOR_ACTIVITY needs actor_id")
		}
		return decoded{input: engine.ActorActivity{Actor: directory.ActorID(m.ActorID)}}, nil

	case protocol.TypeEnvClock:
		var m protocol.EnvClockMsg
		if err := unmarshal(&m); err != nil {
			return decoded{}, err
		}
		if m.EnvID == "" {
			return decoded{}, badRequest("ENV_CLOCK needs env_id")
		}
		if m.TimeOfDay < 0 {
			return decoded{}, badRequest("time_of_day must be >= 0, got %d", m.TimeOfDay)
		}
		env := directory.EnvID(m.EnvID)
		return decoded{
			input: engine.EnvClock{Env: env, Kind: m.EnvKind, Day: m.Day, TimeOfDay: m.TimeOfDay},
			env:   env,
		}, nil
	}
	return decoded{}, &protoError{Code: protocol.ErrProtoUnknownType, Msg: fmt.Sprintf("unknown type %q", base.Type)}
}
