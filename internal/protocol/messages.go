package protocol

// HELLO (adapter -> core)
type HelloMsg struct {
	Type              string     `json:"type"`
	ProtocolVersion   string     `json:"protocol_version"`
	SupportedVersions []string   `json:"supported_versions,omitempty"`
	AdapterName       string     `json:"adapter_name"`
	Auth              *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (core -> adapter)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	TickRateHz      int            `json:"tick_rate_hz"`
	DayLength       int            `json:"day_length"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type CatalogDigests struct {
	Effects DigestRef `json:"effects"`
	Cues    DigestRef `json:"cues"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

type ActorJoinMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
	Name            string `json:"name,omitempty"`
	EnvID           string `json:"env_id"`
}

type ActorLeaveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
}

// ACTOR_STATE carries partial updates; absent fields are unchanged.
type ActorStateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
	EnvID           string `json:"env_id,omitempty"`
	Sleeping        *bool  `json:"sleeping,omitempty"`
	AFK             *bool  `json:"afk,omitempty"`
}

type ActorActivityMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
}

type EnvClockMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	EnvID           string `json:"env_id"`
	EnvKind         string `json:"env_kind,omitempty"`
	Day             int64  `json:"day"`
	TimeOfDay       int    `json:"time_of_day"`
}

// EMIT (core -> adapter). Exactly one of ActorID/EnvID is set.
type EmitMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Tick            uint64  `json:"tick"`
	ActorID         string  `json:"actor_id,omitempty"`
	EnvID           string  `json:"env_id,omitempty"`
	Effect          string  `json:"effect"`
	Intensity       float64 `json:"intensity"`
}

type CueMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Tick            uint64  `json:"tick"`
	ActorID         string  `json:"actor_id,omitempty"`
	EnvID           string  `json:"env_id,omitempty"`
	Cue             string  `json:"cue"`
	Volume          float64 `json:"volume"`
	Pitch           float64 `json:"pitch"`
}

type MessageMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
	Text            string `json:"text"`
}

type BroadcastMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	EnvID           string `json:"env_id"`
	Text            string `json:"text"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
