package protocol

import "encoding/json"

// EVENT (core -> observer). Event is the JSON form of an engine feed entry.
type EventMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Event           json.RawMessage `json:"event"`
}

// STATUS (core -> observer). Status is the JSON form of the engine status view.
type StatusMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Status          json.RawMessage `json:"status"`
}
