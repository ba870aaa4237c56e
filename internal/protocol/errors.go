package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest  = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion     = "E_PROTO_VERSION"
	ErrProtoUnknownType = "E_PROTO_UNKNOWN_TYPE"

	// Engine routing.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrBusy       = "E_BUSY"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoVersion:     {},
	ErrProtoUnknownType: {},
	ErrBadRequest:       {},
	ErrBusy:             {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Supported reports whether an adapter offering v can speak this protocol.
func Supported(v string, also []string) bool {
	if v == Version {
		return true
	}
	for _, s := range also {
		if s == Version {
			return true
		}
	}
	return false
}
