package protocol

const (
	// Connect-time auth: surfaced only as a transport close, never as a frame.
	ErrAuthFailed = "E_AUTH_FAILED"

	// Frame the server does not recognize while joined.
	ErrUnknownFrame = "E_UNKNOWN_FRAME"

	// Town management surface.
	ErrTownNotFound = "E_TOWN_NOT_FOUND"
	ErrTownFull     = "E_TOWN_FULL"
	ErrBadPassword  = "E_BAD_PASSWORD"
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrAuthFailed:   {},
	ErrUnknownFrame: {},
	ErrTownNotFound: {},
	ErrTownFull:     {},
	ErrBadPassword:  {},
	ErrBadRequest:   {},
	ErrInternal:     {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
