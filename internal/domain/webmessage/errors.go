package webmessage

import "errors"

var (
	ErrPortClosedOrTransferred = errors.New("port is already closed or transferred")
	ErrPortStarted             = errors.New("port is already started")
	ErrSourcePortTransfer      = errors.New("source port cannot be transferred")
	ErrPortTransferred         = errors.New("port is already transferred")
	ErrDuplicateTransfer       = errors.New("port is listed more than once in the transfer list")

	ErrUnknownChannel   = errors.New("unknown web message channel")
	ErrUnknownListener  = errors.New("unknown web message listener")
	ErrDuplicateObject  = errors.New("web message listener object name already added")
	ErrOriginNotAllowed = errors.New("origin not allowed for web message listener")
	ErrInvalidMessage   = errors.New("invalid web message")
	ErrInvalidListener  = errors.New("invalid web message listener")
)

// PortError reports a port operation rejected by the port state.
type PortError struct {
	Op   string
	Port string
	Err  error
}

func (e *PortError) Error() string {
	return "webmessage: " + e.Op + " " + e.Port + ": " + e.Err.Error()
}

func (e *PortError) Unwrap() error {
	return e.Err
}
