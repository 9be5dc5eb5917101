package hub

import "errors"

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnknownRoom      = errors.New("unknown room")
	ErrSerialization    = errors.New("payload is not serializable")
	ErrTimeout          = errors.New("timed out awaiting event")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrUnresolvedTarget = errors.New("publish target is not resolvable")
)
