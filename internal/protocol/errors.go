package protocol

import "errors"

// Errors on inbound wire data are always recovered locally: the offending
// message is dropped and the Session keeps running (spec §7 policy).
var (
	ErrDecode             = errors.New("protocol: decode error")
	ErrIntegrityViolation = errors.New("protocol: integrity violation")
	ErrUnknownPeer        = errors.New("protocol: unknown peer, no cached key to verify against")
)
