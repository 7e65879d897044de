package shelf

import "errors"

// Sentinel errors surfaced to callers of local Shelf/Awareness operations.
// Errors that arrive over the wire are never propagated this way — they are
// recovered and logged by the protocol layer instead (spec §7).
var (
	ErrKeyMissing        = errors.New("shelf: key missing")
	ErrPathTraversesValue = errors.New("shelf: path traverses a value node")
	ErrInvalidSetTarget  = errors.New("shelf: cannot set a value root")
	ErrClockParse        = errors.New("shelf: clock could not be reconstructed")
)
