package httpio

import "errors"

var (
	// ErrSessionBroken is logged when Post is attempted on a driver whose
	// session never opened or has been closed
	ErrSessionBroken = errors.New("transport session is not available")

	// ErrURLTooLong is logged when a target url exceeds maxURLLength; the
	// url is rejected outright rather than truncated
	ErrURLTooLong = errors.New("target url exceeds the configured maximum length")
)
