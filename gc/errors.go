package gc

import "errors"

// The facade itself never returns errors: failed operations return nil and
// leave the registry consistent (see doc.go). These sentinels name the
// conditions for constructors and for callers that want to log them.
var (
	// ErrBadConfig indicates an out-of-range tuning knob passed to New.
	ErrBadConfig = errors.New("gc: invalid configuration")

	// ErrNotStarted indicates use of a collector before Start.
	ErrNotStarted = errors.New("gc: collector not started")
)
