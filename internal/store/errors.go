package store

import (
	"errors"
	"fmt"
)

// ErrClosed reports an operation on a closed store.
var ErrClosed = errors.New("store is closed")

// CausalityViolation reports a dangling or forward caused_by reference.
// The frame is already durable when this is returned — the log prefers
// over-recording to data loss — only the relation was rejected.
type CausalityViolation struct {
	FrameID  string
	CausedBy string
	Position uint64
	Err      error
}

func (e *CausalityViolation) Error() string {
	return fmt.Sprintf("causality violation: frame %s at %d: %v", e.FrameID, e.Position, e.Err)
}

func (e *CausalityViolation) Unwrap() error { return e.Err }
