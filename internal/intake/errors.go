package intake

import "errors"

// ErrOverloaded is returned to the host when the handoff channel stays
// saturated beyond the bounded retry budget. Dropping or reordering the
// notification instead would violate per-account monotonicity, so the
// condition is fatal by contract.
var ErrOverloaded = errors.New("intake handoff channel saturated beyond bounded retry")

// ErrClosed is returned when a notification arrives after shutdown began.
var ErrClosed = errors.New("intake is closed")
