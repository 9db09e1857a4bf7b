// Package core holds error sentinels and small value types shared across
// nostr-chan-go's internal packages, so that no two packages need to
// redeclare the same error kind.
package core

import "errors"

// Error kinds produced by the core pipeline (spec §7). Gating outcomes are
// expected control flow and are logged at info level by the caller;
// transient/upstream failures are logged at warn/error level. None of these
// are surfaced to an operator beyond logs.
var (
	ErrDuplicateEventID = errors.New("event already stored")
	ErrEmptyInput        = errors.New("embedding input is empty")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrTimeout           = errors.New("upstream call timed out")
	ErrEmpty             = errors.New("model returned no content")
	ErrUpstream          = errors.New("upstream call failed")
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("conversation rate limit exceeded")
	ErrPaused            = errors.New("global pause is active")
	ErrNotFollower       = errors.New("author does not follow persona")
	ErrBlacklisted       = errors.New("author is blacklisted")
	ErrPersonaDisabled   = errors.New("persona is disabled")
	ErrQueueEvicted      = errors.New("queue row evicted before processing")
	ErrPoisonEvent       = errors.New("event failed processing and was dropped")
)
