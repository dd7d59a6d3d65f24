package protocol

import (
	"context"
	"errors"

	"crossword.ai/internal/registry"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRateLimit       = "E_RATE_LIMIT"

	// Registry outcomes.
	ErrUnauthorized     = "E_UNAUTHORIZED"
	ErrDuplicatePuzzle  = "E_DUPLICATE_PUZZLE"
	ErrNoMatchingPuzzle = "E_NO_MATCHING_PUZZLE"
	ErrAlreadySolved    = "E_ALREADY_SOLVED"
	ErrNotFound         = "E_NOT_FOUND"
	ErrBadRequest       = "E_BAD_REQUEST"
	ErrUnavailable      = "E_UNAVAILABLE"
	ErrInternal         = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrRateLimit:        {},
	ErrUnauthorized:     {},
	ErrDuplicatePuzzle:  {},
	ErrNoMatchingPuzzle: {},
	ErrAlreadySolved:    {},
	ErrNotFound:         {},
	ErrBadRequest:       {},
	ErrUnavailable:      {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps a registry error onto its wire code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, registry.ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, registry.ErrDuplicatePuzzle):
		return ErrDuplicatePuzzle
	case errors.Is(err, registry.ErrNoMatchingPuzzle):
		return ErrNoMatchingPuzzle
	case errors.Is(err, registry.ErrAlreadySolved):
		return ErrAlreadySolved
	case errors.Is(err, registry.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ErrUnavailable
	default:
		return ErrInternal
	}
}
