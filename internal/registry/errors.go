package registry

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized     = errors.New("only the owner may create puzzles")
	ErrDuplicatePuzzle  = errors.New("puzzle with that key already exists")
	ErrNoMatchingPuzzle = errors.New("no puzzle matches that solution")
	ErrAlreadySolved    = errors.New("puzzle already solved")
	ErrOwnerMismatch    = errors.New("store is bound to a different owner")
	ErrStopped          = errors.New("registry stopped")
)

// ConsistencyError reports an unsolved-index entry with no stored puzzle.
// The registry loop panics with it instead of returning partial data.
type ConsistencyError struct {
	Hash string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("internal consistency violation: unsolved index references missing puzzle %s", e.Hash)
}
