package protocol

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"crossword.ai/internal/registry"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrRateLimit,
		ErrUnauthorized,
		ErrDuplicatePuzzle,
		ErrNoMatchingPuzzle,
		ErrAlreadySolved,
		ErrNotFound,
		ErrBadRequest,
		ErrUnavailable,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCodeFor(t *testing.T) {
	cases := map[error]string{
		nil:                      "",
		registry.ErrUnauthorized: ErrUnauthorized,
		fmt.Errorf("%w: abc", registry.ErrDuplicatePuzzle): ErrDuplicatePuzzle,
		registry.ErrNoMatchingPuzzle:                       ErrNoMatchingPuzzle,
		registry.ErrAlreadySolved:                          ErrAlreadySolved,
		registry.ErrStopped:                                ErrUnavailable,
		context.DeadlineExceeded:                           ErrUnavailable,
		errors.New("disk on fire"):                         ErrInternal,
	}
	for err, want := range cases {
		if got := CodeFor(err); got != want {
			t.Fatalf("CodeFor(%v)=%q want %q", err, got, want)
		}
	}
}
