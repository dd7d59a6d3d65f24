package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CoordinatePair is a grid position. The origin (0,0) is the top left square.
type CoordinatePair struct {
	X uint8 `json:"x"`
	Y uint8 `json:"y"`
}

type AnswerDirection uint8

const (
	Across AnswerDirection = iota + 1
	Down
)

func (d AnswerDirection) String() string {
	switch d {
	case Across:
		return "Across"
	case Down:
		return "Down"
	default:
		return fmt.Sprintf("AnswerDirection(%d)", uint8(d))
	}
}

func (d AnswerDirection) Valid() bool { return d == Across || d == Down }

func ParseAnswerDirection(s string) (AnswerDirection, error) {
	switch s {
	case "Across":
		return Across, nil
	case "Down":
		return Down, nil
	default:
		return 0, fmt.Errorf("unknown answer direction %q", s)
	}
}

func (d AnswerDirection) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid answer direction %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *AnswerDirection) UnmarshalText(b []byte) error {
	v, err := ParseAnswerDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Answer describes one clue slot. It is display data only: nothing checks it
// against the solution hash.
type Answer struct {
	Num       uint8           `json:"num"`
	Start     CoordinatePair  `json:"start"`
	Direction AnswerDirection `json:"direction"`
	Length    uint8           `json:"length"`
	Clue      string          `json:"clue"`
}

type StatusKind uint8

const (
	statusInvalid StatusKind = iota
	StatusUnsolved
	StatusSolved
)

// PuzzleStatus is either Unsolved or Solved{memo}. Build it with Unsolved()
// or Solved(memo); the zero value is invalid and fails to encode.
type PuzzleStatus struct {
	kind StatusKind
	memo string
}

func Unsolved() PuzzleStatus { return PuzzleStatus{kind: StatusUnsolved} }

func Solved(memo string) PuzzleStatus { return PuzzleStatus{kind: StatusSolved, memo: memo} }

func (s PuzzleStatus) Kind() StatusKind { return s.kind }

func (s PuzzleStatus) Valid() bool { return s.kind == StatusUnsolved || s.kind == StatusSolved }

// Memo returns the solver's memo; ok is false unless the puzzle is solved.
func (s PuzzleStatus) Memo() (memo string, ok bool) {
	if s.kind != StatusSolved {
		return "", false
	}
	return s.memo, true
}

func (s PuzzleStatus) String() string {
	switch s.kind {
	case StatusUnsolved:
		return "Unsolved"
	case StatusSolved:
		return fmt.Sprintf("Solved{memo: %q}", s.memo)
	default:
		return "Invalid"
	}
}

type solvedJSON struct {
	Solved struct {
		Memo string `json:"memo"`
	} `json:"Solved"`
}

// MarshalJSON emits "Unsolved" or {"Solved":{"memo":"..."}}.
func (s PuzzleStatus) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case StatusUnsolved:
		return []byte(`"Unsolved"`), nil
	case StatusSolved:
		var v solvedJSON
		v.Solved.Memo = s.memo
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("cannot encode invalid puzzle status")
	}
}

func (s *PuzzleStatus) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		if name != "Unsolved" {
			return fmt.Errorf("unknown puzzle status %q", name)
		}
		*s = Unsolved()
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("puzzle status: %w", err)
	}
	body, ok := raw["Solved"]
	if !ok || len(raw) != 1 {
		return fmt.Errorf("unknown puzzle status %s", string(b))
	}
	var v struct {
		Memo string `json:"memo"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("puzzle status: %w", err)
	}
	*s = Solved(v.Memo)
	return nil
}

// Puzzle is the stored record. Its identity is the solution hash it is keyed
// by, which is not repeated here.
type Puzzle struct {
	Status  PuzzleStatus `json:"status"`
	Answers []Answer     `json:"answer"`
}

type UnsolvedPuzzle struct {
	SolutionHash string       `json:"solution_hash"`
	Status       PuzzleStatus `json:"status"`
	Answers      []Answer     `json:"answer"`
}

type UnsolvedPuzzles struct {
	Puzzles []UnsolvedPuzzle `json:"puzzles"`
}
