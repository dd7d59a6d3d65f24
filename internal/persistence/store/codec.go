package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"crossword.ai/internal/registry"
)

// ErrNotFound is returned by Replace for keys that were never inserted.
var ErrNotFound = errors.New("puzzle not found")

const (
	statusUnsolved = "unsolved"
	statusSolved   = "solved"
)

// record is the on-disk form of a puzzle shared by the sqlite and badger
// backends.
type record struct {
	Status  string            `json:"status"`
	Memo    string            `json:"memo,omitempty"`
	Answers []registry.Answer `json:"answers"`
}

func toRecord(p registry.Puzzle) (record, error) {
	rec := record{Answers: p.Answers}
	switch p.Status.Kind() {
	case registry.StatusUnsolved:
		rec.Status = statusUnsolved
	case registry.StatusSolved:
		rec.Status = statusSolved
		rec.Memo, _ = p.Status.Memo()
	default:
		return rec, errors.New("puzzle has an invalid status")
	}
	if rec.Answers == nil {
		rec.Answers = []registry.Answer{}
	}
	return rec, nil
}

func fromRecord(rec record) (registry.Puzzle, error) {
	p := registry.Puzzle{Answers: rec.Answers}
	switch rec.Status {
	case statusUnsolved:
		p.Status = registry.Unsolved()
	case statusSolved:
		p.Status = registry.Solved(rec.Memo)
	default:
		return registry.Puzzle{}, fmt.Errorf("unknown stored status %q", rec.Status)
	}
	return p, nil
}

func encodePuzzle(p registry.Puzzle) ([]byte, error) {
	rec, err := toRecord(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

func decodePuzzle(b []byte) (registry.Puzzle, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return registry.Puzzle{}, fmt.Errorf("decode puzzle: %w", err)
	}
	return fromRecord(rec)
}

func clonePuzzle(p registry.Puzzle) registry.Puzzle {
	if p.Answers != nil {
		p.Answers = append([]registry.Answer(nil), p.Answers...)
	}
	return p
}

func marshalAnswers(answers []registry.Answer) (string, error) {
	if answers == nil {
		answers = []registry.Answer{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return string(b), nil
}

func unmarshalAnswers(s string, dst *[]registry.Answer) error {
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("decode answers: %w", err)
	}
	return nil
}
