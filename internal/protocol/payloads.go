package protocol

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"crossword.ai/internal/registry"
)

const (
	MaxSolutionBytes = 4096
	MaxMemoBytes     = 1024
	MaxClueBytes     = 512
	MaxAnswers       = 256
)

// Request payloads shared by the HTTP API and REQ.payload.

type Start struct {
	X uint8 `json:"x"`
	Y uint8 `json:"y"`
}

type AnswerPayload struct {
	Num       uint8  `json:"num"`
	Start     Start  `json:"start"`
	Direction string `json:"direction" validate:"required,oneof=Across Down"`
	Length    uint8  `json:"length" validate:"gte=1"`
	Clue      string `json:"clue" validate:"max=512"`
}

type CreatePuzzleReq struct {
	SolutionHash string          `json:"solution_hash" validate:"required,solhash"`
	Answers      []AnswerPayload `json:"answers" validate:"max=256,dive"`
}

type SubmitSolutionReq struct {
	Solution string `json:"solution" validate:"max=4096"`
	Memo     string `json:"memo" validate:"max=1024"`
}

// PuzzleStatusReq takes any text as the hash. A malformed hash names no
// puzzle and so reads as not found.
type PuzzleStatusReq struct {
	SolutionHash string `json:"solution_hash" validate:"max=256"`
}

type UnsolvedByIndexReq struct {
	Index int `json:"index" validate:"gte=0"`
}

// Response data.

type PuzzleStatusResp struct {
	SolutionHash string                `json:"solution_hash"`
	Status       registry.PuzzleStatus `json:"status"`
}

type UnsolvedByIndexResp struct {
	Index        int    `json:"index"`
	SolutionHash string `json:"solution_hash"`
}

type SubmitSolutionResp struct {
	SolutionHash string `json:"solution_hash"`
	PayoutID     string `json:"payout_id"`
	Amount       string `json:"amount"`
}

var (
	hashRE   = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	validate *validator.Validate
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("solhash", func(fl validator.FieldLevel) bool {
		return hashRE.MatchString(fl.Field().String())
	})
}

// Validate checks struct tags on a decoded payload.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (r CreatePuzzleReq) RegistryAnswers() ([]registry.Answer, error) {
	out := make([]registry.Answer, 0, len(r.Answers))
	for i, a := range r.Answers {
		dir, err := registry.ParseAnswerDirection(a.Direction)
		if err != nil {
			return nil, fmt.Errorf("answers[%d]: %w", i, err)
		}
		out = append(out, registry.Answer{
			Num:       a.Num,
			Start:     registry.CoordinatePair{X: a.Start.X, Y: a.Start.Y},
			Direction: dir,
			Length:    a.Length,
			Clue:      a.Clue,
		})
	}
	return out, nil
}

// AnswersPayload converts registry answers back into their wire form.
func AnswersPayload(answers []registry.Answer) []AnswerPayload {
	out := make([]AnswerPayload, 0, len(answers))
	for _, a := range answers {
		out = append(out, AnswerPayload{
			Num:       a.Num,
			Start:     Start{X: a.Start.X, Y: a.Start.Y},
			Direction: a.Direction.String(),
			Length:    a.Length,
			Clue:      a.Clue,
		})
	}
	return out
}
