package protocol

import (
	"encoding/json"
	"testing"

	"crossword.ai/internal/registry"
)

const sampleHash = "69c2feb084439956193f4c21936025f14a5a5a78979d67ae34762e18a7206a0f"

const sampleCreate = `{
  "solution_hash": "69c2feb084439956193f4c21936025f14a5a5a78979d67ae34762e18a7206a0f",
  "answers": [
    {"num":1,"start":{"x":2,"y":1},"direction":"Across","length":4,"clue":"Native token"},
    {"num":4,"start":{"x":0,"y":7},"direction":"Across","length":7,"clue":"DeFi decentralizes this"}
  ]
}`

func TestSchemas_ValidateSamples(t *testing.T) {
	ok := map[string]string{
		SchemaHello:          `{"type":"HELLO","protocol_version":"1.0","account_id":"bob.testnet","token":"ab"}`,
		SchemaReq:            `{"type":"REQ","id":"1","op":"get_solution","payload":{"index":0}}`,
		SchemaCreatePuzzle:   sampleCreate,
		SchemaSubmitSolution: `{"solution":"near nomicon ref finance","memo":"hi"}`,
	}
	for name, doc := range ok {
		if err := ValidateJSON(name, []byte(doc)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}

	bad := map[string]string{
		SchemaHello:          `{"type":"HELLO","protocol_version":"1.0"}`,
		SchemaReq:            `{"type":"REQ","id":"1","op":"delete_everything"}`,
		SchemaCreatePuzzle:   `{"solution_hash":"xyz","answers":[]}`,
		SchemaSubmitSolution: `{"memo":"no solution key"}`,
	}
	for name, doc := range bad {
		if err := ValidateJSON(name, []byte(doc)); err == nil {
			t.Fatalf("%s: expected schema error for %s", name, doc)
		}
	}

	if err := ValidateJSON(SchemaSubmitSolution, []byte(`{"solution":""}`)); err != nil {
		t.Fatalf("empty solution is a valid guess: %v", err)
	}

	if err := ValidateJSON("nope.schema.json", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown schema error")
	}
	if err := ValidateJSON(SchemaHello, []byte(`{`)); err == nil {
		t.Fatalf("expected json error")
	}
}

func TestCreatePuzzleReq_ValidateAndConvert(t *testing.T) {
	var req CreatePuzzleReq
	if err := json.Unmarshal([]byte(sampleCreate), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := Validate(req); err != nil {
		t.Fatalf("validate: %v", err)
	}
	answers, err := req.RegistryAnswers()
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(answers) != 2 || answers[0].Direction != registry.Across || answers[1].Start.Y != 7 {
		t.Fatalf("unexpected answers: %+v", answers)
	}
	back := AnswersPayload(answers)
	if back[0] != req.Answers[0] || back[1] != req.Answers[1] {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}

func TestValidate_RejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		v    any
	}{
		{"short hash", CreatePuzzleReq{SolutionHash: "abc"}},
		{"non-hex hash", CreatePuzzleReq{SolutionHash: "zz" + sampleHash[2:]}},
		{"bad direction", CreatePuzzleReq{SolutionHash: sampleHash, Answers: []AnswerPayload{{Direction: "Sideways", Length: 1}}}},
		{"zero length", CreatePuzzleReq{SolutionHash: sampleHash, Answers: []AnswerPayload{{Direction: "Down"}}}},
		{"long solution", SubmitSolutionReq{Solution: string(make([]byte, MaxSolutionBytes+1))}},
		{"long memo", SubmitSolutionReq{Solution: "x", Memo: string(make([]byte, MaxMemoBytes+1))}},
		{"negative index", UnsolvedByIndexReq{Index: -1}},
		{"long status hash", PuzzleStatusReq{SolutionHash: string(make([]byte, 257))}},
	}
	for _, tc := range cases {
		if err := Validate(tc.v); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	for _, v := range []any{
		SubmitSolutionReq{Solution: "near nomicon ref finance"},
		SubmitSolutionReq{},
		PuzzleStatusReq{SolutionHash: "nothex"},
	} {
		if err := Validate(v); err != nil {
			t.Fatalf("valid payload %+v rejected: %v", v, err)
		}
	}
}
