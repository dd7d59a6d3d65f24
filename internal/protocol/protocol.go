package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeReq     = "REQ"
	TypeResult  = "RESULT"
	TypeEvent   = "EVENT"
	TypeError   = "ERROR"
)

// Operations carried in REQ.op. OpGetSolution is the older name of
// OpGetUnsolvedByIndex and is still accepted.
const (
	OpCreatePuzzle       = "create_puzzle"
	OpSubmitSolution     = "submit_solution"
	OpGetPuzzleStatus    = "get_puzzle_status"
	OpGetUnsolvedPuzzles = "get_unsolved_puzzles"
	OpGetUnsolvedByIndex = "get_unsolved_by_index"
	OpGetSolution        = "get_solution"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
