package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AccountID       string `json:"account_id"`
	Token           string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	AccountID       string `json:"account_id"`
	IsOwner         bool   `json:"is_owner"`
	RewardAmount    string `json:"reward_amount"`
	RewardDenom     string `json:"reward_denom,omitempty"`
}

// REQ (client -> server). Payload is decoded according to Op.
type ReqMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id"`
	Op              string          `json:"op"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// RESULT (server -> client), one per REQ.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Error           string `json:"error,omitempty"`
	Data            any    `json:"data,omitempty"`
}

// EVENT (server -> client), pushed for every audit entry.
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Event           Event  `json:"event"`
}

type Event struct {
	ID           string `json:"id"`
	Time         string `json:"time"`
	Kind         string `json:"kind"`
	SolutionHash string `json:"solution_hash"`
	Actor        string `json:"actor,omitempty"`
	Memo         string `json:"memo,omitempty"`
}

// ERROR (server -> client) for failures outside a REQ, such as a bad HELLO.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
