package ws

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"crossword.ai/internal/persistence/store"
	"crossword.ai/internal/protocol"
	"crossword.ai/internal/registry"
	"crossword.ai/internal/transport/dispatch"
	"crossword.ai/internal/transport/identity"
)

const (
	owner = "alice.testnet"
	hash  = "69c2feb084439956193f4c21936025f14a5a5a78979d67ae34762e18a7206a0f"
)

func newTestServer(t *testing.T, secret string) (string, *identity.Verifier, *Hub) {
	t.Helper()
	reg, err := registry.New(registry.Config{Owner: owner, RewardAmount: big.NewInt(7)}, store.NewMemory())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	hub := NewHub()
	reg.SetAuditLogger(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reg.Run(ctx)
	}()

	ids := identity.NewVerifier(secret)
	s := NewServer(dispatch.New(reg, dispatch.Config{}), ids, hub, WelcomeInfo{Owner: owner, RewardAmount: "7", RewardDenom: "yocto"}, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), ids, hub
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return m
}

// readType skips messages until one of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for i := 0; i < 16; i++ {
		if m := read(t, conn); m["type"] == typ {
			return m
		}
	}
	t.Fatalf("no %s message", typ)
	return nil
}

func hello(account, token string) protocol.HelloMsg {
	return protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AccountID: account, Token: token}
}

func req(id, op, payload string) protocol.ReqMsg {
	return protocol.ReqMsg{Type: protocol.TypeReq, ProtocolVersion: protocol.Version, ID: id, Op: op, Payload: json.RawMessage(payload)}
}

const createPayload = `{"solution_hash":"` + hash + `","answers":[
	{"num":1,"start":{"x":2,"y":1},"direction":"Across","length":4,"clue":"Native token"}]}`

func TestWS_HandshakeAndSolve(t *testing.T) {
	url, _, hub := newTestServer(t, "")

	alice := dial(t, url)
	send(t, alice, hello(owner, ""))
	w := read(t, alice)
	if w["type"] != protocol.TypeWelcome || w["is_owner"] != true || w["reward_amount"] != "7" {
		t.Fatalf("welcome: %v", w)
	}
	if sid, _ := w["session_id"].(string); !strings.HasPrefix(sid, "S_") {
		t.Fatalf("session id: %v", w["session_id"])
	}

	bob := dial(t, url)
	send(t, bob, hello("bob.testnet", ""))
	if w := read(t, bob); w["is_owner"] != false {
		t.Fatalf("bob welcome: %v", w)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Sessions() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	send(t, alice, req("r1", protocol.OpCreatePuzzle, createPayload))
	res := readType(t, alice, protocol.TypeResult)
	if res["id"] != "r1" || res["ok"] != true {
		t.Fatalf("create: %v", res)
	}

	ev := readType(t, bob, protocol.TypeEvent)
	event := ev["event"].(map[string]any)
	if event["kind"] != registry.AuditPuzzleCreated || event["solution_hash"] != hash {
		t.Fatalf("event: %v", ev)
	}

	send(t, bob, req("b1", protocol.OpSubmitSolution, `{"solution":"near nomicon ref finance","memo":"gm"}`))
	res = readType(t, bob, protocol.TypeResult)
	if res["ok"] != true {
		t.Fatalf("submit: %v", res)
	}
	data := res["data"].(map[string]any)
	if data["amount"] != "7" || data["solution_hash"] != hash {
		t.Fatalf("submit data: %v", data)
	}

	send(t, bob, req("b2", protocol.OpSubmitSolution, `{"solution":"near nomicon ref finance"}`))
	res = readType(t, bob, protocol.TypeResult)
	if res["ok"] != false || res["code"] != protocol.ErrNoMatchingPuzzle {
		t.Fatalf("second submit: %v", res)
	}
}

func TestWS_RequestErrors(t *testing.T) {
	url, _, _ := newTestServer(t, "")
	conn := dial(t, url)
	send(t, conn, hello("bob.testnet", ""))
	read(t, conn)

	cases := []struct {
		name string
		msg  any
		code string
	}{
		{"not a req", map[string]any{"type": "HELLO", "protocol_version": protocol.Version}, protocol.ErrProtoBadRequest},
		{"unknown op", req("x1", "fly", `{}`), protocol.ErrProtoBadRequest},
		{"not owner", req("x2", protocol.OpCreatePuzzle, createPayload), protocol.ErrUnauthorized},
		{"missing puzzle", req("x3", protocol.OpGetPuzzleStatus, `{"solution_hash":"`+hash+`"}`), protocol.ErrNotFound},
		{"bad index", req("x4", protocol.OpGetUnsolvedByIndex, `{"index":-1}`), protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			send(t, conn, tc.msg)
			res := readType(t, conn, protocol.TypeResult)
			if res["ok"] != false || res["code"] != tc.code {
				t.Fatalf("got %v, want code %s", res, tc.code)
			}
		})
	}
}

func TestWS_HandshakeRejected(t *testing.T) {
	url, ids, _ := newTestServer(t, "s3cret")

	cases := []struct {
		name string
		msg  any
		code string
	}{
		{"wrong type", req("r", protocol.OpGetUnsolvedPuzzles, `{}`), protocol.ErrProtoBadRequest},
		{"wrong version", protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1", AccountID: "bob.testnet"}, protocol.ErrProtoBadRequest},
		{"bad token", hello("bob.testnet", "deadbeef"), protocol.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dial(t, url)
			send(t, conn, tc.msg)
			m := read(t, conn)
			if m["type"] != protocol.TypeError || m["code"] != tc.code {
				t.Fatalf("got %v, want %s", m, tc.code)
			}
		})
	}

	conn := dial(t, url)
	send(t, conn, hello("bob.testnet", ids.Token("bob.testnet")))
	if w := read(t, conn); w["type"] != protocol.TypeWelcome || w["account_id"] != "bob.testnet" {
		t.Fatalf("welcome: %v", w)
	}
}

func TestHub_DropsWhenFull(t *testing.T) {
	h := NewHub()
	out := make(chan []byte, 1)
	h.add(1, out)
	e := registry.AuditEntry{ID: "a", Time: time.Now(), Action: registry.AuditPuzzleSolved, SolutionHash: hash}
	if err := h.WriteAudit(e); err != nil {
		t.Fatal(err)
	}
	if err := h.WriteAudit(e); err != nil {
		t.Fatal(err)
	}
	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d", h.Dropped())
	}
	h.remove(1)
	if h.Sessions() != 0 {
		t.Fatalf("sessions=%d", h.Sessions())
	}
}
