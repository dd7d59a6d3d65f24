package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"crossword.ai/internal/protocol"
)

// client is a synchronous REQ/RESULT client over one websocket. EVENT
// messages that arrive while waiting are handed to onEvent.
type client struct {
	conn    *websocket.Conn
	onEvent func(protocol.Event)
	timeout time.Duration
	seq     int
}

func dial(url string, timeout time.Duration) (*client, error) {
	d := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := d.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &client{conn: conn, timeout: timeout}, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) hello(account, token string) (protocol.WelcomeMsg, error) {
	err := c.conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AccountID:       account,
		Token:           token,
	})
	if err != nil {
		return protocol.WelcomeMsg{}, fmt.Errorf("send HELLO: %w", err)
	}
	msg, err := c.read()
	if err != nil {
		return protocol.WelcomeMsg{}, err
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.WelcomeMsg{}, err
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		err := json.Unmarshal(msg, &w)
		return w, err
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		return protocol.WelcomeMsg{}, fmt.Errorf("%s: %s", e.Code, e.Message)
	default:
		return protocol.WelcomeMsg{}, fmt.Errorf("unexpected %s before WELCOME", base.Type)
	}
}

// request sends one REQ and waits for its RESULT. A RESULT with ok=false is
// returned as an error carrying the server's code.
func (c *client) request(op string, payload any, out any) error {
	c.seq++
	id := fmt.Sprintf("R%d", c.seq)

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	err = c.conn.WriteJSON(protocol.ReqMsg{
		Type:            protocol.TypeReq,
		ProtocolVersion: protocol.Version,
		ID:              id,
		Op:              op,
		Payload:         raw,
	})
	if err != nil {
		return fmt.Errorf("send REQ: %w", err)
	}

	for {
		msg, err := c.read()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeEvent:
			c.event(msg)
		case protocol.TypeResult:
			var res struct {
				ID    string          `json:"id"`
				OK    bool            `json:"ok"`
				Code  string          `json:"code"`
				Error string          `json:"error"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(msg, &res); err != nil {
				return err
			}
			if res.ID != id {
				continue
			}
			if !res.OK {
				return &resultError{Code: res.Code, Message: res.Error}
			}
			if out != nil && len(res.Data) > 0 {
				return json.Unmarshal(res.Data, out)
			}
			return nil
		}
	}
}

// watch blocks, delivering events until the connection fails.
func (c *client) watch() error {
	for {
		_ = c.conn.SetReadDeadline(time.Time{})
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if base, err := protocol.DecodeBase(msg); err == nil && base.Type == protocol.TypeEvent {
			c.event(msg)
		}
	}
}

func (c *client) event(msg []byte) {
	if c.onEvent == nil {
		return
	}
	var ev protocol.EventMsg
	if err := json.Unmarshal(msg, &ev); err == nil {
		c.onEvent(ev.Event)
	}
}

func (c *client) read() ([]byte, error) {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	_, msg, err := c.conn.ReadMessage()
	return msg, err
}

type resultError struct {
	Code    string
	Message string
}

func (e *resultError) Error() string { return e.Code + ": " + e.Message }
