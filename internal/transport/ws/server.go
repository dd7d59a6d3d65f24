package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"crossword.ai/internal/protocol"
	"crossword.ai/internal/transport/dispatch"
	"crossword.ai/internal/transport/identity"
)

// WelcomeInfo is static data sent in every WELCOME.
type WelcomeInfo struct {
	Owner        string
	RewardAmount string
	RewardDenom  string
}

type Server struct {
	dispatch *dispatch.Dispatcher
	ids      *identity.Verifier
	hub      *Hub
	info     WelcomeInfo
	log      *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(d *dispatch.Dispatcher, ids *identity.Verifier, hub *Hub, info WelcomeInfo, logger *log.Logger) *Server {
	if ids == nil {
		ids = identity.NewVerifier("")
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		dispatch: d,
		ids:      ids,
		hub:      hub,
		info:     info,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(1 << 20)

		account, ok := s.handshake(conn)
		if !ok {
			return
		}

		id := s.nextID.Add(1)
		out := make(chan []byte, 64)
		s.hub.add(id, out)
		defer s.hub.remove(id)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. It owns every write after WELCOME.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			res := s.handleReq(ctx, account, msg)
			b, err := json.Marshal(res)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-writerDone
	}
}

func (s *Server) handleReq(ctx context.Context, account string, msg []byte) protocol.ResultMsg {
	res := protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeReq {
		res.Code, res.Error = protocol.ErrProtoBadRequest, "expected REQ"
		return res
	}
	if err := protocol.ValidateJSON(protocol.SchemaReq, msg); err != nil {
		res.Code, res.Error = protocol.ErrProtoBadRequest, err.Error()
		var partial protocol.ReqMsg
		if json.Unmarshal(msg, &partial) == nil {
			res.ID = partial.ID
		}
		return res
	}
	var req protocol.ReqMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		res.Code, res.Error = protocol.ErrProtoBadRequest, err.Error()
		return res
	}
	res.ID = req.ID

	data, err := s.dispatch.Do(ctx, "ws", account, req.Op, req.Payload)
	if err != nil {
		res.Code = dispatch.CodeOf(err)
		res.Error = err.Error()
		if de, ok := err.(*dispatch.Error); ok {
			res.Error = de.Message
		}
		return res
	}
	res.OK = true
	res.Data = data
	return res
}

func (s *Server) handshake(conn *websocket.Conn) (account string, ok bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return "", false
	}
	if err := protocol.ValidateJSON(protocol.SchemaHello, msg); err != nil {
		s.reject(conn, protocol.ErrProtoBadRequest, err.Error())
		return "", false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return "", false
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(conn, protocol.ErrProtoBadRequest, "bad protocol_version")
		return "", false
	}
	account, err = s.ids.Verify(hello.AccountID, hello.Token)
	if err != nil {
		s.reject(conn, protocol.ErrUnauthorized, err.Error())
		return "", false
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       newSessionID(),
		AccountID:       account,
		IsOwner:         account == s.info.Owner,
		RewardAmount:    s.info.RewardAmount,
		RewardDenom:     s.info.RewardDenom,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", false
	}
	if s.log != nil {
		s.log.Printf("ws session %s account=%s", welcome.SessionID, account)
	}
	return account, true
}

func (s *Server) reject(conn *websocket.Conn, code, msg string) {
	_ = writeJSON(conn, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
