package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"crossword.ai/internal/protocol"
	"crossword.ai/internal/registry"
)

// Hub fans audit entries out to connected sessions as EVENT messages. It
// implements registry.AuditLogger. Slow sessions lose events instead of
// stalling the registry loop.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uint64]chan []byte

	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[uint64]chan []byte)}
}

func (h *Hub) add(id uint64, out chan []byte) {
	h.mu.Lock()
	h.sessions[id] = out
	h.mu.Unlock()
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) WriteAudit(e registry.AuditEntry) error {
	b, err := json.Marshal(protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Event: protocol.Event{
			ID:           e.ID,
			Time:         e.Time.UTC().Format(time.RFC3339Nano),
			Kind:         e.Action,
			SolutionHash: e.SolutionHash,
			Actor:        e.Actor,
			Memo:         e.Memo,
		},
	})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, out := range h.sessions {
		select {
		case out <- b:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}
