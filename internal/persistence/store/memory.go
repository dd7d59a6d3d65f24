package store

import (
	"fmt"
	"sync"

	"crossword.ai/internal/registry"
)

// Memory keeps everything in process. The unsolved index is an ordered key
// slice plus a position map; removal swaps the last key into the hole, so
// iteration order is stable between writes but not insertion order.
type Memory struct {
	mu sync.RWMutex

	owner    string
	hasOwner bool
	puzzles  map[string]registry.Puzzle
	order    []string
	pos      map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		puzzles: make(map[string]registry.Puzzle),
		pos:     make(map[string]int),
	}
}

func (m *Memory) Owner() (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owner, m.hasOwner, nil
}

func (m *Memory) Get(hash string) (registry.Puzzle, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.puzzles[hash]
	return clonePuzzle(p), ok, nil
}

func (m *Memory) UnsolvedAll() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.order...), nil
}

func (m *Memory) UnsolvedAt(index int) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.order) {
		return "", false, nil
	}
	return m.order[index], true, nil
}

func (m *Memory) UnsolvedCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}

func (m *Memory) Each(fn func(hash string, p registry.Puzzle) error) error {
	m.mu.RLock()
	snap := make(map[string]registry.Puzzle, len(m.puzzles))
	for h, p := range m.puzzles {
		snap[h] = clonePuzzle(p)
	}
	m.mu.RUnlock()

	for h, p := range snap {
		if err := fn(h, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Update(fn func(tx registry.StoreTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) swapRemove(hash string) (int, bool) {
	i, ok := m.pos[hash]
	if !ok {
		return 0, false
	}
	last := len(m.order) - 1
	if i != last {
		moved := m.order[last]
		m.order[i] = moved
		m.pos[moved] = i
	}
	m.order = m.order[:last]
	delete(m.pos, hash)
	return i, true
}

// memTx writes through to the maps and records how to undo each write.
type memTx struct {
	m    *Memory
	undo []func()
}

func (tx *memTx) Get(hash string) (registry.Puzzle, bool, error) {
	p, ok := tx.m.puzzles[hash]
	return clonePuzzle(p), ok, nil
}

func (tx *memTx) InsertNew(hash string, p registry.Puzzle) (bool, error) {
	if _, ok := tx.m.puzzles[hash]; ok {
		return false, nil
	}
	if !p.Status.Valid() {
		return false, fmt.Errorf("insert %s: invalid status", hash)
	}
	tx.m.puzzles[hash] = clonePuzzle(p)
	tx.undo = append(tx.undo, func() { delete(tx.m.puzzles, hash) })
	return true, nil
}

func (tx *memTx) Replace(hash string, p registry.Puzzle) error {
	old, ok := tx.m.puzzles[hash]
	if !ok {
		return fmt.Errorf("replace %s: %w", hash, ErrNotFound)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("replace %s: invalid status", hash)
	}
	tx.m.puzzles[hash] = clonePuzzle(p)
	tx.undo = append(tx.undo, func() { tx.m.puzzles[hash] = old })
	return nil
}

func (tx *memTx) UnsolvedAdd(hash string) error {
	m := tx.m
	if _, ok := m.pos[hash]; ok {
		return nil
	}
	m.pos[hash] = len(m.order)
	m.order = append(m.order, hash)
	tx.undo = append(tx.undo, func() {
		m.order = m.order[:len(m.order)-1]
		delete(m.pos, hash)
	})
	return nil
}

func (tx *memTx) UnsolvedRemove(hash string) error {
	m := tx.m
	i, ok := m.swapRemove(hash)
	if !ok {
		return nil
	}
	tx.undo = append(tx.undo, func() {
		if i == len(m.order) {
			m.order = append(m.order, hash)
		} else {
			moved := m.order[i]
			m.order = append(m.order, moved)
			m.pos[moved] = len(m.order) - 1
			m.order[i] = hash
		}
		m.pos[hash] = i
	})
	return nil
}

func (tx *memTx) SetOwner(owner string) error {
	m := tx.m
	prev, had := m.owner, m.hasOwner
	m.owner, m.hasOwner = owner, true
	tx.undo = append(tx.undo, func() { m.owner, m.hasOwner = prev, had })
	return nil
}
