// Package store provides the registry.Store backends: an in-process map, a
// SQLite file and an embedded badger directory.
package store

import (
	"fmt"
	"log"
	"strings"

	"crossword.ai/internal/registry"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

type Config struct {
	Backend string
	// Path is the SQLite file or the badger directory. Ignored for memory.
	Path   string
	Logger *log.Logger
}

func Open(cfg Config) (registry.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		s, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendBadger:
		b, err := OpenBadger(BadgerConfig{Path: cfg.Path, SyncWrites: true, Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
