package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"crossword.ai/internal/persistence/indexdb"
)

// openIndex opens the audit/payout index. A nil index (and nil error) means
// indexing is off and payouts are only logged.
func openIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("XW_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "registry.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported XW_INDEX_BACKEND: %s", backend)
	}
}
