package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"crossword.ai/internal/registry"
)

// SQLite is the durable single-file backend. Every Update is one sql.Tx.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// This is the primary copy of registry state, so commits are fsynced.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS puzzles (
			hash TEXT PRIMARY KEY,
			status TEXT NOT NULL CHECK (status IN ('unsolved', 'solved')),
			memo TEXT NOT NULL DEFAULT '',
			answers_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS unsolved (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			hash TEXT NOT NULL UNIQUE REFERENCES puzzles(hash)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func getPuzzle(q queryer, hash string) (registry.Puzzle, bool, error) {
	var rec record
	var answersJSON string
	err := q.QueryRow(`SELECT status, memo, answers_json FROM puzzles WHERE hash = ?`, hash).
		Scan(&rec.Status, &rec.Memo, &answersJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Puzzle{}, false, nil
	}
	if err != nil {
		return registry.Puzzle{}, false, err
	}
	p, err := scanPuzzle(rec, answersJSON)
	if err != nil {
		return registry.Puzzle{}, false, fmt.Errorf("puzzle %s: %w", hash, err)
	}
	return p, true, nil
}

func scanPuzzle(rec record, answersJSON string) (registry.Puzzle, error) {
	if err := unmarshalAnswers(answersJSON, &rec.Answers); err != nil {
		return registry.Puzzle{}, err
	}
	return fromRecord(rec)
}

func (s *SQLite) Owner() (string, bool, error) {
	var owner string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'owner'`).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

func (s *SQLite) Get(hash string) (registry.Puzzle, bool, error) {
	return getPuzzle(s.db, hash)
}

func (s *SQLite) UnsolvedAll() ([]string, error) {
	rows, err := s.db.Query(`SELECT hash FROM unsolved ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLite) UnsolvedAt(index int) (string, bool, error) {
	if index < 0 {
		return "", false, nil
	}
	var h string
	err := s.db.QueryRow(`SELECT hash FROM unsolved ORDER BY seq LIMIT 1 OFFSET ?`, index).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return h, true, nil
}

func (s *SQLite) UnsolvedCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM unsolved`).Scan(&n)
	return n, err
}

// Each reads all rows before calling fn, so fn may use the store.
func (s *SQLite) Each(fn func(hash string, p registry.Puzzle) error) error {
	type row struct {
		hash    string
		rec     record
		answers string
	}
	rows, err := s.db.Query(`SELECT hash, status, memo, answers_json FROM puzzles ORDER BY hash`)
	if err != nil {
		return err
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.hash, &r.rec.Status, &r.rec.Memo, &r.answers); err != nil {
			_ = rows.Close()
			return err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, r := range all {
		p, err := scanPuzzle(r.rec, r.answers)
		if err != nil {
			return fmt.Errorf("puzzle %s: %w", r.hash, err)
		}
		if err := fn(r.hash, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Update(fn func(tx registry.StoreTx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Close() error { return s.db.Close() }

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Get(hash string) (registry.Puzzle, bool, error) {
	return getPuzzle(t.tx, hash)
}

func (t *sqliteTx) InsertNew(hash string, p registry.Puzzle) (bool, error) {
	rec, err := toRecord(p)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", hash, err)
	}
	answers, err := marshalAnswers(rec.Answers)
	if err != nil {
		return false, err
	}
	res, err := t.tx.Exec(
		`INSERT OR IGNORE INTO puzzles(hash, status, memo, answers_json, updated_at) VALUES(?,?,?,?,?)`,
		hash, rec.Status, rec.Memo, answers, nowText(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *sqliteTx) Replace(hash string, p registry.Puzzle) error {
	rec, err := toRecord(p)
	if err != nil {
		return fmt.Errorf("replace %s: %w", hash, err)
	}
	answers, err := marshalAnswers(rec.Answers)
	if err != nil {
		return err
	}
	res, err := t.tx.Exec(
		`UPDATE puzzles SET status = ?, memo = ?, answers_json = ?, updated_at = ? WHERE hash = ?`,
		rec.Status, rec.Memo, answers, nowText(), hash,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("replace %s: %w", hash, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) UnsolvedAdd(hash string) error {
	_, err := t.tx.Exec(`INSERT OR IGNORE INTO unsolved(hash) VALUES(?)`, hash)
	return err
}

func (t *sqliteTx) UnsolvedRemove(hash string) error {
	_, err := t.tx.Exec(`DELETE FROM unsolved WHERE hash = ?`, hash)
	return err
}

func (t *sqliteTx) SetOwner(owner string) error {
	_, err := t.tx.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES('owner', ?)`, owner)
	return err
}

func nowText() string { return time.Now().UTC().Format(time.RFC3339Nano) }
