// Package indexdb keeps a queryable SQLite copy of the audit trail, the
// snapshot catalog and the payout ledger. The JSONL audit files remain the
// source of truth for audits; the payout ledger is authoritative for payouts.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"crossword.ai/internal/persistence/snapshot"
	"crossword.ai/internal/registry"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropAuditTotal    atomic.Uint64
	dropSnapshotTotal atomic.Uint64
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	audit    registry.AuditEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Path      string
	Owner     string
	Puzzles   int
	Unsolved  int
	CreatedAt string
}

type Stats struct {
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
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
		`CREATE TABLE IF NOT EXISTS audits (
			id TEXT PRIMARY KEY,
			time TEXT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			solution_hash TEXT NOT NULL,
			memo TEXT,
			payout_id TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_hash_time ON audits(solution_hash, time);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_time ON audits(actor, time);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			puzzles INTEGER NOT NULL,
			unsolved INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS payouts (
			id TEXT PRIMARY KEY,
			to_account TEXT NOT NULL,
			amount TEXT NOT NULL,
			puzzle_hash TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL,
			paid_at TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropAuditTotal:    s.dropAuditTotal.Load(),
		DropSnapshotTotal: s.dropSnapshotTotal.Load(),
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
	}
}

// WriteAudit queues e for indexing. It never blocks; a full queue drops the
// entry and counts it.
func (s *SQLiteIndex) WriteAudit(e registry.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: e}:
	default:
		s.dropAuditTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, h snapshot.Header) {
	if s == nil || s.closed.Load() || path == "" {
		return
	}
	r := snapshotRow{
		Path:      path,
		Owner:     h.Owner,
		Puzzles:   h.Puzzles,
		Unsolved:  h.Unsolved,
		CreatedAt: h.CreatedAt,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshotTotal.Add(1)
	}
}

// Pay records p in the payout ledger. Recording the same payout twice is a
// no-op, so retries are safe. A different payout for an already paid puzzle
// fails.
func (s *SQLiteIndex) Pay(ctx context.Context, p registry.Payout) error {
	if p.ID == "" || p.To == "" || p.Amount == nil {
		return errors.New("payout is missing id, recipient or amount")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO payouts(id,to_account,amount,puzzle_hash,created_at,paid_at) VALUES(?,?,?,?,?,?)`,
		p.ID, p.To, p.Amount.String(), p.PuzzleHash,
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var existing string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM payouts WHERE puzzle_hash = ?`, p.PuzzleHash).Scan(&existing)
	if err != nil {
		return err
	}
	if existing != p.ID {
		return fmt.Errorf("puzzle %s already paid by payout %s", p.PuzzleHash, existing)
	}
	return nil
}

type PayoutRow struct {
	ID         string `json:"id"`
	To         string `json:"to"`
	Amount     string `json:"amount"`
	PuzzleHash string `json:"puzzle_hash"`
	CreatedAt  string `json:"created_at"`
	PaidAt     string `json:"paid_at"`
}

// ListPayouts returns the newest payouts first.
func (s *SQLiteIndex) ListPayouts(ctx context.Context, limit int) ([]PayoutRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,to_account,amount,puzzle_hash,created_at,paid_at FROM payouts ORDER BY paid_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PayoutRow
	for rows.Next() {
		var r PayoutRow
		if err := rows.Scan(&r.ID, &r.To, &r.Amount, &r.PuzzleHash, &r.CreatedAt, &r.PaidAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListAudits returns audit entries oldest first. An empty solutionHash
// matches every puzzle.
func (s *SQLiteIndex) ListAudits(ctx context.Context, solutionHash string, limit int) ([]registry.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT raw_json FROM audits ORDER BY time, id LIMIT ?`
	args := []any{limit}
	if solutionHash != "" {
		q = `SELECT raw_json FROM audits WHERE solution_hash = ? ORDER BY time, id LIMIT ?`
		args = []any{solutionHash, limit}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []registry.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e registry.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 500
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqAudit:
			a := r.audit
			raw, _ := json.Marshal(a)
			if _, err := tx.Exec(
				`INSERT OR REPLACE INTO audits(id,time,action,actor,solution_hash,memo,payout_id,raw_json) VALUES(?,?,?,?,?,?,?,?)`,
				a.ID,
				a.Time.UTC().Format(time.RFC3339Nano),
				a.Action,
				a.Actor,
				a.SolutionHash,
				a.Memo,
				a.PayoutID,
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqSnapshot:
			sn := r.snapshot
			if _, err := tx.Exec(
				`INSERT OR REPLACE INTO snapshots(path,owner,puzzles,unsolved,created_at) VALUES(?,?,?,?,?)`,
				sn.Path, sn.Owner, sn.Puzzles, sn.Unsolved, sn.CreatedAt,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		// Commit whenever the queue drains so readers and Pay are not held
		// behind a long batch.
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
