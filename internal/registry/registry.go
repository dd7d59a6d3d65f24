package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"crossword.ai/internal/persistence/snapshot"
)

type Config struct {
	// Owner is the only identity allowed to create puzzles. It is bound to
	// the store on first open and can never change afterwards.
	Owner string
	// RewardAmount is paid to the first correct solver of each puzzle.
	RewardAmount *big.Int
	// Hasher defaults to SHA256.
	Hasher Hasher
	Logger *log.Logger
}

// Payout is the instruction handed to the reward dispatcher after a solve has
// been committed.
type Payout struct {
	ID         string    `json:"id"`
	To         string    `json:"to"`
	Amount     *big.Int  `json:"amount"`
	PuzzleHash string    `json:"puzzle_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// RewardDispatcher moves value to solvers. Dispatch must not block and its
// outcome is never reported back to the registry.
type RewardDispatcher interface {
	Dispatch(p Payout)
}

const (
	AuditPuzzleCreated = "PUZZLE_CREATED"
	AuditPuzzleSolved  = "PUZZLE_SOLVED"
)

type AuditEntry struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Actor        string    `json:"actor"`
	SolutionHash string    `json:"solution_hash"`
	Memo         string    `json:"memo,omitempty"`
	Answers      int       `json:"answers,omitempty"`
	PayoutID     string    `json:"payout_id,omitempty"`
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// Metrics receives operation outcomes. Result labels are the Result* constants.
type Metrics interface {
	CreateAttempt(result string)
	SolveAttempt(result string)
	UnsolvedPuzzles(n int)
	OpDuration(op string, d time.Duration)
}

const (
	ResultOK            = "ok"
	ResultUnauthorized  = "unauthorized"
	ResultDuplicate     = "duplicate"
	ResultNoMatch       = "no_match"
	ResultAlreadySolved = "already_solved"
	ResultError         = "error"
)

// Receipt confirms a committed solve.
type Receipt struct {
	SolutionHash string   `json:"solution_hash"`
	PayoutID     string   `json:"payout_id"`
	Amount       *big.Int `json:"amount"`
}

// Registry owns one puzzle store. All state is touched only from the Run
// goroutine, one request at a time; the exported methods enqueue a request and
// wait for its result.
type Registry struct {
	owner        string
	rewardAmount *big.Int
	hasher       Hasher
	store        Store
	logger       *log.Logger
	now          func() time.Time

	rewards     RewardDispatcher
	auditLogger AuditLogger
	metrics     Metrics

	reqs     chan request
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, st Store) (*Registry, error) {
	owner := strings.TrimSpace(cfg.Owner)
	if owner == "" {
		return nil, errors.New("registry: owner is required")
	}
	if st == nil {
		return nil, errors.New("registry: store is required")
	}
	if cfg.RewardAmount == nil || cfg.RewardAmount.Sign() < 0 {
		return nil, errors.New("registry: reward amount must be a non-negative integer")
	}
	h := cfg.Hasher
	if h == nil {
		h = SHA256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	bound, ok, err := st.Owner()
	if err != nil {
		return nil, fmt.Errorf("registry: read owner: %w", err)
	}
	switch {
	case ok && bound != owner:
		return nil, fmt.Errorf("registry: %w (store=%s config=%s)", ErrOwnerMismatch, bound, owner)
	case !ok:
		if err := st.Update(func(tx StoreTx) error { return tx.SetOwner(owner) }); err != nil {
			return nil, fmt.Errorf("registry: bind owner: %w", err)
		}
	}

	r := &Registry{
		owner:        owner,
		rewardAmount: new(big.Int).Set(cfg.RewardAmount),
		hasher:       h,
		store:        st,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		metrics:      noopMetrics{},
		reqs:         make(chan request),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	r.rewards = logDispatcher{logger: logger}
	return r, nil
}

// Optional collaborators. Set them before Run.
func (r *Registry) SetRewardDispatcher(d RewardDispatcher) { r.rewards = d }
func (r *Registry) SetAuditLogger(l AuditLogger)           { r.auditLogger = l }
func (r *Registry) SetMetrics(m Metrics)                   { r.metrics = m }

func (r *Registry) Owner() string { return r.owner }

func (r *Registry) RewardAmount() *big.Int { return new(big.Int).Set(r.rewardAmount) }

type reqKind int

const (
	reqCreate reqKind = iota + 1
	reqSubmit
	reqStatus
	reqUnsolvedAt
	reqUnsolved
	reqExport
)

type request struct {
	kind reqKind

	caller   string
	hash     string
	solution string
	memo     string
	answers  []Answer
	index    int

	resp chan response
}

type response struct {
	err error

	receipt  Receipt
	status   PuzzleStatus
	found    bool
	hash     string
	unsolved UnsolvedPuzzles
	snap     snapshot.RegistryV1
}

// Run processes requests until ctx is cancelled or Stop is called. It must be
// called exactly once.
func (r *Registry) Run(ctx context.Context) error {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.reqs:
			req.resp <- r.handle(req)
		}
	}
}

func (r *Registry) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *Registry) handle(req request) response {
	start := time.Now()
	var res response
	var op string
	switch req.kind {
	case reqCreate:
		op = "create_puzzle"
		res.err = r.createPuzzle(req.caller, req.hash, req.answers)
	case reqSubmit:
		op = "submit_solution"
		res.receipt, res.err = r.submitSolution(req.caller, req.solution, req.memo)
	case reqStatus:
		op = "get_puzzle_status"
		res.status, res.found, res.err = r.puzzleStatus(req.hash)
	case reqUnsolvedAt:
		op = "get_unsolved_by_index"
		res.hash, res.found, res.err = r.unsolvedAt(req.index)
	case reqUnsolved:
		op = "get_unsolved_puzzles"
		res.unsolved, res.err = r.unsolvedPuzzles()
	case reqExport:
		op = "export_snapshot"
		res.snap, res.err = r.exportSnapshot()
	default:
		res.err = fmt.Errorf("registry: unknown request kind %d", req.kind)
		return res
	}
	r.metrics.OpDuration(op, time.Since(start))
	return res
}

// do hands req to the loop. Cancelling ctx abandons the wait only: a request
// already accepted by the loop still runs to completion.
func (r *Registry) do(ctx context.Context, req request) (response, error) {
	req.resp = make(chan response, 1)
	select {
	case r.reqs <- req:
	case <-r.stop:
		return response{}, ErrStopped
	case <-r.done:
		return response{}, ErrStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case res := <-req.resp:
		return res, res.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (r *Registry) CreatePuzzle(ctx context.Context, caller, solutionHash string, answers []Answer) error {
	_, err := r.do(ctx, request{kind: reqCreate, caller: caller, hash: solutionHash, answers: answers})
	return err
}

func (r *Registry) SubmitSolution(ctx context.Context, caller, solution, memo string) (Receipt, error) {
	res, err := r.do(ctx, request{kind: reqSubmit, caller: caller, solution: solution, memo: memo})
	return res.receipt, err
}

// PuzzleStatus reports found=false for unknown hashes.
func (r *Registry) PuzzleStatus(ctx context.Context, solutionHash string) (status PuzzleStatus, found bool, err error) {
	res, err := r.do(ctx, request{kind: reqStatus, hash: solutionHash})
	return res.status, res.found, err
}

func (r *Registry) UnsolvedByIndex(ctx context.Context, index int) (hash string, found bool, err error) {
	res, err := r.do(ctx, request{kind: reqUnsolvedAt, index: index})
	return res.hash, res.found, err
}

func (r *Registry) UnsolvedPuzzles(ctx context.Context) (UnsolvedPuzzles, error) {
	res, err := r.do(ctx, request{kind: reqUnsolved})
	return res.unsolved, err
}

// ExportSnapshot captures the whole registry state between two operations.
func (r *Registry) ExportSnapshot(ctx context.Context) (snapshot.RegistryV1, error) {
	res, err := r.do(ctx, request{kind: reqExport})
	return res.snap, err
}

type noopMetrics struct{}

func (noopMetrics) CreateAttempt(string)             {}
func (noopMetrics) SolveAttempt(string)              {}
func (noopMetrics) UnsolvedPuzzles(int)              {}
func (noopMetrics) OpDuration(string, time.Duration) {}

// logDispatcher is used until a real dispatcher is configured.
type logDispatcher struct{ logger *log.Logger }

func (d logDispatcher) Dispatch(p Payout) {
	d.logger.Printf("no reward dispatcher configured; payout %s of %s to %s not sent", p.ID, p.Amount, p.To)
}
